// Package store persists prediction records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mkulina/housing-pricing/models"
)

// ErrNotFound is returned by Find when no record has the requested id.
var ErrNotFound = errors.New("prediction not found")

// Store is the persistence contract for predictions. Insert and Delete are
// atomic single-record operations; ids are unique and increase monotonically.
type Store interface {
	// Insert assigns id and created_at, writes the record durably and returns it.
	Insert(ctx context.Context, squareFootage, bedrooms int, price float64) (*models.Prediction, error)
	// ListRecent returns at most limit records, newest first (id breaks ties).
	// It returns an empty, non-nil slice when nothing is stored or limit <= 0.
	ListRecent(ctx context.Context, limit int) ([]models.Prediction, error)
	Find(ctx context.Context, id int64) (*models.Prediction, error)
	// Delete reports whether a record existed and was removed.
	Delete(ctx context.Context, id int64) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// now is the persistence clock; timestamps are truncated to microseconds so
// every backend round-trips them unchanged.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
