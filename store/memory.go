package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mkulina/housing-pricing/models"
)

// MemoryStore keeps predictions in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   []models.Prediction
}

func NewMemory() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Insert(_ context.Context, squareFootage, bedrooms int, price float64) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := models.Prediction{
		ID:             s.nextID,
		SquareFootage:  squareFootage,
		Bedrooms:       bedrooms,
		PredictedPrice: price,
		CreatedAt:      now(),
	}
	s.nextID++
	s.rows = append(s.rows, p)
	return &p, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]models.Prediction, error) {
	if limit <= 0 {
		return []models.Prediction{}, nil
	}
	s.mu.RLock()
	out := make([]models.Prediction, len(s.rows))
	copy(out, s.rows)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Find(_ context.Context, id int64) (*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.rows {
		if p.ID == id {
			found := p
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.rows {
		if p.ID == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
