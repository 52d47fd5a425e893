package store

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mkulina/housing-pricing/models"
)

// sqliteTimeLayout is fixed width so lexical order on created_at equals
// chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store using modernc.org/sqlite. Writes go through
// a single mutex so concurrent inserts never race for the database lock.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database bound to a single connection.
func NewSQLite(path string) (*SQLiteStore, error) {
	memory := path == ":memory:"

	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	if !memory {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(FULL)")
	}
	dsn := path + "?" + params.Encode()
	if memory {
		dsn = "file::memory:?" + params.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS predictions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	square_footage  INTEGER NOT NULL CHECK (square_footage BETWEEN 100 AND 10000),
	bedrooms        INTEGER NOT NULL CHECK (bedrooms BETWEEN 1 AND 10),
	predicted_price REAL    NOT NULL CHECK (predicted_price >= 0),
	created_at      TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at DESC, id DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Insert(ctx context.Context, squareFootage, bedrooms int, price float64) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (square_footage, bedrooms, predicted_price, created_at) VALUES (?, ?, ?, ?)`,
		squareFootage, bedrooms, price, createdAt.Format(sqliteTimeLayout),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert prediction")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last insert id")
	}

	return &models.Prediction{
		ID:             id,
		SquareFootage:  squareFootage,
		Bedrooms:       bedrooms,
		PredictedPrice: price,
		CreatedAt:      createdAt,
	}, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]models.Prediction, error) {
	if limit <= 0 {
		return []models.Prediction{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, square_footage, bedrooms, predicted_price, created_at
		FROM predictions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list predictions")
	}
	defer rows.Close()

	out := make([]models.Prediction, 0, limit)
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate predictions")
}

func (s *SQLiteStore) Find(ctx context.Context, id int64) (*models.Prediction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, square_footage, bedrooms, predicted_price, created_at FROM predictions WHERE id = ?`,
		id,
	)
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM predictions WHERE id = ?`, id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete prediction %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row scanner) (*models.Prediction, error) {
	var (
		p         models.Prediction
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.SquareFootage, &p.Bedrooms, &p.PredictedPrice, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan prediction")
	}
	t, err := time.Parse(sqliteTimeLayout, strings.TrimSpace(createdAt))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse created_at %q", createdAt)
	}
	p.CreatedAt = t.UTC()
	return &p, nil
}
