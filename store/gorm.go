package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mkulina/housing-pricing/models"
)

// predictionRow is the gorm mapping of a prediction. It stays private so the
// domain value carries no persistence tags.
type predictionRow struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SquareFootage  int       `gorm:"column:square_footage;not null"`
	Bedrooms       int       `gorm:"column:bedrooms;not null"`
	PredictedPrice float64   `gorm:"column:predicted_price;type:double precision;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index:idx_predictions_created_at,sort:desc"`
}

func (predictionRow) TableName() string { return "predictions" }

func (r predictionRow) toModel() models.Prediction {
	return models.Prediction{
		ID:             r.ID,
		SquareFootage:  r.SquareFootage,
		Bedrooms:       r.Bedrooms,
		PredictedPrice: r.PredictedPrice,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

// GormStore implements Store on PostgreSQL through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return now()
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return NewGorm(db), nil
}

// NewGorm wraps an already opened gorm handle.
func NewGorm(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate(ctx context.Context) error {
	return eris.Wrap(s.db.WithContext(ctx).AutoMigrate(&predictionRow{}), "postgres: migrate")
}

func (s *GormStore) Insert(ctx context.Context, squareFootage, bedrooms int, price float64) (*models.Prediction, error) {
	row := predictionRow{
		SquareFootage:  squareFootage,
		Bedrooms:       bedrooms,
		PredictedPrice: price,
		CreatedAt:      now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, eris.Wrap(err, "postgres: insert prediction")
	}
	p := row.toModel()
	return &p, nil
}

func (s *GormStore) ListRecent(ctx context.Context, limit int) ([]models.Prediction, error) {
	if limit <= 0 {
		return []models.Prediction{}, nil
	}
	var rows []predictionRow
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list predictions")
	}

	out := make([]models.Prediction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *GormStore) Find(ctx context.Context, id int64) (*models.Prediction, error) {
	var row predictionRow
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find prediction %d", id)
	}
	p := row.toModel()
	return &p, nil
}

func (s *GormStore) Delete(ctx context.Context, id int64) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&predictionRow{}, id)
	if res.Error != nil {
		return false, eris.Wrapf(res.Error, "postgres: delete prediction %d", id)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return eris.Wrap(err, "postgres: sql handle")
	}
	return eris.Wrap(sqlDB.PingContext(ctx), "postgres: ping")
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return eris.Wrap(err, "postgres: sql handle")
	}
	return sqlDB.Close()
}
