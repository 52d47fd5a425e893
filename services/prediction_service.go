package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mkulina/housing-pricing/metrics"
	"github.com/mkulina/housing-pricing/models"
	"github.com/mkulina/housing-pricing/store"
)

const (
	DefaultHistoryLimit = models.MaxHistoryLimit

	historyGenerationKey = "predictions:history:generation"
	publishTimeout       = 2 * time.Second
	publishQueueSize     = 256
)

// HistoryCache is the subset of CacheService used for history responses.
type HistoryCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

type PredictionResult struct {
	PredictionID   int64
	PredictedPrice float64
	FormattedPrice string
}

// HistoryEntry is the display form of a stored prediction.
type HistoryEntry struct {
	ID             int64  `json:"id"`
	SquareFootage  string `json:"square_footage"`
	Bedrooms       int    `json:"bedrooms"`
	PredictedPrice string `json:"predicted_price"`
	CreatedAt      string `json:"created_at"`
}

func NewHistoryEntry(p models.Prediction) HistoryEntry {
	return HistoryEntry{
		ID:             p.ID,
		SquareFootage:  FormatCount(p.SquareFootage),
		Bedrooms:       p.Bedrooms,
		PredictedPrice: FormatCurrency(p.PredictedPrice),
		CreatedAt:      FormatTimestamp(p.CreatedAt),
	}
}

// PredictionService runs estimate, persist and respond as one operation and
// serves the read/delete side straight from the store.
type PredictionService struct {
	estimator    Estimator
	store        store.Store
	cache        HistoryCache
	cacheTTL     time.Duration
	historyLimit int
	publishers   []EventPublisher
	queues       []chan PredictionEvent
	logger       *zap.Logger
	pending      sync.WaitGroup
	workers      sync.WaitGroup
	closeOnce    sync.Once
}

type Option func(*PredictionService)

// WithHistoryCache caches history listings for ttl. Every write invalidates
// them by bumping a generation counter.
func WithHistoryCache(cache HistoryCache, ttl time.Duration) Option {
	return func(s *PredictionService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

func WithPublishers(publishers ...EventPublisher) Option {
	return func(s *PredictionService) {
		s.publishers = append(s.publishers, publishers...)
	}
}

// WithHistoryLimit caps how many entries History returns. Values outside
// 1..models.MaxHistoryLimit are ignored.
func WithHistoryLimit(limit int) Option {
	return func(s *PredictionService) {
		if limit > 0 && limit <= models.MaxHistoryLimit {
			s.historyLimit = limit
		}
	}
}

func NewPredictionService(estimator Estimator, st store.Store, logger *zap.Logger, opts ...Option) *PredictionService {
	s := &PredictionService{
		estimator:    estimator,
		store:        st,
		historyLimit: DefaultHistoryLimit,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range s.publishers {
		queue := make(chan PredictionEvent, publishQueueSize)
		s.queues = append(s.queues, queue)
		s.workers.Add(1)
		go s.deliver(p, queue)
	}
	return s
}

func (s *PredictionService) HistoryLimit() int { return s.historyLimit }

// Predict estimates a price, stores it and returns the stored id. Inputs out
// of range yield models.ValidationErrors; every later failure matches
// ErrPredictionFailed and leaves the store untouched.
func (s *PredictionService) Predict(ctx context.Context, squareFootage, bedrooms int) (*PredictionResult, error) {
	if errs := models.ValidateInput(squareFootage, bedrooms); errs != nil {
		return nil, errs
	}

	price, err := s.estimator.Estimate(ctx, squareFootage, bedrooms)
	if err != nil {
		s.logEstimationFailure(err, squareFootage, bedrooms)
		return nil, &predictionError{stage: "estimate", err: err}
	}

	p, err := s.store.Insert(ctx, squareFootage, bedrooms, price)
	if err != nil {
		metrics.PredictionsFailed.WithLabelValues(metrics.ReasonStore).Inc()
		s.logger.Error("prediction store write failed",
			zap.Int("square_footage", squareFootage),
			zap.Int("bedrooms", bedrooms),
			zap.Float64("price", price),
			zap.Error(err),
		)
		return nil, &predictionError{stage: "store", err: err}
	}

	metrics.PredictionsCreated.Inc()
	s.invalidateHistory(ctx)
	entry := NewHistoryEntry(*p)
	s.publish(newEvent(EventPredictionCreated, p.ID, &entry))

	return &PredictionResult{
		PredictionID:   p.ID,
		PredictedPrice: p.PredictedPrice,
		FormattedPrice: FormatPrice(p.PredictedPrice),
	}, nil
}

func (s *PredictionService) logEstimationFailure(err error, squareFootage, bedrooms int) {
	fields := []zap.Field{
		zap.Int("square_footage", squareFootage),
		zap.Int("bedrooms", bedrooms),
		zap.Error(err),
	}

	var failure *EstimationFailure
	var parseErr *EstimationParseError
	switch {
	case errors.As(err, &parseErr):
		metrics.PredictionsFailed.WithLabelValues(metrics.ReasonParse).Inc()
		fields = append(fields, zap.String("output", parseErr.Output))
	case errors.As(err, &failure):
		metrics.PredictionsFailed.WithLabelValues(metrics.ReasonEstimator).Inc()
		fields = append(fields,
			zap.Int("exit_code", failure.ExitCode),
			zap.Bool("timed_out", failure.TimedOut),
			zap.String("stderr", failure.Stderr),
		)
	default:
		metrics.PredictionsFailed.WithLabelValues(metrics.ReasonEstimator).Inc()
	}
	s.logger.Error("prediction failed", fields...)
}

// History returns up to limit entries, newest first. A limit outside
// 1..HistoryLimit() falls back to HistoryLimit().
func (s *PredictionService) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	key, cacheable := s.historyKey(ctx)
	if cacheable {
		var cached []HistoryEntry
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("history cache read failed", zap.String("key", key), zap.Error(err))
		}
		if hit && cached != nil {
			return truncate(cached, limit), nil
		}
	}

	rows, err := s.store.ListRecent(ctx, s.historyLimit)
	if err != nil {
		return nil, eris.Wrap(err, "history: list recent")
	}
	entries := make([]HistoryEntry, 0, len(rows))
	for _, p := range rows {
		entries = append(entries, NewHistoryEntry(p))
	}

	if cacheable {
		if err := s.cache.Set(ctx, key, entries, s.cacheTTL); err != nil {
			s.logger.Warn("history cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return truncate(entries, limit), nil
}

// historyKey names the cache entry for the current history generation.
func (s *PredictionService) historyKey(ctx context.Context) (string, bool) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return "", false
	}
	var generation int64
	if _, err := s.cache.Get(ctx, historyGenerationKey, &generation); err != nil {
		s.logger.Warn("history generation read failed", zap.Error(err))
		return "", false
	}
	return fmt.Sprintf("predictions:history:%d:%d", generation, s.historyLimit), true
}

func (s *PredictionService) invalidateHistory(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Incr(ctx, historyGenerationKey); err != nil {
		s.logger.Warn("history cache invalidation failed", zap.Error(err))
	}
}

func truncate(entries []HistoryEntry, limit int) []HistoryEntry {
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

// Get returns one prediction in display form, or store.ErrNotFound.
func (s *PredictionService) Get(ctx context.Context, id int64) (*HistoryEntry, error) {
	p, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := NewHistoryEntry(*p)
	return &entry, nil
}

// Delete removes a prediction and reports whether it existed.
func (s *PredictionService) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, eris.Wrapf(err, "delete prediction %d", id)
	}
	if !deleted {
		return false, nil
	}

	metrics.PredictionsDeleted.Inc()
	s.invalidateHistory(ctx)
	s.publish(newEvent(EventPredictionDeleted, id, nil))
	return true, nil
}

// publish queues the event for every publisher. Each publisher has a single
// worker, so it sees events in the order they were published. A full queue
// drops the event.
func (s *PredictionService) publish(event PredictionEvent) {
	for _, queue := range s.queues {
		s.pending.Add(1)
		select {
		case queue <- event:
		default:
			s.pending.Done()
			s.logger.Warn("prediction event queue full, dropping event",
				zap.String("type", event.Type),
				zap.Int64("prediction_id", event.PredictionID),
			)
		}
	}
}

func (s *PredictionService) deliver(p EventPublisher, queue <-chan PredictionEvent) {
	defer s.workers.Done()
	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.PublishEvent(ctx, event); err != nil {
			s.logger.Warn("prediction event publish failed",
				zap.String("type", event.Type),
				zap.Int64("prediction_id", event.PredictionID),
				zap.Error(err),
			)
		}
		cancel()
		s.pending.Done()
	}
}

// Wait blocks until every queued event has been delivered or has failed.
func (s *PredictionService) Wait() {
	s.pending.Wait()
}

// Close drains the publish queues and stops their workers. Predict and
// Delete must not be called afterwards.
func (s *PredictionService) Close() {
	s.closeOnce.Do(func() {
		for _, queue := range s.queues {
			close(queue)
		}
		s.workers.Wait()
	})
}
