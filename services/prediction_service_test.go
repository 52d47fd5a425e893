package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkulina/housing-pricing/models"
	"github.com/mkulina/housing-pricing/store"
)

type fakeEstimator struct {
	mu    sync.Mutex
	price float64
	err   error
	calls int
}

func (f *fakeEstimator) Estimate(_ context.Context, _, _ int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.price, f.err
}

func (f *fakeEstimator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingStore struct {
	*store.MemoryStore
	err error
}

func (s *failingStore) Insert(context.Context, int, int, float64) (*models.Prediction, error) {
	return nil, s.err
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	c.sets++
	return nil
}

func (c *mapCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	if raw, ok := c.data[key]; ok {
		_ = json.Unmarshal(raw, &n)
	}
	n++
	raw, _ := json.Marshal(n)
	c.data[key] = raw
	return n, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []PredictionEvent
	err    error
	// delay is applied to created events before they are recorded.
	delay time.Duration
}

func (p *recordingPublisher) PublishEvent(_ context.Context, e PredictionEvent) error {
	if e.Type == EventPredictionCreated && p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Events() []PredictionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PredictionEvent(nil), p.events...)
}

func newTestService(t *testing.T, est Estimator, st store.Store, opts ...Option) *PredictionService {
	t.Helper()
	svc := NewPredictionService(est, st, zap.NewNop(), opts...)
	t.Cleanup(svc.Close)
	return svc
}

func TestPredictStoresAndFormats(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(t, &fakeEstimator{price: 250000.0}, st)
	ctx := context.Background()

	res, err := svc.Predict(ctx, 1500, 3)
	require.NoError(t, err)
	assert.Equal(t, "250,000.00", res.FormattedPrice)
	assert.InDelta(t, 250000.0, res.PredictedPrice, 1e-9)

	stored, err := st.Find(ctx, res.PredictionID)
	require.NoError(t, err)
	assert.Equal(t, 1500, stored.SquareFootage)
	assert.Equal(t, 3, stored.Bedrooms)

	history, err := svc.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, HistoryEntry{
		ID:             res.PredictionID,
		SquareFootage:  "1,500",
		Bedrooms:       3,
		PredictedPrice: "$250,000.00",
		CreatedAt:      FormatTimestamp(stored.CreatedAt),
	}, history[0])
}

func TestPredictRejectsInvalidInputWithoutSideEffects(t *testing.T) {
	est := &fakeEstimator{price: 1}
	st := store.NewMemory()
	svc := newTestService(t, est, st)

	_, err := svc.Predict(context.Background(), 50, 11)

	var verrs models.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{models.FieldSquareFootage, models.FieldBedrooms}, verrs.Fields())
	assert.NotErrorIs(t, err, ErrPredictionFailed)
	assert.Equal(t, 0, est.Calls())
	rows, _ := st.ListRecent(context.Background(), 20)
	assert.Empty(t, rows)
}

func TestPredictEstimatorFailureWritesNothing(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"non-zero exit", &EstimationFailure{ExitCode: 1, Stderr: "Error: model missing"}},
		{"timeout", &EstimationFailure{TimedOut: true, Err: context.DeadlineExceeded}},
		{"unparseable output", &EstimationParseError{Output: "nan?"}},
		{"other", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemory()
			pub := &recordingPublisher{}
			svc := newTestService(t, &fakeEstimator{err: tt.err}, st, WithPublishers(pub))

			_, err := svc.Predict(context.Background(), 1500, 3)
			svc.Wait()

			assert.ErrorIs(t, err, ErrPredictionFailed)
			assert.ErrorIs(t, err, tt.err)
			rows, _ := st.ListRecent(context.Background(), 20)
			assert.Empty(t, rows)
			assert.Empty(t, pub.Events())
		})
	}
}

func TestPredictStoreFailure(t *testing.T) {
	storeErr := errors.New("disk full")
	svc := newTestService(t, &fakeEstimator{price: 1}, &failingStore{MemoryStore: store.NewMemory(), err: storeErr})

	_, err := svc.Predict(context.Background(), 1500, 3)

	assert.ErrorIs(t, err, ErrPredictionFailed)
	assert.ErrorIs(t, err, storeErr)
}

func TestHistoryOrderingAndLimit(t *testing.T) {
	st := store.NewMemory()
	est := &fakeEstimator{price: 100000}
	svc := newTestService(t, est, st, WithHistoryLimit(3))
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		res, err := svc.Predict(ctx, 1000+i, 2)
		require.NoError(t, err)
		ids = append(ids, res.PredictionID)
		time.Sleep(2 * time.Millisecond)
	}

	history, err := svc.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ids[4], history[0].ID)
	assert.Equal(t, ids[3], history[1].ID)
	assert.Equal(t, ids[2], history[2].ID)

	history, err = svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ids[4], history[0].ID)

	history, err = svc.History(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestHistoryLimitNeverExceedsMaximum(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(t, &fakeEstimator{price: 1}, st, WithHistoryLimit(100))
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := st.Insert(ctx, 1000+i, 2, 1)
		require.NoError(t, err)
	}

	assert.Equal(t, models.MaxHistoryLimit, svc.HistoryLimit())
	history, err := svc.History(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, history, models.MaxHistoryLimit)
}

func TestHistoryEmpty(t *testing.T) {
	svc := newTestService(t, &fakeEstimator{}, store.NewMemory())

	history, err := svc.History(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestHistoryCacheIsInvalidatedByWrites(t *testing.T) {
	cache := newMapCache()
	st := store.NewMemory()
	svc := newTestService(t, &fakeEstimator{price: 200000}, st, WithHistoryCache(cache, time.Minute))
	ctx := context.Background()

	history, err := svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, 1, cache.sets)

	// Served from cache.
	_, err = svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	res, err := svc.Predict(ctx, 1500, 3)
	require.NoError(t, err)

	history, err = svc.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.PredictionID, history[0].ID)

	deleted, err := svc.Delete(ctx, res.PredictionID)
	require.NoError(t, err)
	require.True(t, deleted)

	history, err = svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDelete(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, &fakeEstimator{price: 250000}, store.NewMemory(), WithPublishers(pub))
	ctx := context.Background()

	res, err := svc.Predict(ctx, 1500, 3)
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, res.PredictionID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.Delete(ctx, res.PredictionID)
	require.NoError(t, err)
	assert.False(t, deleted)

	svc.Wait()
	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventPredictionCreated, events[0].Type)
	require.NotNil(t, events[0].Prediction)
	assert.Equal(t, "$250,000.00", events[0].Prediction.PredictedPrice)
	assert.Equal(t, EventPredictionDeleted, events[1].Type)
	assert.Equal(t, res.PredictionID, events[1].PredictionID)
}

func TestGet(t *testing.T) {
	svc := newTestService(t, &fakeEstimator{price: 320000}, store.NewMemory())
	ctx := context.Background()

	res, err := svc.Predict(ctx, 2000, 4)
	require.NoError(t, err)

	entry, err := svc.Get(ctx, res.PredictionID)
	require.NoError(t, err)
	assert.Equal(t, "2,000", entry.SquareFootage)
	assert.Equal(t, "$320,000.00", entry.PredictedPrice)

	_, err = svc.Get(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPublishFailureDoesNotFailPredict(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newTestService(t, &fakeEstimator{price: 1}, store.NewMemory(), WithPublishers(pub))

	_, err := svc.Predict(context.Background(), 1500, 3)
	svc.Wait()

	assert.NoError(t, err)
	assert.Len(t, pub.Events(), 1)
}

func TestEventsArriveInPublishOrder(t *testing.T) {
	pub := &recordingPublisher{delay: 20 * time.Millisecond}
	svc := newTestService(t, &fakeEstimator{price: 1}, store.NewMemory(), WithPublishers(pub))
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		res, err := svc.Predict(ctx, 1500, 3)
		require.NoError(t, err)
		ids = append(ids, res.PredictionID)
		deleted, err := svc.Delete(ctx, res.PredictionID)
		require.NoError(t, err)
		require.True(t, deleted)
	}
	svc.Wait()

	events := pub.Events()
	require.Len(t, events, 6)
	for i, id := range ids {
		assert.Equal(t, EventPredictionCreated, events[2*i].Type)
		assert.Equal(t, id, events[2*i].PredictionID)
		assert.Equal(t, EventPredictionDeleted, events[2*i+1].Type)
		assert.Equal(t, id, events[2*i+1].PredictionID)
	}
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	pub := &recordingPublisher{delay: 10 * time.Millisecond}
	svc := NewPredictionService(&fakeEstimator{price: 1}, store.NewMemory(), zap.NewNop(), WithPublishers(pub))

	for i := 0; i < 5; i++ {
		_, err := svc.Predict(context.Background(), 1500, 3)
		require.NoError(t, err)
	}
	svc.Close()
	svc.Close()

	assert.Len(t, pub.Events(), 5)
}
