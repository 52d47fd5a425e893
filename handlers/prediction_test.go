package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkulina/housing-pricing/config"
	"github.com/mkulina/housing-pricing/services"
	"github.com/mkulina/housing-pricing/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEstimator struct {
	mu    sync.Mutex
	price float64
	err   error
	calls int
}

func (s *stubEstimator) Estimate(context.Context, int, int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.price, s.err
}

type testServer struct {
	router    *gin.Engine
	store     *store.MemoryStore
	estimator *stubEstimator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemory()
	est := &stubEstimator{price: 250000.0}
	svc := services.NewPredictionService(est, st, zap.NewNop())

	router, err := NewRouter(RouterDeps{
		Service: svc,
		Store:   st,
		Limiter: services.NewSlidingWindowLimiter(30, time.Minute),
		Cache:   services.NewNoopCache(zap.NewNop()),
		Config:  &config.Config{CORS: config.CORSConfig{AllowedOrigins: "*"}},
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	return &testServer{router: router, store: st, estimator: est}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "192.0.2.10:5555"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestPredictThenHistory(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/predict", `{"square_footage":1500,"bedrooms":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "250,000.00", body["predicted_price"])
	id := body["prediction_id"].(float64)
	assert.Positive(t, id)

	w = s.do(http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["success"])
	predictions := body["predictions"].([]interface{})
	require.Len(t, predictions, 1)
	first := predictions[0].(map[string]interface{})
	assert.Equal(t, id, first["id"])
	assert.Equal(t, "1,500", first["square_footage"])
	assert.Equal(t, float64(3), first["bedrooms"])
	assert.Equal(t, "$250,000.00", first["predicted_price"])
	assert.NotEmpty(t, first["created_at"])
}

func TestHistoryEmpty(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/history", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"predictions":[]}`, w.Body.String())
}

func TestHistoryCapAndOrder(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := s.store.Insert(ctx, 1000+i, 2, 100000)
		require.NoError(t, err)
	}

	body := decode(t, s.do(http.MethodGet, "/history", ""))
	predictions := body["predictions"].([]interface{})
	require.Len(t, predictions, 20)
	assert.Equal(t, float64(25), predictions[0].(map[string]interface{})["id"])
	assert.Equal(t, float64(6), predictions[19].(map[string]interface{})["id"])

	body = decode(t, s.do(http.MethodGet, "/api/history?limit=5", ""))
	assert.Len(t, body["predictions"].([]interface{}), 5)

	body = decode(t, s.do(http.MethodGet, "/history?limit=500", ""))
	assert.Len(t, body["predictions"].([]interface{}), 20)
}

func TestPredictValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		fields []string
		msg    string
	}{
		{
			name:   "missing both",
			body:   `{}`,
			fields: []string{"square_footage", "bedrooms"},
			msg:    "The square footage field is required. (and 1 more error)",
		},
		{
			name:   "square footage too small",
			body:   `{"square_footage":99,"bedrooms":3}`,
			fields: []string{"square_footage"},
			msg:    "The square footage field must be at least 100.",
		},
		{
			name:   "bedrooms too many",
			body:   `{"square_footage":1500,"bedrooms":11}`,
			fields: []string{"bedrooms"},
			msg:    "The bedrooms field must not be greater than 10.",
		},
		{
			name:   "not an integer",
			body:   `{"square_footage":"big","bedrooms":2.5}`,
			fields: []string{"square_footage", "bedrooms"},
			msg:    "The square footage field must be an integer. (and 1 more error)",
		},
		{
			name:   "malformed json",
			body:   `{"square_footage":`,
			fields: []string{"square_footage", "bedrooms"},
		},
		{
			name:   "null field",
			body:   `{"square_footage":null,"bedrooms":3}`,
			fields: []string{"square_footage"},
			msg:    "The square footage field is required.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			w := s.do(http.MethodPost, "/predict", tt.body)

			require.Equal(t, http.StatusUnprocessableEntity, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			errs := body["errors"].(map[string]interface{})
			assert.Len(t, errs, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, errs, f)
			}
			if tt.msg != "" {
				assert.Equal(t, tt.msg, body["message"])
			}
			assert.Zero(t, s.estimator.calls)
		})
	}
}

func TestPredictAcceptsBoundsAndNumericStrings(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"square_footage":100,"bedrooms":1}`,
		`{"square_footage":10000,"bedrooms":10}`,
		`{"square_footage":"1500","bedrooms":"3"}`,
	} {
		w := s.do(http.MethodPost, "/predict", body)
		assert.Equal(t, http.StatusOK, w.Code, body)
	}
}

func TestPredictRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t)
	body := `{"square_footage":1500,"bedrooms":3,"note":"` + strings.Repeat("x", MaxPredictBodyBytes) + `"}`

	w := s.do(http.MethodPost, "/predict", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Request body too large."}`, w.Body.String())
	assert.Zero(t, s.estimator.calls)
}

func TestPredictEstimatorFailure(t *testing.T) {
	s := newTestServer(t)
	s.estimator.err = &services.EstimationFailure{ExitCode: 1, Stderr: "Traceback: secret internals"}

	w := s.do(http.MethodPost, "/predict", `{"square_footage":1500,"bedrooms":3}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Prediction failed. Please try again."}`, w.Body.String())
	rows, err := s.store.ListRecent(context.Background(), 20)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPredictRateLimited(t *testing.T) {
	s := newTestServer(t)

	// Invalid requests do not consume quota.
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/predict", `{}`).Code)
	}
	for i := 0; i < 30; i++ {
		w := s.do(http.MethodPost, "/predict", `{"square_footage":1500,"bedrooms":3}`)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := s.do(http.MethodPost, "/api/predict", `{"square_footage":1500,"bedrooms":3}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
	assert.Equal(t, 30, s.estimator.calls)
}

func TestDeletePrediction(t *testing.T) {
	s := newTestServer(t)
	p, err := s.store.Insert(context.Background(), 1500, 3, 250000)
	require.NoError(t, err)
	path := "/predictions/" + jsonID(p.ID)

	w := s.do(http.MethodDelete, path, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Prediction deleted."}`, w.Body.String())

	w = s.do(http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Prediction not found."}`, w.Body.String())

	body := decode(t, s.do(http.MethodGet, "/history", ""))
	assert.Empty(t, body["predictions"])
}

func TestDeleteMissingOrInvalidID(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/predictions/999", "/api/predictions/999", "/predictions/abc", "/predictions/-1"} {
		w := s.do(http.MethodDelete, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.JSONEq(t, `{"success":false,"message":"Prediction not found."}`, w.Body.String(), path)
	}
}

func TestGetPrediction(t *testing.T) {
	s := newTestServer(t)
	p, err := s.store.Insert(context.Background(), 2000, 4, 320000)
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/predictions/"+jsonID(p.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	prediction := decode(t, w)["prediction"].(map[string]interface{})
	assert.Equal(t, "2,000", prediction["square_footage"])
	assert.Equal(t, "$320,000.00", prediction["predicted_price"])

	w = s.do(http.MethodGet, "/predictions/42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
