// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure reasons recorded on PredictionsFailed.
const (
	ReasonEstimator = "estimator"
	ReasonParse     = "parse"
	ReasonStore     = "store"
)

var (
	PredictionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "housing_pricing_predictions_created_total",
		Help: "Total number of predictions estimated and stored.",
	})
	PredictionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "housing_pricing_predictions_failed_total",
		Help: "Total number of prediction requests that failed after validation.",
	}, []string{"reason"})
	PredictionsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "housing_pricing_predictions_deleted_total",
		Help: "Total number of predictions deleted.",
	})
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "housing_pricing_rate_limited_total",
		Help: "Total number of prediction requests rejected by the rate limiter.",
	})
	EstimatorDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "housing_pricing_estimator_duration_seconds",
		Help:    "Duration of a single estimator invocation.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "housing_pricing_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "housing_pricing_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
