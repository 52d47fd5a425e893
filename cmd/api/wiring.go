package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mkulina/housing-pricing/config"
	"github.com/mkulina/housing-pricing/pricing"
	"github.com/mkulina/housing-pricing/services"
)

const (
	rateWindow      = time.Minute
	rateLimitPrefix = "ratelimit:predict:"
)

// newEstimator returns the estimator selected by cfg.Estimator.Mode.
func newEstimator(cfg config.EstimatorConfig, logger *zap.Logger) (services.Estimator, error) {
	switch cfg.Mode {
	case "process":
		return services.NewProcessEstimator(cfg.Argv(), cfg.Timeout(), cfg.MaxConcurrency, logger), nil
	case "inprocess":
		model, err := pricing.LoadModel(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		return services.NewModelEstimator(model), nil
	}
	return nil, eris.Errorf("unknown estimator mode %q", cfg.Mode)
}

// newLimiter shares quota through redis when it is reachable. Otherwise the
// in-process limiter is used and swept until ctx ends.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig, cache *services.CacheService) services.Limiter {
	if cache != nil && cache.Available() {
		return services.NewRedisLimiter(cache.Client(), rateLimitPrefix, cfg.PerMinute, rateWindow)
	}
	limiter := services.NewSlidingWindowLimiter(cfg.PerMinute, rateWindow)
	go limiter.Run(ctx, rateWindow)
	return limiter
}

// newCache connects to redis when configured. Failures degrade to the no-op
// cache.
func newCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *services.CacheService {
	if !cfg.Enabled() {
		return services.NewNoopCache(logger)
	}
	cache, err := services.NewCacheService(ctx, cfg, logger)
	if err != nil {
		logger.Warn("redis unavailable, continuing without cache, live feed and shared rate limits",
			zap.String("addr", cfg.Addr()),
			zap.Error(err),
		)
	}
	return cache
}

// newPublishers collects the event sinks that are configured.
func newPublishers(cfg config.MQTTConfig, cache *services.CacheService, logger *zap.Logger) ([]services.EventPublisher, func()) {
	var publishers []services.EventPublisher
	closeFn := func() {}

	if cache.Available() {
		publishers = append(publishers, services.NewRedisEvents(cache, services.LiveChannel))
	}
	if cfg.URL != "" {
		mqttPub, err := services.NewMQTTPublisher(cfg, logger)
		if err != nil {
			logger.Warn("mqtt unavailable, broker events disabled", zap.String("broker", cfg.URL), zap.Error(err))
		} else {
			publishers = append(publishers, mqttPub)
			closeFn = mqttPub.Close
		}
	}
	return publishers, closeFn
}
