package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mkulina/housing-pricing/config"
	"github.com/mkulina/housing-pricing/metrics"
	"github.com/mkulina/housing-pricing/middleware"
	"github.com/mkulina/housing-pricing/services"
	"github.com/mkulina/housing-pricing/store"
)

type RouterDeps struct {
	Service *services.PredictionService
	Store   store.Store
	Limiter services.Limiter
	// Cache may be nil or a no-op; the live feed is then disabled.
	Cache  *services.CacheService
	Config *config.Config
	Logger *zap.Logger
}

// NewRouter mounts the prediction routes at the root and again under /api.
func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(deps.Config.Server.Proxies()); err != nil {
		return nil, eris.Wrap(err, "router: trusted proxies")
	}

	router.Use(middleware.Chain(deps.Logger)...)
	router.Use(middleware.SetupCORS(deps.Config.CORS))

	router.GET("/health", Health(deps.Store, deps.Logger))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws/predictions", LiveWebSocket(deps.Cache, deps.Logger))

	h := NewPredictionHandler(deps.Service, deps.Logger)
	limit := middleware.RateLimit(deps.Limiter, deps.Logger)
	for _, group := range []*gin.RouterGroup{&router.RouterGroup, router.Group("/api")} {
		group.POST("/predict", h.BindPredict, limit, h.Predict)
		group.GET("/history", h.History)
		group.GET("/predictions/:id", h.GetPrediction)
		group.DELETE("/predictions/:id", h.DeletePrediction)
	}

	return router, nil
}
