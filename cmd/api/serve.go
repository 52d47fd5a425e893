package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mkulina/housing-pricing/handlers"
	"github.com/mkulina/housing-pricing/services"
	"github.com/mkulina/housing-pricing/store"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prediction API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		st, err := store.Open(cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()
		if err := store.Migrate(ctx, st); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		cache := newCache(ctx, cfg.Redis, logger)
		defer cache.Close()

		estimator, err := newEstimator(cfg.Estimator, logger)
		if err != nil {
			return eris.Wrap(err, "init estimator")
		}

		publishers, closePublishers := newPublishers(cfg.MQTT, cache, logger)
		defer closePublishers()

		opts := []services.Option{
			services.WithHistoryLimit(cfg.History.Limit),
			services.WithPublishers(publishers...),
		}
		if cache.Available() {
			opts = append(opts, services.WithHistoryCache(cache, cfg.History.CacheTTL()))
		}
		svc := services.NewPredictionService(estimator, st, logger, opts...)
		defer svc.Close()

		gin.SetMode(gin.ReleaseMode)
		router, err := handlers.NewRouter(handlers.RouterDeps{
			Service: svc,
			Store:   st,
			Limiter: newLimiter(ctx, cfg.RateLimit, cache),
			Cache:   cache,
			Config:  cfg,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("starting server",
				zap.Int("port", cfg.Server.Port),
				zap.String("store", cfg.Store.Driver),
				zap.String("estimator", cfg.Estimator.Mode),
				zap.Bool("redis", cache.Available()),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
