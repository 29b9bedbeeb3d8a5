package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/jem-cart/pkg/config"
	"github.com/angelmondragon/jem-cart/pkg/db"
	"github.com/angelmondragon/jem-cart/pkg/logger"
	"github.com/angelmondragon/jem-cart/pkg/metrics"
	"github.com/angelmondragon/jem-cart/pkg/migrate"
	"github.com/angelmondragon/jem-cart/pkg/outbox"
	"github.com/angelmondragon/jem-cart/pkg/pubsub"
)

const serviceName = "jem-outbox-publisher"

func main() {
	if err := godotenv.Load(); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "topic": cfg.PubSub.CartTopic})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shut down")
}

// run owns every resource it opens; errors from closing them are folded into
// the returned error.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	// Only the postgres store writes outbox rows.
	if cfg.Cart.Store != config.CartStorePostgres {
		return fmt.Errorf("outbox publisher requires the %s cart store, got %q", config.CartStorePostgres, cfg.Cart.Store)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() { err = multierr.Append(err, pubsubClient.Close()) }()

	cartPublisher := pubsubClient.CartPublisher()
	// Stop flushes outstanding messages and must run before the client closes.
	defer cartPublisher.Stop()

	var recorder outboxRecorder
	if cfg.FeatureFlags.Metrics {
		recorder = metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)
	}

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		PubSub:     pubsubClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Publisher:  newGCPPublisher(cartPublisher),
		Metrics:    recorder,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if recorder != nil {
		g.Go(func() error { return serveMetrics(gctx, ":"+cfg.App.Port) })
	}
	g.Go(func() error {
		logg.Info(gctx, "outbox publisher started")
		if err := service.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// serveMetrics exposes /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
