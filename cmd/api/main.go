package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/jem-cart/api/controllers"
	"github.com/angelmondragon/jem-cart/api/routes"
	"github.com/angelmondragon/jem-cart/internal/cart"
	"github.com/angelmondragon/jem-cart/internal/catalog"
	"github.com/angelmondragon/jem-cart/pkg/config"
	"github.com/angelmondragon/jem-cart/pkg/db"
	"github.com/angelmondragon/jem-cart/pkg/logger"
	"github.com/angelmondragon/jem-cart/pkg/metrics"
	"github.com/angelmondragon/jem-cart/pkg/migrate"
	"github.com/angelmondragon/jem-cart/pkg/outbox"
	"github.com/angelmondragon/jem-cart/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "jem-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "jem-api",
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	readiness := map[string]controllers.Pinger{}
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		closers = append(closers, redisClient.Close)
		readiness["redis"] = redisClient
	} else {
		logg.Warn(ctx, "redis not configured; idempotency replay and rate limiting disabled")
	}

	store, err := buildStore(ctx, cfg, logg, redisClient, readiness, &closers)
	if err != nil {
		return err
	}

	prices, err := catalog.NewClient(
		cfg.Catalog.BaseURL,
		catalog.WithTimeout(cfg.Catalog.Timeout),
		catalog.WithRetries(cfg.Catalog.MaxRetries, cfg.Catalog.RetryBackoff),
	)
	if err != nil {
		return err
	}

	params := cart.ServiceParams{
		Store:             store,
		Prices:            prices,
		Logger:            logg,
		MaxWriteAttempts:  cfg.Cart.MaxWriteAttempts,
		LookupConcurrency: cfg.Cart.LookupConcurrency,
	}
	var metricsHandler http.Handler
	if cfg.FeatureFlags.Metrics {
		params.Metrics = metrics.NewCartMetrics(prometheus.DefaultRegisterer)
		metricsHandler = promhttp.Handler()
	}

	cartService, err := cart.NewService(params)
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"cart_store": cfg.Cart.Store,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, readiness, redisClient, cartService, metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildStore(
	ctx context.Context,
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	readiness map[string]controllers.Pinger,
	closers *[]func() error,
) (cart.Store, error) {
	switch cfg.Cart.Store {
	case config.CartStorePostgres:
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, dbClient.Close)
		readiness["database"] = dbClient

		if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
			return nil, err
		}
		emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
		store, err := cart.NewGormStore(dbClient, cart.WithEventEmitter(emitter))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.CartStoreRedis:
		if redisClient == nil {
			return nil, errors.New("redis cart store requires a redis connection")
		}
		store, err := cart.NewRedisStore(redisClient, cfg.Cart.RedisTTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		logg.Warn(ctx, "using in-memory cart store; carts are lost on restart")
		return cart.NewMemoryStore(), nil
	}
}
