package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Hatesnake69/tg-review-data-collector/internal/config"
	"github.com/Hatesnake69/tg-review-data-collector/internal/database"
	"github.com/Hatesnake69/tg-review-data-collector/internal/event"
	"github.com/Hatesnake69/tg-review-data-collector/internal/feed"
	"github.com/Hatesnake69/tg-review-data-collector/internal/fetcher"
	handler "github.com/Hatesnake69/tg-review-data-collector/internal/handler/http"
	"github.com/Hatesnake69/tg-review-data-collector/internal/health"
	"github.com/Hatesnake69/tg-review-data-collector/internal/httpclient"
	appkafka "github.com/Hatesnake69/tg-review-data-collector/internal/kafka"
	"github.com/Hatesnake69/tg-review-data-collector/internal/repository/postgres"
	"github.com/Hatesnake69/tg-review-data-collector/internal/runlock"
	"github.com/Hatesnake69/tg-review-data-collector/internal/service"
	"github.com/Hatesnake69/tg-review-data-collector/internal/tracing"
)

const runLockKey = "review-collector:pipeline:run"

// App wires together all dependencies and runs the review collector.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	reviewsDB  *pgxpool.Pool
	statsDB    *pgxpool.Pool
	rdb        *redis.Client
	producer   *appkafka.Producer
	httpServer *http.Server

	shutdownTracing func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownTracing, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "review-collector",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	// Connect both databases.
	poolOpts := database.DefaultPoolOptions()
	poolOpts.MaxConns = cfg.DBMaxConns
	poolOpts.MinConns = cfg.DBMinConns

	reviewsDB, err := database.Connect(ctx, cfg.ReviewsDB(), poolOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("connect reviews database: %w", err)
	}
	statsDB, err := database.Connect(ctx, cfg.StatsDB(), poolOpts, logger)
	if err != nil {
		reviewsDB.Close()
		return nil, fmt.Errorf("connect stats database: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("reviews_db", cfg.ReviewsDBName),
		slog.String("stats_db", cfg.StatsDBName),
	)

	prometheus.MustRegister(
		database.NewPoolCollector(reviewsDB, cfg.ReviewsDBName),
		database.NewPoolCollector(statsDB, cfg.StatsDBName),
	)

	// Repositories own their schema.
	reviewRepo := postgres.NewReviewRepository(reviewsDB, logger)
	statRepo := postgres.NewStatRepository(statsDB, logger)
	if err := reviewRepo.EnsureSchema(ctx); err != nil {
		reviewsDB.Close()
		statsDB.Close()
		return nil, fmt.Errorf("ensure reviews schema: %w", err)
	}
	if err := statRepo.EnsureSchema(ctx); err != nil {
		reviewsDB.Close()
		statsDB.Close()
		return nil, fmt.Errorf("ensure stats schema: %w", err)
	}

	// Redis backs the single-active-run lock.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		reviewsDB.Close()
		statsDB.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	// Kafka producer.
	kafkaCfg := appkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := appkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Feed client: retrying HTTP client behind a circuit breaker, paced by a
	// rate limiter.
	httpc := httpclient.New(httpclient.DefaultConfig())
	breaker := httpclient.NewBreakerClient(httpc, httpclient.DefaultBreakerConfig("review-feed"), logger)
	feedClient := feed.NewClient(cfg.FeedBaseURL, breaker, cfg.FeedRPS, logger)

	reviewFetcher := fetcher.New(feedClient, fetcher.Config{
		AppID:       cfg.AppID,
		Languages:   cfg.Languages,
		PageLimit:   cfg.PageLimit,
		RetryBudget: cfg.RetryBudget,
		RetryDelay:  cfg.RetryDelay,
	}, logger)

	// Build the dependency graph.
	eventProducer := event.NewProducer(producer, logger)
	lock := runlock.New(rdb, runLockKey, cfg.RunLockTTL)
	pipeline := service.NewPipelineService(
		reviewFetcher, reviewRepo, statRepo, eventProducer, lock,
		cfg.AppID, cfg.Markets, logger,
	)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("reviews-db", func(ctx context.Context) error {
		return reviewsDB.Ping(ctx)
	})
	healthHandler.Register("stats-db", func(ctx context.Context) error {
		return statsDB.Ping(ctx)
	})
	healthHandler.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.Register("kafka", producer.Ping)

	// HTTP router.
	router := handler.NewRouter(pipeline, healthHandler, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // fetch runs are synchronous
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:             cfg,
		logger:          logger,
		reviewsDB:       reviewsDB,
		statsDB:         statsDB,
		rdb:             rdb,
		producer:        producer,
		httpServer:      httpServer,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.reviewsDB.Close()
	a.statsDB.Close()

	if err := a.shutdownTracing(shutdownCtx); err != nil {
		a.logger.Error("tracing shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
