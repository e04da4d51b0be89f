package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// PostgresConfig holds connection parameters for one PostgreSQL database.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the PostgreSQL connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// Config holds all configuration for the review collector.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server (pipeline trigger + ops endpoints)
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// Review feed crawl
	AppID       string        `env:"APP_ID" envDefault:"org.telegram.messenger"`
	Markets     []string      `env:"MARKETS" envDefault:"us,ru" envSeparator:","`
	Languages   []string      `env:"LANGUAGES" envDefault:"en,ru" envSeparator:","`
	PageLimit   int           `env:"FEED_PAGE_LIMIT" envDefault:"500"`
	RetryBudget int           `env:"FEED_RETRY_BUDGET" envDefault:"5"`
	RetryDelay  time.Duration `env:"FEED_RETRY_DELAY" envDefault:"5s"`
	FeedBaseURL string        `env:"FEED_BASE_URL" envDefault:"http://localhost:8091"`
	FeedRPS     float64       `env:"FEED_RPS" envDefault:"4"`

	// Raw reviews database
	ReviewsDBHost string `env:"REVIEWS_DB_HOST" envDefault:"localhost"`
	ReviewsDBPort int    `env:"REVIEWS_DB_PORT" envDefault:"5432"`
	ReviewsDBUser string `env:"REVIEWS_DB_USER" envDefault:"reviews"`
	ReviewsDBPass string `env:"REVIEWS_DB_PASSWORD" envDefault:"reviews_secret"`
	ReviewsDBName string `env:"REVIEWS_DB_NAME" envDefault:"reviews_db"`
	ReviewsDBSSL  string `env:"REVIEWS_DB_SSL_MODE" envDefault:"disable"`

	// Aggregate statistics database
	StatsDBHost string `env:"STATS_DB_HOST" envDefault:"localhost"`
	StatsDBPort int    `env:"STATS_DB_PORT" envDefault:"5433"`
	StatsDBUser string `env:"STATS_DB_USER" envDefault:"stats"`
	StatsDBPass string `env:"STATS_DB_PASSWORD" envDefault:"stats_secret"`
	StatsDBName string `env:"STATS_DB_NAME" envDefault:"stats_db"`
	StatsDBSSL  string `env:"STATS_DB_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns int32 `env:"DB_MIN_CONNS" envDefault:"2"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Redis (single-active-run lock)
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RunLockTTL    time.Duration `env:"RUN_LOCK_TTL" envDefault:"2h"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.AppID == "" {
		return nil, fmt.Errorf("APP_ID is required")
	}
	if len(cfg.Markets) == 0 {
		return nil, fmt.Errorf("MARKETS is required")
	}
	if len(cfg.Languages) == 0 {
		return nil, fmt.Errorf("LANGUAGES is required")
	}
	if cfg.PageLimit < 1 {
		return nil, fmt.Errorf("FEED_PAGE_LIMIT must be positive, got %d", cfg.PageLimit)
	}
	if cfg.RetryBudget < 0 {
		return nil, fmt.Errorf("FEED_RETRY_BUDGET must not be negative, got %d", cfg.RetryBudget)
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("FEED_RETRY_DELAY must not be negative, got %s", cfg.RetryDelay)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS is required")
	}
	if cfg.OTELSampleRate < 0 || cfg.OTELSampleRate > 1.0 {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", cfg.OTELSampleRate)
	}
	return cfg, nil
}

// ReviewsDB returns the connection parameters for the raw reviews database.
func (c *Config) ReviewsDB() PostgresConfig {
	return PostgresConfig{
		Host:     c.ReviewsDBHost,
		Port:     c.ReviewsDBPort,
		User:     c.ReviewsDBUser,
		Password: c.ReviewsDBPass,
		Name:     c.ReviewsDBName,
		SSLMode:  c.ReviewsDBSSL,
	}
}

// StatsDB returns the connection parameters for the statistics database.
func (c *Config) StatsDB() PostgresConfig {
	return PostgresConfig{
		Host:     c.StatsDBHost,
		Port:     c.StatsDBPort,
		User:     c.StatsDBUser,
		Password: c.StatsDBPass,
		Name:     c.StatsDBName,
		SSLMode:  c.StatsDBSSL,
	}
}
