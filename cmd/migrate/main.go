package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Hatesnake69/tg-review-data-collector/internal/config"
	"github.com/Hatesnake69/tg-review-data-collector/internal/database"
	"github.com/Hatesnake69/tg-review-data-collector/internal/logger"
	"github.com/Hatesnake69/tg-review-data-collector/internal/repository/postgres"
)

const usage = `usage: migrate <up|down>

  up    create the reviews and review_stats tables in their databases
  down  drop both tables
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		fmt.Fprintf(os.Stderr, "unknown direction %q\n\n%s", direction, usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("review-collector-migrate", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := run(ctx, cfg, direction, log); err != nil {
		log.Error("migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("migration complete", slog.String("direction", direction))
}

func run(ctx context.Context, cfg *config.Config, direction string, log *slog.Logger) error {
	opts := database.DefaultPoolOptions()

	reviewsDB, err := database.Connect(ctx, cfg.ReviewsDB(), opts, log)
	if err != nil {
		return fmt.Errorf("connect reviews database: %w", err)
	}
	defer reviewsDB.Close()

	statsDB, err := database.Connect(ctx, cfg.StatsDB(), opts, log)
	if err != nil {
		return fmt.Errorf("connect stats database: %w", err)
	}
	defer statsDB.Close()

	reviewRepo := postgres.NewReviewRepository(reviewsDB, log)
	statRepo := postgres.NewStatRepository(statsDB, log)

	switch direction {
	case "up":
		if err := reviewRepo.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := statRepo.EnsureSchema(ctx); err != nil {
			return err
		}
	case "down":
		if err := reviewRepo.DropSchema(ctx); err != nil {
			return err
		}
		if err := statRepo.DropSchema(ctx); err != nil {
			return err
		}
	}

	return nil
}
