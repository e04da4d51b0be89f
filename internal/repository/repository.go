package repository

import (
	"context"
	"time"

	"github.com/Hatesnake69/tg-review-data-collector/internal/domain"
)

// ReviewRepository is the durable, deduplicating sink for raw reviews.
type ReviewRepository interface {
	// EnsureSchema idempotently creates the reviews table.
	EnsureSchema(ctx context.Context) error

	// DropSchema drops the reviews table if it exists.
	DropSchema(ctx context.Context) error

	// Save persists a batch of reviews. A review whose identifier is already
	// stored is silently skipped; a malformed row is logged and skipped
	// without aborting the batch.
	Save(ctx context.Context, reviews []domain.Review) error

	// List returns reviews created before until (exclusive), optionally
	// restricted to those created on or after since.
	List(ctx context.Context, since *time.Time, until time.Time) ([]domain.Review, error)
}

// StatRepository is the append-only sink for daily aggregate rows.
type StatRepository interface {
	// EnsureSchema idempotently creates the review_stats table.
	EnsureSchema(ctx context.Context) error

	// DropSchema drops the review_stats table if it exists.
	DropSchema(ctx context.Context) error

	// Latest returns the most recently written aggregate, ordered by event
	// date then insertion order, or nil if the store is empty.
	Latest(ctx context.Context) (*domain.ReviewStat, error)

	// Save inserts the aggregate unless a row with the same
	// (day, language, count, average) signature already exists. It reports
	// whether a row was inserted; an already-recorded aggregate is success.
	Save(ctx context.Context, stat *domain.ReviewStat) (bool, error)
}
