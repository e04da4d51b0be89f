package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Hatesnake69/tg-review-data-collector/internal/database"
	"github.com/Hatesnake69/tg-review-data-collector/internal/domain"
)

var (
	reviewsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reviews_inserted_total",
		Help: "Total number of review rows inserted",
	})

	reviewsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reviews_deduplicated_total",
		Help: "Total number of reviews skipped because their identifier was already stored",
	})

	reviewsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reviews_rejected_total",
		Help: "Total number of review rows skipped due to a row-level insert failure",
	})
)

const createReviewsTable = `
	CREATE TABLE IF NOT EXISTS reviews (
		review_id UUID PRIMARY KEY,
		user_name VARCHAR(255) NOT NULL,
		user_image TEXT,
		language VARCHAR(50) NOT NULL,
		country VARCHAR(50) NOT NULL,
		content TEXT,
		score SMALLINT NOT NULL,
		thumbs_up_count INT NOT NULL,
		review_created_version VARCHAR(50),
		created_at TIMESTAMPTZ NOT NULL,
		reply_content TEXT,
		replied_at TIMESTAMPTZ,
		app_version VARCHAR(50)
	)`

const insertReview = `
	INSERT INTO reviews (
		review_id, user_name, user_image, language, country, content, score,
		thumbs_up_count, review_created_version, created_at, reply_content,
		replied_at, app_version
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (review_id) DO NOTHING`

const selectReviews = `
	SELECT review_id, user_name, user_image, language, country, content,
	       score, thumbs_up_count, review_created_version, created_at,
	       reply_content, replied_at, app_version
	FROM reviews`

// ReviewRepository persists raw reviews in PostgreSQL, keyed by the feed's
// review identifier.
type ReviewRepository struct {
	pool   database.DBTX
	logger *slog.Logger
}

// NewReviewRepository creates a PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX, logger *slog.Logger) *ReviewRepository {
	return &ReviewRepository{pool: pool, logger: logger}
}

// EnsureSchema idempotently creates the reviews table.
func (r *ReviewRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createReviewsTable); err != nil {
		return fmt.Errorf("create reviews table: %w", err)
	}
	return nil
}

// DropSchema drops the reviews table.
func (r *ReviewRepository) DropSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DROP TABLE IF EXISTS reviews`); err != nil {
		return fmt.Errorf("drop reviews table: %w", err)
	}
	return nil
}

// Save persists a batch of reviews in one transaction. Each row is inserted
// under a savepoint so a malformed row is logged and skipped while the rest
// of the batch still commits. Duplicate identifiers are skipped by the
// ON CONFLICT clause and do not error.
func (r *ReviewRepository) Save(ctx context.Context, reviews []domain.Review) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save reviews: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var inserted, deduplicated int
	for _, rv := range reviews {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("savepoint for review %s: %w", rv.ID, err)
		}

		tag, err := sp.Exec(ctx, insertReview,
			rv.ID,
			sanitize(rv.UserName),
			textOrNil(rv.UserImage),
			sanitize(rv.Language),
			sanitize(rv.Country),
			textOrNil(rv.Content),
			rv.Score,
			rv.ThumbsUpCount,
			textOrNil(rv.ReviewCreatedVersion),
			rv.CreatedAt,
			textOrNil(rv.ReplyContent),
			rv.RepliedAt,
			textOrNil(rv.AppVersion),
		)
		if err != nil {
			_ = sp.Rollback(ctx)
			reviewsRejected.Inc()
			r.logger.WarnContext(ctx, "failed to insert review, skipping row",
				slog.String("review_id", rv.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return fmt.Errorf("release savepoint for review %s: %w", rv.ID, err)
		}

		if tag.RowsAffected() == 0 {
			deduplicated++
			reviewsDeduplicated.Inc()
		} else {
			inserted++
			reviewsInserted.Inc()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save reviews: %w", err)
	}

	r.logger.InfoContext(ctx, "review batch saved",
		slog.Int("batch", len(reviews)),
		slog.Int("inserted", inserted),
		slog.Int("deduplicated", deduplicated),
	)
	return nil
}

// List returns reviews created before until (exclusive), optionally
// restricted to those created on or after since.
func (r *ReviewRepository) List(ctx context.Context, since *time.Time, until time.Time) ([]domain.Review, error) {
	query := selectReviews + ` WHERE created_at < $1`
	args := []any{until}
	if since != nil {
		query += ` AND created_at >= $2`
		args = append(args, *since)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		var (
			rv                           domain.Review
			userImage, content           *string
			createdVersion, replyContent *string
			appVersion                   *string
		)
		if err := rows.Scan(
			&rv.ID,
			&rv.UserName,
			&userImage,
			&rv.Language,
			&rv.Country,
			&content,
			&rv.Score,
			&rv.ThumbsUpCount,
			&createdVersion,
			&rv.CreatedAt,
			&replyContent,
			&rv.RepliedAt,
			&appVersion,
		); err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		rv.UserImage = deref(userImage)
		rv.Content = deref(content)
		rv.ReviewCreatedVersion = deref(createdVersion)
		rv.ReplyContent = deref(replyContent)
		rv.AppVersion = deref(appVersion)
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}

	return reviews, nil
}

// sanitize strips embedded NUL characters, which PostgreSQL text columns
// cannot represent.
func sanitize(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func textOrNil(s string) any {
	s = sanitize(s)
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
