package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Hatesnake69/tg-review-data-collector/internal/database"
	"github.com/Hatesnake69/tg-review-data-collector/internal/domain"
)

var (
	statsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_stats_inserted_total",
		Help: "Total number of daily aggregate rows inserted",
	})

	statsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_stats_deduplicated_total",
		Help: "Total number of daily aggregate rows skipped as duplicates",
	})
)

const createStatsTable = `
	CREATE TABLE IF NOT EXISTS review_stats (
		id BIGSERIAL PRIMARY KEY,
		event_date DATE NOT NULL,
		language VARCHAR(50) NOT NULL,
		reviews_count INT NOT NULL,
		min_score DOUBLE PRECISION NOT NULL,
		avg_score DOUBLE PRECISION NOT NULL,
		max_score DOUBLE PRECISION NOT NULL,
		insert_date DATE NOT NULL,
		insert_datetime TIMESTAMPTZ NOT NULL
	)`

const countDuplicateStat = `
	SELECT COUNT(*) FROM review_stats
	WHERE event_date = $1 AND language = $2 AND reviews_count = $3 AND avg_score = $4`

const insertStat = `
	INSERT INTO review_stats (
		event_date, language, reviews_count, min_score, avg_score, max_score,
		insert_date, insert_datetime
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id`

const selectLatestStat = `
	SELECT id, event_date, language, reviews_count, min_score, avg_score,
	       max_score, insert_date, insert_datetime
	FROM review_stats
	ORDER BY event_date DESC, id DESC
	LIMIT 1`

// StatRepository persists daily per-language review aggregates.
type StatRepository struct {
	pool   database.DBTX
	logger *slog.Logger
}

// NewStatRepository creates a PostgreSQL-backed stat repository.
func NewStatRepository(pool database.DBTX, logger *slog.Logger) *StatRepository {
	return &StatRepository{pool: pool, logger: logger}
}

// EnsureSchema idempotently creates the review_stats table.
func (r *StatRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createStatsTable); err != nil {
		return fmt.Errorf("create review_stats table: %w", err)
	}
	return nil
}

// DropSchema drops the review_stats table.
func (r *StatRepository) DropSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DROP TABLE IF EXISTS review_stats`); err != nil {
		return fmt.Errorf("drop review_stats table: %w", err)
	}
	return nil
}

// Latest returns the most recently dated aggregate, or nil when the table is
// empty.
func (r *StatRepository) Latest(ctx context.Context) (*domain.ReviewStat, error) {
	var st domain.ReviewStat
	err := r.pool.QueryRow(ctx, selectLatestStat).Scan(
		&st.ID,
		&st.EventDate,
		&st.Language,
		&st.ReviewsCount,
		&st.MinScore,
		&st.AvgScore,
		&st.MaxScore,
		&st.InsertDate,
		&st.InsertDatetime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest stat: %w", err)
	}
	return &st, nil
}

// Save inserts the aggregate unless a row with the same event date, language,
// reviews count and average score already exists. It reports whether a row
// was inserted.
func (r *StatRepository) Save(ctx context.Context, st *domain.ReviewStat) (bool, error) {
	var existing int
	err := r.pool.QueryRow(ctx, countDuplicateStat,
		st.EventDate, st.Language, st.ReviewsCount, st.AvgScore,
	).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("check duplicate stat: %w", err)
	}
	if existing > 0 {
		statsDeduplicated.Inc()
		r.logger.InfoContext(ctx, "aggregate already stored, skipping",
			slog.Time("event_date", st.EventDate),
			slog.String("language", st.Language),
			slog.Int("reviews_count", st.ReviewsCount),
		)
		return false, nil
	}

	err = r.pool.QueryRow(ctx, insertStat,
		st.EventDate,
		st.Language,
		st.ReviewsCount,
		st.MinScore,
		st.AvgScore,
		st.MaxScore,
		st.InsertDate,
		st.InsertDatetime,
	).Scan(&st.ID)
	if err != nil {
		return false, fmt.Errorf("insert stat: %w", err)
	}

	statsInserted.Inc()
	return true, nil
}
