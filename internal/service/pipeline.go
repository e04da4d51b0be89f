package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hatesnake69/tg-review-data-collector/internal/domain"
	"github.com/Hatesnake69/tg-review-data-collector/internal/repository"
)

var phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "pipeline_phase_duration_seconds",
	Help:    "Duration of pipeline phases",
	Buckets: prometheus.DefBuckets,
}, []string{"phase"})

// ReviewFetcher pulls all reviews currently exposed by the feed for a market.
type ReviewFetcher interface {
	FetchMarket(ctx context.Context, market string) []domain.Review
}

// EventPublisher announces pipeline results to downstream consumers.
type EventPublisher interface {
	PublishReviewsIngested(ctx context.Context, appID string, markets []string, fetched int) error
	PublishStatsComputed(ctx context.Context, st *domain.ReviewStat) error
}

// RunLocker serializes pipeline runs across replicas.
type RunLocker interface {
	Acquire(ctx context.Context) (string, error)
	Release(ctx context.Context, token string) error
}

// FetchSummary reports the outcome of a fetch-and-store run. Stored trails
// Fetched when a market's batch could not be persisted.
type FetchSummary struct {
	Markets []string `json:"markets"`
	Fetched int      `json:"fetched"`
	Stored  int      `json:"stored"`
}

// StatsSummary reports the outcome of a stats run.
type StatsSummary struct {
	Computed int `json:"computed"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// PipelineService implements the two pipeline phases: ingesting raw reviews
// and computing daily per-language aggregates.
type PipelineService struct {
	fetcher  ReviewFetcher
	reviews  repository.ReviewRepository
	stats    repository.StatRepository
	producer EventPublisher
	lock     RunLocker
	logger   *slog.Logger
	tracer   trace.Tracer

	appID   string
	markets []string

	now func() time.Time
}

// NewPipelineService creates the pipeline service. markets is the default
// market list used when a run does not name its own.
func NewPipelineService(
	fetcher ReviewFetcher,
	reviews repository.ReviewRepository,
	stats repository.StatRepository,
	producer EventPublisher,
	lock RunLocker,
	appID string,
	markets []string,
	logger *slog.Logger,
) *PipelineService {
	return &PipelineService{
		fetcher:  fetcher,
		reviews:  reviews,
		stats:    stats,
		producer: producer,
		lock:     lock,
		logger:   logger,
		tracer:   otel.Tracer("pipeline-service"),
		appID:    appID,
		markets:  markets,
		now:      time.Now,
	}
}

// FetchAndStore crawls the feed market by market, persisting each market's
// batch before moving on. A store failure is logged and the run carries on
// with the remaining markets. Markets defaults to the configured list when
// empty. Only one run may be active at a time; a concurrent run fails with
// runlock.ErrAlreadyLocked.
func (s *PipelineService) FetchAndStore(ctx context.Context, markets []string) (*FetchSummary, error) {
	if len(markets) == 0 {
		markets = s.markets
	}

	ctx, span := s.tracer.Start(ctx, "pipeline.fetch",
		trace.WithAttributes(attribute.StringSlice("markets", markets)))
	defer span.End()

	token, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.releaseLock(ctx, token)

	start := s.now()
	summary := &FetchSummary{Markets: markets}

	// One save per market, so a store outage mid-run costs only the markets
	// that were not yet persisted.
	for _, market := range markets {
		batch := s.fetcher.FetchMarket(ctx, market)
		summary.Fetched += len(batch)

		if err := s.reviews.Save(ctx, batch); err != nil {
			s.logger.ErrorContext(ctx, "failed to store market batch",
				slog.String("market", market),
				slog.Int("batch", len(batch)),
				slog.String("error", err.Error()),
			)
			continue
		}
		summary.Stored += len(batch)
	}

	if err := s.producer.PublishReviewsIngested(ctx, s.appID, markets, summary.Fetched); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish reviews.ingested event",
			slog.String("error", err.Error()),
		)
		// Event delivery must not fail the run.
	}

	phaseDuration.WithLabelValues("fetch").Observe(s.now().Sub(start).Seconds())
	s.logger.InfoContext(ctx, "fetch run finished",
		slog.Any("markets", markets),
		slog.Int("fetched", summary.Fetched),
		slog.Int("stored", summary.Stored),
	)

	return summary, nil
}

// GenerateStats aggregates stored reviews into daily per-language rows. On
// the first run it processes the full history; afterwards it re-reads a
// one-day look-back window so a late recount corrects the previous day.
// Reviews created today are left for tomorrow's run.
func (s *PipelineService) GenerateStats(ctx context.Context) (*StatsSummary, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.stats")
	defer span.End()

	token, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.releaseLock(ctx, token)

	start := s.now()
	since, until := s.window(ctx)

	reviews, err := s.reviews.List(ctx, since, until)
	if err != nil {
		return nil, fmt.Errorf("list reviews for aggregation: %w", err)
	}

	computed := domain.AggregateDaily(reviews, s.now())
	summary := &StatsSummary{Computed: len(computed)}

	for i := range computed {
		st := &computed[i]
		inserted, err := s.stats.Save(ctx, st)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to save aggregate",
				slog.Time("event_date", st.EventDate),
				slog.String("language", st.Language),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !inserted {
			summary.Skipped++
			continue
		}
		summary.Inserted++

		if err := s.producer.PublishStatsComputed(ctx, st); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish stats.computed event",
				slog.String("language", st.Language),
				slog.String("error", err.Error()),
			)
		}
	}

	phaseDuration.WithLabelValues("stats").Observe(s.now().Sub(start).Seconds())
	s.logger.InfoContext(ctx, "stats run finished",
		slog.Int("computed", summary.Computed),
		slog.Int("inserted", summary.Inserted),
		slog.Int("skipped", summary.Skipped),
	)

	return summary, nil
}

// LatestStat returns the most recent stored aggregate, or nil when none
// exists yet.
func (s *PipelineService) LatestStat(ctx context.Context) (*domain.ReviewStat, error) {
	st, err := s.stats.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest stat: %w", err)
	}
	return st, nil
}

// window picks the aggregation bounds: everything before today, narrowed to
// yesterday onward once any aggregate exists. A failed look-up falls back to
// the full history, which the duplicate check makes safe.
func (s *PipelineService) window(ctx context.Context) (*time.Time, time.Time) {
	until := domain.Day(s.now())

	latest, err := s.stats.Latest(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read latest aggregate, using full history",
			slog.String("error", err.Error()),
		)
		return nil, until
	}
	if latest == nil {
		return nil, until
	}

	since := until.AddDate(0, 0, -1)
	return &since, until
}

func (s *PipelineService) releaseLock(ctx context.Context, token string) {
	if err := s.lock.Release(ctx, token); err != nil {
		s.logger.ErrorContext(ctx, "failed to release run lock",
			slog.String("error", err.Error()),
		)
	}
}
