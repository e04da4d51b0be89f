package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hatesnake69/tg-review-data-collector/internal/domain"
	"github.com/Hatesnake69/tg-review-data-collector/internal/kafka"
	"github.com/Hatesnake69/tg-review-data-collector/internal/logger"
)

// Kafka topics for pipeline events.
var (
	TopicReviewsIngested = kafka.Topic("reviews", "ingested")
	TopicStatsComputed   = kafka.Topic("stats", "computed")
)

// Aggregate type constants.
const (
	AggregateTypeReviewBatch = "review-batch"
	AggregateTypeReviewStat  = "review-stat"
)

// Source identifier for events originating from this service.
const SourceReviewCollector = "review-collector"

// ReviewsIngestedData is the payload for a reviews.ingested event.
type ReviewsIngestedData struct {
	AppID     string    `json:"app_id"`
	Markets   []string  `json:"markets"`
	Fetched   int       `json:"fetched"`
	FetchedAt time.Time `json:"fetched_at"`
}

// StatsComputedData is the payload for a stats.computed event.
type StatsComputedData struct {
	EventDate    time.Time `json:"event_date"`
	Language     string    `json:"language"`
	ReviewsCount int       `json:"reviews_count"`
	MinScore     float64   `json:"min_score"`
	AvgScore     float64   `json:"avg_score"`
	MaxScore     float64   `json:"max_score"`
}

// Producer publishes pipeline events to Kafka.
type Producer struct {
	kafka  *kafka.Producer
	logger *slog.Logger
}

// NewProducer creates an event producer for the review pipeline.
func NewProducer(kafkaProducer *kafka.Producer, log *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafkaProducer,
		logger: log,
	}
}

// PublishReviewsIngested publishes a reviews.ingested event after a fetch run.
func (p *Producer) PublishReviewsIngested(ctx context.Context, appID string, markets []string, fetched int) error {
	data := ReviewsIngestedData{
		AppID:     appID,
		Markets:   markets,
		Fetched:   fetched,
		FetchedAt: time.Now().UTC(),
	}

	ev, err := kafka.NewEvent(TopicReviewsIngested, appID, AggregateTypeReviewBatch, SourceReviewCollector, data)
	if err != nil {
		return fmt.Errorf("create reviews.ingested event: %w", err)
	}
	ev.WithCorrelationID(logger.CorrelationIDFromContext(ctx))

	if err := p.kafka.Publish(ctx, TopicReviewsIngested, ev); err != nil {
		return fmt.Errorf("publish reviews.ingested event: %w", err)
	}

	p.logger.DebugContext(ctx, "published reviews.ingested event",
		slog.String("app_id", appID),
		slog.Int("fetched", fetched),
	)

	return nil
}

// PublishStatsComputed publishes a stats.computed event for a stored aggregate.
func (p *Producer) PublishStatsComputed(ctx context.Context, st *domain.ReviewStat) error {
	data := StatsComputedData{
		EventDate:    st.EventDate,
		Language:     st.Language,
		ReviewsCount: st.ReviewsCount,
		MinScore:     st.MinScore,
		AvgScore:     st.AvgScore,
		MaxScore:     st.MaxScore,
	}

	aggregateID := st.EventDate.Format("2006-01-02") + ":" + st.Language
	ev, err := kafka.NewEvent(TopicStatsComputed, aggregateID, AggregateTypeReviewStat, SourceReviewCollector, data)
	if err != nil {
		return fmt.Errorf("create stats.computed event: %w", err)
	}
	ev.WithCorrelationID(logger.CorrelationIDFromContext(ctx))

	if err := p.kafka.Publish(ctx, TopicStatsComputed, ev); err != nil {
		return fmt.Errorf("publish stats.computed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published stats.computed event",
		slog.String("language", st.Language),
		slog.Int("reviews_count", st.ReviewsCount),
	)

	return nil
}
