// Package fetcher implements the review harvesting loop: for each configured
// language of a market it pages through the review feed until the feed is
// exhausted or the per-locale retry budget is spent.
package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Hatesnake69/tg-review-data-collector/internal/domain"
	"github.com/Hatesnake69/tg-review-data-collector/internal/feed"
)

var (
	pagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_pages_fetched_total",
			Help: "Total number of feed pages fetched",
		},
		[]string{"country", "language"},
	)

	reviewsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_reviews_fetched_total",
			Help: "Total number of reviews fetched from the feed",
		},
		[]string{"country", "language"},
	)

	emptyPageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_empty_page_retries_total",
			Help: "Total number of empty-page retries against the feed",
		},
		[]string{"country", "language"},
	)

	feedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_errors_total",
			Help: "Total number of feed page fetch errors",
		},
		[]string{"country", "language"},
	)
)

// Feed fetches one page of reviews for a locale.
type Feed interface {
	FetchPage(ctx context.Context, req feed.PageRequest) (*feed.Page, error)
}

// Config holds the crawl parameters.
type Config struct {
	AppID       string
	Languages   []string
	PageLimit   int
	RetryBudget int
	RetryDelay  time.Duration
}

// Fetcher harvests reviews from the feed, one (market, language) locale at a
// time. Harvesting is best-effort: a locale that runs into feed errors or an
// exhausted retry budget yields whatever was accumulated so far.
type Fetcher struct {
	feed   Feed
	cfg    Config
	logger *slog.Logger

	// sleep is the wait between empty-page retries, injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher.
func New(f Feed, cfg Config, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		feed:   f,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchMarket harvests all configured languages for one market, in the
// configured language order. Feed items are tagged with their language and
// market code, which the feed does not echo back.
func (f *Fetcher) FetchMarket(ctx context.Context, market string) []domain.Review {
	var all []domain.Review
	for _, lang := range f.cfg.Languages {
		f.logger.InfoContext(ctx, "harvesting locale",
			slog.String("country", market),
			slog.String("language", lang),
		)
		got := f.fetchLocale(ctx, market, lang)
		all = append(all, got...)
		f.logger.InfoContext(ctx, "locale harvested",
			slog.String("country", market),
			slog.String("language", lang),
			slog.Int("reviews", len(got)),
			slog.Int("total", len(all)),
		)
	}
	return all
}

// fetchLocale pages through one (market, language) locale. Per page, in
// order: an absent continuation token means the locale is exhausted; an
// exhausted retry budget stops the crawl; an empty page is retried with the
// same token after the retry delay; a short page is the final page; otherwise
// the crawl continues with the returned token. Reviews fetched before any
// stop condition are kept.
func (f *Fetcher) fetchLocale(ctx context.Context, market, lang string) []domain.Review {
	var out []domain.Review
	token := ""
	retries := f.cfg.RetryBudget

	for {
		page, err := f.feed.FetchPage(ctx, feed.PageRequest{
			AppID:    f.cfg.AppID,
			Language: lang,
			Country:  market,
			Token:    token,
			Limit:    f.cfg.PageLimit,
		})
		if err != nil {
			feedErrors.WithLabelValues(market, lang).Inc()
			f.logger.WarnContext(ctx, "feed page fetch failed, keeping partial results",
				slog.String("country", market),
				slog.String("language", lang),
				slog.Int("accumulated", len(out)),
				slog.String("error", err.Error()),
			)
			return out
		}

		for _, it := range page.Reviews {
			out = append(out, tagReview(it, lang, market))
		}
		pagesFetched.WithLabelValues(market, lang).Inc()
		reviewsFetched.WithLabelValues(market, lang).Add(float64(len(page.Reviews)))

		f.logger.InfoContext(ctx, "review page loaded",
			slog.String("country", market),
			slog.String("language", lang),
			slog.Int("page_size", len(page.Reviews)),
			slog.Int("accumulated", len(out)),
		)

		switch {
		case page.NextToken == "":
			return out

		case retries <= 0:
			f.logger.WarnContext(ctx, "retry budget exhausted for locale",
				slog.String("country", market),
				slog.String("language", lang),
			)
			return out

		case len(page.Reviews) == 0:
			retries--
			emptyPageRetries.WithLabelValues(market, lang).Inc()
			f.logger.InfoContext(ctx, "empty page, waiting before retry",
				slog.String("country", market),
				slog.String("language", lang),
				slog.Duration("delay", f.cfg.RetryDelay),
				slog.Int("retries_left", retries),
			)
			if err := f.sleep(ctx, f.cfg.RetryDelay); err != nil {
				return out
			}
			// Retry with the same token.

		case len(page.Reviews) < f.cfg.PageLimit:
			// A short page signals no more data.
			return out

		default:
			token = page.NextToken
		}
	}
}

func tagReview(it feed.Item, lang, market string) domain.Review {
	return domain.Review{
		ID:                   it.ReviewID,
		UserName:             it.UserName,
		UserImage:            it.UserImage,
		Language:             lang,
		Country:              market,
		Content:              it.Content,
		Score:                it.Score,
		ThumbsUpCount:        it.ThumbsUpCount,
		ReviewCreatedVersion: it.ReviewCreatedVersion,
		CreatedAt:            it.At,
		ReplyContent:         it.ReplyContent,
		RepliedAt:            it.RepliedAt,
		AppVersion:           it.AppVersion,
	}
}
