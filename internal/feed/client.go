// Package feed talks to the external app-store review feed. The feed exposes
// one operation: fetch a single page of reviews for an (app, language,
// country) locale, addressed by an opaque continuation token.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Hatesnake69/tg-review-data-collector/internal/httpclient"
)

// Item is one raw review as returned by the feed. Language and country are
// not echoed back by the feed; the fetcher tags them on.
type Item struct {
	ReviewID             string     `json:"reviewId"`
	UserName             string     `json:"userName"`
	UserImage            string     `json:"userImage"`
	Content              string     `json:"content"`
	Score                int        `json:"score"`
	ThumbsUpCount        int        `json:"thumbsUpCount"`
	ReviewCreatedVersion string     `json:"reviewCreatedVersion"`
	At                   time.Time  `json:"at"`
	ReplyContent         string     `json:"replyContent"`
	RepliedAt            *time.Time `json:"repliedAt"`
	AppVersion           string     `json:"appVersion"`
}

// Page is one page of feed results. An empty NextToken means the locale is
// exhausted.
type Page struct {
	Reviews   []Item `json:"reviews"`
	NextToken string `json:"nextToken"`
}

// PageRequest addresses one page of the feed.
type PageRequest struct {
	AppID    string
	Language string
	Country  string
	Token    string
	Limit    int
}

// Client fetches review pages over HTTP, paced by a rate limiter and guarded
// by a circuit breaker.
type Client struct {
	baseURL string
	httpc   *httpclient.BreakerClient
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a feed client. rps bounds the outbound request rate.
func NewClient(baseURL string, httpc *httpclient.BreakerClient, rps float64, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   httpc,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// FetchPage retrieves a single page of reviews.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{}
	q.Set("lang", req.Language)
	q.Set("country", req.Country)
	q.Set("limit", strconv.Itoa(req.Limit))
	if req.Token != "" {
		q.Set("token", req.Token)
	}
	u := fmt.Sprintf("%s/v1/apps/%s/reviews?%s", c.baseURL, url.PathEscape(req.AppID), q.Encode())

	resp, err := c.httpc.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch review page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch review page: unexpected status %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode review page: %w", err)
	}

	c.logger.DebugContext(ctx, "fetched feed page",
		slog.String("country", req.Country),
		slog.String("language", req.Language),
		slog.Int("reviews", len(page.Reviews)),
		slog.Bool("has_next", page.NextToken != ""),
	)

	return &page, nil
}
