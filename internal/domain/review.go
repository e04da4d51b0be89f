package domain

import "time"

// Review is one user review as harvested from the store feed. The ID is
// assigned by the feed and is the sole uniqueness key; a review is persisted
// once and never updated by the pipeline.
type Review struct {
	ID                   string
	UserName             string
	UserImage            string
	Language             string
	Country              string
	Content              string
	Score                int
	ThumbsUpCount        int
	ReviewCreatedVersion string
	CreatedAt            time.Time
	ReplyContent         string
	RepliedAt            *time.Time
	AppVersion           string
}

// Day truncates t to its UTC calendar day (midnight UTC).
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
