package domain

import (
	"sort"
	"time"
)

// ReviewStat is one daily per-language aggregate row. Rows are append-only:
// a later run that computes a different count for the same day inserts a new
// row next to the old one rather than replacing it. The
// (EventDate, Language, ReviewsCount, AvgScore) tuple acts as the store-level
// dedup signature, which cannot tell a corrected recomputation apart from a
// stale duplicate; that ambiguity is inherited from the feed having no
// aggregate-level identity.
type ReviewStat struct {
	ID             int64
	EventDate      time.Time
	Language       string
	ReviewsCount   int
	MinScore       float64
	AvgScore       float64
	MaxScore       float64
	InsertDate     time.Time
	InsertDatetime time.Time
}

type groupKey struct {
	language string
	day      time.Time
}

// AggregateDaily groups reviews by (language, UTC calendar day of creation)
// and computes count, min, mean and max of the score for each group. The
// computation date and timestamp are taken from now. Empty input yields an
// empty result.
func AggregateDaily(reviews []Review, now time.Time) []ReviewStat {
	groups := make(map[groupKey][]Review)
	for _, r := range reviews {
		key := groupKey{language: r.Language, day: Day(r.CreatedAt)}
		groups[key] = append(groups[key], r)
	}

	stats := make([]ReviewStat, 0, len(groups))
	for key, chunk := range groups {
		minScore := chunk[0].Score
		maxScore := chunk[0].Score
		sum := 0
		for _, r := range chunk {
			if r.Score < minScore {
				minScore = r.Score
			}
			if r.Score > maxScore {
				maxScore = r.Score
			}
			sum += r.Score
		}

		stats = append(stats, ReviewStat{
			EventDate:      key.day,
			Language:       key.language,
			ReviewsCount:   len(chunk),
			MinScore:       float64(minScore),
			AvgScore:       float64(sum) / float64(len(chunk)),
			MaxScore:       float64(maxScore),
			InsertDate:     Day(now),
			InsertDatetime: now.UTC(),
		})
	}

	// Map iteration order is random; sort for a deterministic result.
	sort.Slice(stats, func(i, j int) bool {
		if !stats[i].EventDate.Equal(stats[j].EventDate) {
			return stats[i].EventDate.Before(stats[j].EventDate)
		}
		return stats[i].Language < stats[j].Language
	})

	return stats
}
