package postgres

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hatesnake69/tg-review-data-collector/internal/database"
	"github.com/Hatesnake69/tg-review-data-collector/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func sampleReview(id string) domain.Review {
	return domain.Review{
		ID:            id,
		UserName:      "alice",
		Language:      "en",
		Country:       "us",
		Content:       "great app",
		Score:         5,
		ThumbsUpCount: 3,
		CreatedAt:     time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestReviewRepository_EnsureSchema(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reviews").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	repo := NewReviewRepository(mock, testLogger())
	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_DropSchema(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DROP TABLE IF EXISTS reviews").
		WillReturnResult(pgxmock.NewResult("DROP", 0))

	repo := NewReviewRepository(mock, testLogger())
	require.NoError(t, repo.DropSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_Save_InsertsBatch(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO reviews").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
	}
	mock.ExpectCommit()

	repo := NewReviewRepository(mock, testLogger())
	err = repo.Save(context.Background(), []domain.Review{
		sampleReview("0a32cb88-9e0f-4a5d-9d3f-1df6a23cf001"),
		sampleReview("0a32cb88-9e0f-4a5d-9d3f-1df6a23cf002"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_Save_SkipsDuplicates(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()
	mock.ExpectCommit()

	repo := NewReviewRepository(mock, testLogger())
	err = repo.Save(context.Background(), []domain.Review{
		sampleReview("0a32cb88-9e0f-4a5d-9d3f-1df6a23cf001"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_Save_SkipsFailedRowAndCommitsRest(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").
		WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	mock.ExpectCommit()

	repo := NewReviewRepository(mock, testLogger())
	err = repo.Save(context.Background(), []domain.Review{
		sampleReview("0a32cb88-9e0f-4a5d-9d3f-1df6a23cf001"),
		sampleReview("0a32cb88-9e0f-4a5d-9d3f-1df6a23cf002"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_Save_BeginError(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	repo := NewReviewRepository(mock, testLogger())
	err = repo.Save(context.Background(), []domain.Review{sampleReview("0a32cb88-9e0f-4a5d-9d3f-1df6a23cf001")})
	require.Error(t, err)
}

func TestReviewRepository_List_AppliesUpperBoundOnly(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	until := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	createdAt := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"review_id", "user_name", "user_image", "language", "country",
		"content", "score", "thumbs_up_count", "review_created_version",
		"created_at", "reply_content", "replied_at", "app_version",
	}).AddRow(
		"0a32cb88-9e0f-4a5d-9d3f-1df6a23cf001", "alice", ptr("http://img"), "en", "us",
		ptr("great app"), 5, 3, (*string)(nil),
		createdAt, (*string)(nil), (*time.Time)(nil), ptr("11.7.0"),
	)

	mock.ExpectQuery("SELECT (.+) FROM reviews WHERE created_at < \\$1$").
		WithArgs(until).
		WillReturnRows(rows)

	repo := NewReviewRepository(mock, testLogger())
	reviews, err := repo.List(context.Background(), nil, until)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "alice", reviews[0].UserName)
	assert.Equal(t, "http://img", reviews[0].UserImage)
	assert.Equal(t, "11.7.0", reviews[0].AppVersion)
	assert.Empty(t, reviews[0].ReplyContent)
	assert.Nil(t, reviews[0].RepliedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_List_AppliesWindow(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	since := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM reviews WHERE created_at < \\$1 AND created_at >= \\$2").
		WithArgs(until, since).
		WillReturnRows(pgxmock.NewRows([]string{
			"review_id", "user_name", "user_image", "language", "country",
			"content", "score", "thumbs_up_count", "review_created_version",
			"created_at", "reply_content", "replied_at", "app_version",
		}))

	repo := NewReviewRepository(mock, testLogger())
	reviews, err := repo.List(context.Background(), &since, until)
	require.NoError(t, err)
	assert.Empty(t, reviews)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func ptr[T any](v T) *T { return &v }
