package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Hatesnake69/tg-review-data-collector/internal/domain"
	"github.com/Hatesnake69/tg-review-data-collector/internal/runlock"
)

// --- Mocks ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchMarket(ctx context.Context, market string) []domain.Review {
	args := m.Called(ctx, market)
	return args.Get(0).([]domain.Review)
}

type mockReviewRepo struct {
	mock.Mock
}

func (m *mockReviewRepo) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockReviewRepo) DropSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockReviewRepo) Save(ctx context.Context, reviews []domain.Review) error {
	args := m.Called(ctx, reviews)
	return args.Error(0)
}

func (m *mockReviewRepo) List(ctx context.Context, since *time.Time, until time.Time) ([]domain.Review, error) {
	args := m.Called(ctx, since, until)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Review), args.Error(1)
}

type mockStatRepo struct {
	mock.Mock
}

func (m *mockStatRepo) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStatRepo) DropSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStatRepo) Latest(ctx context.Context) (*domain.ReviewStat, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReviewStat), args.Error(1)
}

func (m *mockStatRepo) Save(ctx context.Context, st *domain.ReviewStat) (bool, error) {
	args := m.Called(ctx, st)
	return args.Bool(0), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishReviewsIngested(ctx context.Context, appID string, markets []string, fetched int) error {
	args := m.Called(ctx, appID, markets, fetched)
	return args.Error(0)
}

func (m *mockPublisher) PublishStatsComputed(ctx context.Context, st *domain.ReviewStat) error {
	args := m.Called(ctx, st)
	return args.Error(0)
}

type mockLock struct {
	mock.Mock
}

func (m *mockLock) Acquire(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockLock) Release(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type pipelineMocks struct {
	fetcher   *mockFetcher
	reviews   *mockReviewRepo
	stats     *mockStatRepo
	publisher *mockPublisher
	lock      *mockLock
}

func newTestPipeline(now time.Time) (*PipelineService, *pipelineMocks) {
	m := &pipelineMocks{
		fetcher:   &mockFetcher{},
		reviews:   &mockReviewRepo{},
		stats:     &mockStatRepo{},
		publisher: &mockPublisher{},
		lock:      &mockLock{},
	}

	svc := NewPipelineService(
		m.fetcher, m.reviews, m.stats, m.publisher, m.lock,
		"org.telegram.messenger", []string{"us", "ru"}, newTestLogger(),
	)
	svc.now = func() time.Time { return now }
	return svc, m
}

func reviewAt(id, language string, score int, createdAt time.Time) domain.Review {
	return domain.Review{
		ID:        id,
		UserName:  "user-" + id,
		Language:  language,
		Country:   "us",
		Score:     score,
		CreatedAt: createdAt,
	}
}

// --- FetchAndStore ---

func TestPipelineService_FetchAndStore(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	usReviews := []domain.Review{reviewAt("r1", "en", 5, now), reviewAt("r2", "en", 4, now)}
	ruReviews := []domain.Review{reviewAt("r3", "ru", 3, now)}

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.fetcher.On("FetchMarket", mock.Anything, "us").Return(usReviews)
	m.fetcher.On("FetchMarket", mock.Anything, "ru").Return(ruReviews)
	m.reviews.On("Save", mock.Anything, usReviews).Return(nil).Once()
	m.reviews.On("Save", mock.Anything, ruReviews).Return(nil).Once()
	m.publisher.On("PublishReviewsIngested", mock.Anything, "org.telegram.messenger", []string{"us", "ru"}, 3).Return(nil)

	summary, err := svc.FetchAndStore(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"us", "ru"}, summary.Markets)
	assert.Equal(t, 3, summary.Fetched)
	assert.Equal(t, 3, summary.Stored)
	m.lock.AssertExpectations(t)
	m.fetcher.AssertExpectations(t)
	m.reviews.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
}

func TestPipelineService_FetchAndStore_ExplicitMarkets(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.fetcher.On("FetchMarket", mock.Anything, "de").Return([]domain.Review{})
	m.reviews.On("Save", mock.Anything, mock.Anything).Return(nil)
	m.publisher.On("PublishReviewsIngested", mock.Anything, mock.Anything, []string{"de"}, 0).Return(nil)

	summary, err := svc.FetchAndStore(context.Background(), []string{"de"})
	require.NoError(t, err)
	assert.Equal(t, []string{"de"}, summary.Markets)
	m.fetcher.AssertNotCalled(t, "FetchMarket", mock.Anything, "us")
}

func TestPipelineService_FetchAndStore_LockHeld(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	m.lock.On("Acquire", mock.Anything).Return("", runlock.ErrAlreadyLocked)

	_, err := svc.FetchAndStore(context.Background(), nil)
	assert.ErrorIs(t, err, runlock.ErrAlreadyLocked)
	m.fetcher.AssertNotCalled(t, "FetchMarket", mock.Anything, mock.Anything)
}

func TestPipelineService_FetchAndStore_StoreErrorSkipsMarket(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	usReviews := []domain.Review{reviewAt("r1", "en", 5, now), reviewAt("r2", "en", 4, now)}
	ruReviews := []domain.Review{reviewAt("r3", "ru", 3, now)}

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.fetcher.On("FetchMarket", mock.Anything, "us").Return(usReviews)
	m.fetcher.On("FetchMarket", mock.Anything, "ru").Return(ruReviews)
	m.reviews.On("Save", mock.Anything, usReviews).Return(errors.New("db down")).Once()
	m.reviews.On("Save", mock.Anything, ruReviews).Return(nil).Once()
	m.publisher.On("PublishReviewsIngested", mock.Anything, mock.Anything, mock.Anything, 3).Return(nil)

	// A failed store must not abort the run: the next market still gets
	// fetched and saved, and the summary reports what landed.
	summary, err := svc.FetchAndStore(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Fetched)
	assert.Equal(t, 1, summary.Stored)
	m.reviews.AssertExpectations(t)
	m.lock.AssertCalled(t, "Release", mock.Anything, "tok")
}

func TestPipelineService_FetchAndStore_AllStoresFailing(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.fetcher.On("FetchMarket", mock.Anything, mock.Anything).Return([]domain.Review{reviewAt("r1", "en", 5, now)})
	m.reviews.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))
	m.publisher.On("PublishReviewsIngested", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	summary, err := svc.FetchAndStore(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 0, summary.Stored)
}

func TestPipelineService_FetchAndStore_PublishFailureIsNotFatal(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.fetcher.On("FetchMarket", mock.Anything, mock.Anything).Return([]domain.Review{})
	m.reviews.On("Save", mock.Anything, mock.Anything).Return(nil)
	m.publisher.On("PublishReviewsIngested", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker unreachable"))

	summary, err := svc.FetchAndStore(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fetched)
}

// --- GenerateStats ---

func TestPipelineService_GenerateStats_FirstRunUsesFullHistory(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	reviews := []domain.Review{
		reviewAt("r1", "en", 1, day.Add(2*time.Hour)),
		reviewAt("r2", "en", 3, day.Add(4*time.Hour)),
		reviewAt("r3", "en", 5, day.Add(6*time.Hour)),
	}

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.stats.On("Latest", mock.Anything).Return(nil, nil)
	m.reviews.On("List", mock.Anything, (*time.Time)(nil), time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)).
		Return(reviews, nil)
	m.stats.On("Save", mock.Anything, mock.MatchedBy(func(st *domain.ReviewStat) bool {
		return st.Language == "en" && st.ReviewsCount == 3 && st.AvgScore == 3.0
	})).Return(true, nil)
	m.publisher.On("PublishStatsComputed", mock.Anything, mock.Anything).Return(nil)

	summary, err := svc.GenerateStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Computed)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 0, summary.Skipped)
	m.stats.AssertExpectations(t)
}

func TestPipelineService_GenerateStats_LookBackWindow(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	since := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.stats.On("Latest", mock.Anything).Return(&domain.ReviewStat{EventDate: since.AddDate(0, 0, -1)}, nil)
	m.reviews.On("List", mock.Anything, &since, until).Return([]domain.Review{}, nil)

	summary, err := svc.GenerateStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Computed)
	m.reviews.AssertExpectations(t)
}

func TestPipelineService_GenerateStats_SkipsDuplicates(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	reviews := []domain.Review{reviewAt("r1", "en", 4, day)}

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.stats.On("Latest", mock.Anything).Return(nil, nil)
	m.reviews.On("List", mock.Anything, mock.Anything, mock.Anything).Return(reviews, nil)
	m.stats.On("Save", mock.Anything, mock.Anything).Return(false, nil)

	summary, err := svc.GenerateStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Computed)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 1, summary.Skipped)
	m.publisher.AssertNotCalled(t, "PublishStatsComputed", mock.Anything, mock.Anything)
}

func TestPipelineService_GenerateStats_SaveErrorContinues(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	reviews := []domain.Review{
		reviewAt("r1", "en", 4, day),
		reviewAt("r2", "ru", 2, day),
	}

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.stats.On("Latest", mock.Anything).Return(nil, nil)
	m.reviews.On("List", mock.Anything, mock.Anything, mock.Anything).Return(reviews, nil)
	m.stats.On("Save", mock.Anything, mock.MatchedBy(func(st *domain.ReviewStat) bool {
		return st.Language == "en"
	})).Return(false, errors.New("insert failed"))
	m.stats.On("Save", mock.Anything, mock.MatchedBy(func(st *domain.ReviewStat) bool {
		return st.Language == "ru"
	})).Return(true, nil)
	m.publisher.On("PublishStatsComputed", mock.Anything, mock.Anything).Return(nil)

	summary, err := svc.GenerateStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Computed)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 0, summary.Skipped)
}

func TestPipelineService_GenerateStats_LatestErrorFallsBackToFullHistory(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	m.lock.On("Acquire", mock.Anything).Return("tok", nil)
	m.lock.On("Release", mock.Anything, "tok").Return(nil)
	m.stats.On("Latest", mock.Anything).Return(nil, errors.New("stats db down"))
	m.reviews.On("List", mock.Anything, (*time.Time)(nil), mock.Anything).Return([]domain.Review{}, nil)

	_, err := svc.GenerateStats(context.Background())
	require.NoError(t, err)
	m.reviews.AssertExpectations(t)
}

// --- LatestStat ---

func TestPipelineService_LatestStat(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	want := &domain.ReviewStat{ID: 9, Language: "en"}
	m.stats.On("Latest", mock.Anything).Return(want, nil)

	got, err := svc.LatestStat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPipelineService_LatestStat_Empty(t *testing.T) {
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	svc, m := newTestPipeline(now)

	m.stats.On("Latest", mock.Anything).Return(nil, nil)

	got, err := svc.LatestStat(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}
