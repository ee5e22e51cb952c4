package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ArthurMTX/Portfolium-sub001/internal/config"
)

type MockLockService struct {
	mock.Mock
}

func (m *MockLockService) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLockService) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// recordingRefresher counts refreshes and can fail selected portfolios a
// configured number of times before succeeding.
type recordingRefresher struct {
	mu           sync.Mutex
	portfolios   []string
	refreshed    map[string]int
	failuresLeft map[string]int
}

func newRecordingRefresher(portfolios ...string) *recordingRefresher {
	return &recordingRefresher{
		portfolios:   portfolios,
		refreshed:    make(map[string]int),
		failuresLeft: make(map[string]int),
	}
}

func (r *recordingRefresher) ListPortfolioIDs(_ context.Context) ([]string, error) {
	return r.portfolios, nil
}

func (r *recordingRefresher) RefreshPortfolio(_ context.Context, portfolioID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed[portfolioID]++
	if r.failuresLeft[portfolioID] > 0 {
		r.failuresLeft[portfolioID]--
		return errors.New("transient failure")
	}
	return nil
}

func (r *recordingRefresher) count(portfolioID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshed[portfolioID]
}

func schedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:         true,
		RefreshInterval: "*/15 * * * *",
		LockKey:         "refresh_portfolio_metrics",
		LockLease:       time.Minute,
		Workers:         3,
		RetryAttempts:   3,
		RetryBaseDelay:  time.Millisecond,
	}
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRefreshScheduler_RefreshesEveryPortfolio(t *testing.T) {
	refresher := newRecordingRefresher("p1", "p2", "p3")
	locks := new(MockLockService)
	locks.On("TryAcquire", mock.Anything, "refresh_portfolio_metrics", mock.Anything).Return(true, nil)
	locks.On("Release", mock.Anything, "refresh_portfolio_metrics").Return(nil)

	scheduler := NewRefreshScheduler(refresher, locks, schedulerConfig(), silentLogger())
	scheduler.RunOnce(context.Background())

	for _, pid := range []string{"p1", "p2", "p3"} {
		assert.Equal(t, 1, refresher.count(pid), "portfolio %s", pid)
	}
	locks.AssertCalled(t, "Release", mock.Anything, "refresh_portfolio_metrics")
}

func TestRefreshScheduler_SkipsWhenLockHeld(t *testing.T) {
	refresher := newRecordingRefresher("p1")
	locks := new(MockLockService)
	locks.On("TryAcquire", mock.Anything, "refresh_portfolio_metrics", mock.Anything).Return(false, nil)

	scheduler := NewRefreshScheduler(refresher, locks, schedulerConfig(), silentLogger())
	scheduler.RunOnce(context.Background())

	assert.Equal(t, 0, refresher.count("p1"), "a held lock means another instance is running")
	locks.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

func TestRefreshScheduler_RetriesTransientFailures(t *testing.T) {
	refresher := newRecordingRefresher("p1")
	refresher.failuresLeft["p1"] = 2
	locks := new(MockLockService)
	locks.On("TryAcquire", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	locks.On("Release", mock.Anything, mock.Anything).Return(nil)

	scheduler := NewRefreshScheduler(refresher, locks, schedulerConfig(), silentLogger())
	scheduler.RunOnce(context.Background())

	assert.Equal(t, 3, refresher.count("p1"), "two failures then success within the retry budget")
}

func TestRefreshScheduler_OnePortfolioFailureDoesNotAbortPass(t *testing.T) {
	refresher := newRecordingRefresher("p1", "p2")
	refresher.failuresLeft["p1"] = 10 // beyond the retry budget
	locks := new(MockLockService)
	locks.On("TryAcquire", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	locks.On("Release", mock.Anything, mock.Anything).Return(nil)

	scheduler := NewRefreshScheduler(refresher, locks, schedulerConfig(), silentLogger())
	scheduler.RunOnce(context.Background())

	assert.Equal(t, 3, refresher.count("p1"), "exhausted its retry budget")
	assert.Equal(t, 1, refresher.count("p2"), "unaffected by the sick neighbour")
}

func TestRefreshScheduler_ReleasesLockOnListFailure(t *testing.T) {
	locks := new(MockLockService)
	locks.On("TryAcquire", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	locks.On("Release", mock.Anything, mock.Anything).Return(nil)

	scheduler := NewRefreshScheduler(failingLister{}, locks, schedulerConfig(), silentLogger())
	scheduler.RunOnce(context.Background())

	locks.AssertCalled(t, "Release", mock.Anything, "refresh_portfolio_metrics")
}

type failingLister struct{}

func (failingLister) ListPortfolioIDs(_ context.Context) ([]string, error) {
	return nil, errors.New("ledger unavailable")
}

func (failingLister) RefreshPortfolio(_ context.Context, _ string) error {
	return nil
}
