package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ArthurMTX/Portfolium-sub001/internal/config"
	"github.com/ArthurMTX/Portfolium-sub001/internal/locking"
	"github.com/ArthurMTX/Portfolium-sub001/pkg/metrics"
)

// Refresher is what the scheduler drives: the inventory of portfolios and a
// per-portfolio recompute.
type Refresher interface {
	ListPortfolioIDs(ctx context.Context) ([]string, error)
	RefreshPortfolio(ctx context.Context, portfolioID string) error
}

// RefreshScheduler periodically recomputes analytics for every portfolio.
// Cluster-wide at most one run executes at a time: each tick first takes a
// leased lock, and a tick that loses the race skips instead of queueing.
type RefreshScheduler struct {
	cron      *cron.Cron
	service   Refresher
	locks     locking.LockService
	cfg       config.SchedulerConfig
	logger    *logrus.Logger
	runningMu sync.Mutex
}

func NewRefreshScheduler(service Refresher, locks locking.LockService, cfg config.SchedulerConfig, logger *logrus.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		cron:    cron.New(),
		service: service,
		locks:   locks,
		cfg:     cfg,
		logger:  logger,
	}
}

func (rs *RefreshScheduler) Start() error {
	_, err := rs.cron.AddFunc(rs.cfg.RefreshInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), rs.cfg.LockLease)
		defer cancel()
		rs.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	rs.cron.Start()
	rs.logger.WithField("schedule", rs.cfg.RefreshInterval).Info("Refresh scheduler started")
	return nil
}

func (rs *RefreshScheduler) Stop() {
	ctx := rs.cron.Stop()
	<-ctx.Done()
	rs.logger.Info("Refresh scheduler stopped")
}

// RunOnce executes one full refresh pass under the singleton lock. It returns
// without error when another instance already holds the lock.
func (rs *RefreshScheduler) RunOnce(ctx context.Context) {
	rs.runningMu.Lock()
	defer rs.runningMu.Unlock()

	acquired, err := rs.locks.TryAcquire(ctx, rs.cfg.LockKey, rs.cfg.LockLease)
	if err != nil {
		rs.logger.Errorf("Refresh lock acquisition failed: %v", err)
		metrics.RefreshFailures.Inc()
		return
	}
	if !acquired {
		rs.logger.Debug("Refresh already running elsewhere, skipping")
		metrics.RefreshSkipped.Inc()
		return
	}
	defer func() {
		if err := rs.locks.Release(context.Background(), rs.cfg.LockKey); err != nil {
			rs.logger.Warnf("Refresh lock release failed: %v", err)
		}
	}()

	start := time.Now()
	portfolioIDs, err := rs.service.ListPortfolioIDs(ctx)
	if err != nil {
		rs.logger.Errorf("Failed to list portfolios for refresh: %v", err)
		metrics.RefreshFailures.Inc()
		return
	}

	failed := rs.fanOut(ctx, portfolioIDs)

	rs.logger.WithFields(logrus.Fields{
		"portfolios": len(portfolioIDs),
		"failed":     failed,
		"duration":   time.Since(start).String(),
	}).Info("Refresh pass completed")
}

// fanOut dispatches one refresh task per portfolio across a bounded worker
// pool. Tasks are independent and share no mutable state; one portfolio's
// failure never aborts the pass.
func (rs *RefreshScheduler) fanOut(ctx context.Context, portfolioIDs []string) int {
	workers := rs.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	var failedMu sync.Mutex
	failed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for portfolioID := range jobs {
				if err := rs.refreshWithRetry(ctx, portfolioID); err != nil {
					rs.logger.WithField("portfolio_id", portfolioID).
						Errorf("Refresh failed after retries: %v", err)
					metrics.RefreshFailures.Inc()
					failedMu.Lock()
					failed++
					failedMu.Unlock()
				}
			}
		}()
	}

	for _, id := range portfolioIDs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return failed
		case jobs <- id:
		}
	}
	close(jobs)
	wg.Wait()
	return failed
}

// refreshWithRetry retries transient failures with exponential backoff
func (rs *RefreshScheduler) refreshWithRetry(ctx context.Context, portfolioID string) error {
	attempts := rs.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	delay := rs.cfg.RetryBaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		lastErr = rs.service.RefreshPortfolio(ctx, portfolioID)
		if lastErr == nil {
			metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}
