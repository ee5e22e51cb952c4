package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ArthurMTX/Portfolium-sub001/internal/cache"
	"github.com/ArthurMTX/Portfolium-sub001/internal/calculator"
	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
	"github.com/ArthurMTX/Portfolium-sub001/internal/repositories"
)

// ErrUnknownPeriod is returned when a caller asks for an unsupported window
var ErrUnknownPeriod = errors.New("unknown period")

// PriceSource is the external price feed contract. GetPrice returns (nil, nil)
// when no quote exists for the symbol on the given day.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string, asOf time.Time) (*models.PriceQuote, error)
	GetHistoricalPrices(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceQuote, error)
}

// MemoStore is the short-TTL store that collapses recomputation requests for
// the same arguments arriving within a short window into one execution.
type MemoStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// AnalyticsService derives positions, valuation series and risk metrics from
// the transaction ledger, caching results by input fingerprint.
type AnalyticsService struct {
	ledger     repositories.LedgerReader
	prices     PriceSource
	positions  *calculator.PositionCalculator
	valuations *calculator.ValuationSeriesBuilder
	risk       *calculator.RiskCalculator
	cache      *cache.AnalyticsCache
	memo       MemoStore
	memoTTL    time.Duration
	logger     *logrus.Logger

	// Per-portfolio recompute limiters. Excess requests wait, they are not
	// rejected.
	limitersMu         sync.Mutex
	limiters           map[string]*rate.Limiter
	recomputePerMinute int

	defaultPeriod string
}

func NewAnalyticsService(
	ledger repositories.LedgerReader,
	prices PriceSource,
	positions *calculator.PositionCalculator,
	valuations *calculator.ValuationSeriesBuilder,
	risk *calculator.RiskCalculator,
	analyticsCache *cache.AnalyticsCache,
	memo MemoStore,
	memoTTL time.Duration,
	recomputePerMinute int,
	defaultPeriod string,
	logger *logrus.Logger,
) *AnalyticsService {
	if recomputePerMinute <= 0 {
		recomputePerMinute = 10
	}
	if defaultPeriod == "" {
		defaultPeriod = "90d"
	}

	return &AnalyticsService{
		ledger:             ledger,
		prices:             prices,
		positions:          positions,
		valuations:         valuations,
		risk:               risk,
		cache:              analyticsCache,
		memo:               memo,
		memoTTL:            memoTTL,
		logger:             logger,
		limiters:           make(map[string]*rate.Limiter),
		recomputePerMinute: recomputePerMinute,
		defaultPeriod:      defaultPeriod,
	}
}

// GetPosition replays the ledger for one asset and returns its holding as of
// the given date, inclusive. A zero asOf means "now". The position is priced
// with the latest available quote.
func (s *AnalyticsService) GetPosition(ctx context.Context, portfolioID, assetID string, asOf time.Time) (*models.Position, error) {
	transactions, err := s.ledger.ListAssetTransactions(ctx, portfolioID, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for %s/%s: %w", portfolioID, assetID, err)
	}

	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	position := s.positions.ComputeAsOf(transactions, asOf)
	s.enrichPrice(ctx, &position)
	return &position, nil
}

// GetPositionBefore computes the holding strictly before asOf, excluding
// same-instant transactions. This is the pre-trade view used to validate a
// disposal against what was actually held when it executed.
func (s *AnalyticsService) GetPositionBefore(ctx context.Context, portfolioID, assetID string, asOf time.Time) (*models.Position, error) {
	transactions, err := s.ledger.ListAssetTransactions(ctx, portfolioID, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for %s/%s: %w", portfolioID, assetID, err)
	}

	position := s.positions.ComputeBefore(transactions, asOf)
	return &position, nil
}

// GetPositions replays the full ledger and returns the portfolio's current
// positions, priced with the latest quotes. Sold-out positions (zero quantity)
// are omitted unless includeSold is set.
func (s *AnalyticsService) GetPositions(ctx context.Context, portfolioID string, includeSold bool) ([]models.Position, error) {
	transactions, err := s.ledger.ListTransactions(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for %s: %w", portfolioID, err)
	}

	byAsset := make(map[string][]models.Transaction)
	order := make([]string, 0)
	for _, tx := range transactions {
		if _, seen := byAsset[tx.AssetID]; !seen {
			order = append(order, tx.AssetID)
		}
		byAsset[tx.AssetID] = append(byAsset[tx.AssetID], tx)
	}

	positions := make([]models.Position, 0, len(order))
	for _, assetID := range order {
		position := s.positions.Compute(byAsset[assetID])
		if !position.Open() && !includeSold {
			continue
		}
		s.enrichPrice(ctx, &position)
		positions = append(positions, position)
	}

	return positions, nil
}

// GetRiskMetrics computes the risk and performance statistics for a portfolio
// over a trailing period ("7d", "30d", "90d", "1y"), optionally with a beta
// benchmark. Results are served from the fingerprint-keyed cache when the
// inputs have not changed; a short-TTL memo collapses concurrent identical
// requests, and a per-portfolio limiter defers (never rejects) recompute
// storms.
func (s *AnalyticsService) GetRiskMetrics(ctx context.Context, portfolioID, period, benchmarkSymbol string) (*models.RiskMetrics, error) {
	if period == "" {
		period = s.defaultPeriod
	}
	days, err := periodDays(period)
	if err != nil {
		return nil, err
	}

	memoKey := fmt.Sprintf("memo:risk:%s:%s:%s", portfolioID, period, benchmarkSymbol)
	var memoized models.RiskMetrics
	if s.memo != nil && s.memo.Get(ctx, memoKey, &memoized) == nil {
		return &memoized, nil
	}

	positions, err := s.GetPositions(ctx, portfolioID, false)
	if err != nil {
		return nil, err
	}
	lastTx, err := s.ledger.LastTransactionDate(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	var result models.RiskMetrics
	hit, err := s.cache.GetOrCompute(ctx, "risk:"+period+":"+benchmarkSymbol, portfolioID, positions, lastTx, &result, func() error {
		if err := s.limiterFor(portfolioID).Wait(ctx); err != nil {
			return fmt.Errorf("recompute wait cancelled: %w", err)
		}
		metrics, err := s.computeRiskMetrics(ctx, portfolioID, period, benchmarkSymbol, days)
		if err != nil {
			return err
		}
		result = *metrics
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !hit && s.memo != nil {
		if err := s.memo.Set(ctx, memoKey, &result, s.memoTTL); err != nil {
			s.logger.Warnf("risk memo write failed for %s: %v", portfolioID, err)
		}
	}

	return &result, nil
}

func (s *AnalyticsService) computeRiskMetrics(ctx context.Context, portfolioID, period, benchmarkSymbol string, days int) (*models.RiskMetrics, error) {
	end := models.Day(time.Now().UTC())
	start := end.AddDate(0, 0, -days)

	transactions, err := s.ledger.ListTransactions(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for %s: %w", portfolioID, err)
	}

	valuations, err := s.valuations.Build(ctx, transactions, s.prices, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to build valuation series for %s: %w", portfolioID, err)
	}
	returns := calculator.BuildReturns(valuations)

	var benchmarkReturns []models.ReturnPoint
	if benchmarkSymbol != "" {
		quotes, err := s.prices.GetHistoricalPrices(ctx, benchmarkSymbol, start, end)
		if err != nil {
			// Beta degrades to undefined, the rest of the metrics stand.
			s.logger.Warnf("benchmark %s unavailable: %v", benchmarkSymbol, err)
		} else {
			benchmarkReturns = calculator.BuildPriceReturns(quotes)
		}
	}

	return s.risk.ComputeRiskMetrics(returns, benchmarkReturns, period), nil
}

// Invalidate drops every cached analytics entry and memo for a portfolio.
// Called by the transaction-mutation path, so staleness is bounded by event
// delivery latency rather than the cache TTL.
func (s *AnalyticsService) Invalidate(ctx context.Context, portfolioID string) (int, error) {
	count, err := s.cache.Invalidate(ctx, portfolioID)
	if err != nil {
		return count, err
	}
	if s.memo != nil {
		if _, err := s.memo.DeletePattern(ctx, fmt.Sprintf("memo:risk:%s:*", portfolioID)); err != nil {
			s.logger.Warnf("memo invalidation failed for %s: %v", portfolioID, err)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"portfolio_id": portfolioID,
		"entries":      count,
	}).Info("Analytics cache invalidated")
	return count, nil
}

// RefreshPortfolio recomputes and caches the default-period risk metrics for
// one portfolio. The background scheduler calls this for every known
// portfolio.
func (s *AnalyticsService) RefreshPortfolio(ctx context.Context, portfolioID string) error {
	_, err := s.GetRiskMetrics(ctx, portfolioID, s.defaultPeriod, "")
	return err
}

// ListPortfolioIDs exposes the ledger's portfolio inventory to the scheduler
func (s *AnalyticsService) ListPortfolioIDs(ctx context.Context) ([]string, error) {
	return s.ledger.ListPortfolioIDs(ctx)
}

func (s *AnalyticsService) enrichPrice(ctx context.Context, position *models.Position) {
	quote, err := s.prices.GetPrice(ctx, position.AssetID, time.Time{})
	if err != nil {
		s.logger.Warnf("price lookup failed for %s: %v", position.AssetID, err)
		return
	}
	if quote != nil {
		position.CurrentPrice = quote.Price
	}
}

func (s *AnalyticsService) limiterFor(portfolioID string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	limiter, ok := s.limiters[portfolioID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.recomputePerMinute)), s.recomputePerMinute)
		s.limiters[portfolioID] = limiter
	}
	return limiter
}

// periodDays maps a period label to its trailing window in calendar days
func periodDays(period string) (int, error) {
	switch strings.ToLower(period) {
	case "7d":
		return 7, nil
	case "30d":
		return 30, nil
	case "90d":
		return 90, nil
	case "1y":
		return 365, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
}
