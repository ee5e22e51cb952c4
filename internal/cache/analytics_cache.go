package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
	pkgcache "github.com/ArthurMTX/Portfolium-sub001/pkg/cache"
	"github.com/ArthurMTX/Portfolium-sub001/pkg/metrics"
)

// CacheClient is the injected store contract. Any single operation's failure
// degrades to a cache miss, never to incorrect data.
type CacheClient interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

const keyNamespace = "analytics"

// AnalyticsCache wraps analytics computations behind a fingerprint-keyed
// store. The fingerprint, not the TTL, is the correctness mechanism: two
// computations with identical fingerprints produce identical results, so a
// hit is always safe to serve. The TTL is only a safety net for a missed
// invalidation.
type AnalyticsCache struct {
	client               CacheClient
	ttl                  time.Duration
	fingerprintPositions int
	logger               *logrus.Logger
}

func NewAnalyticsCache(client CacheClient, ttl time.Duration, fingerprintPositions int, logger *logrus.Logger) *AnalyticsCache {
	return &AnalyticsCache{
		client:               client,
		ttl:                  ttl,
		fingerprintPositions: fingerprintPositions,
		logger:               logger,
	}
}

// GetOrCompute returns the cached result for the inputs' fingerprint, or runs
// compute, stores its result and returns it. compute must fill dest. A failed
// compute caches nothing. The returned bool reports a cache hit.
func (c *AnalyticsCache) GetOrCompute(
	ctx context.Context,
	prefix string,
	portfolioID string,
	positions []models.Position,
	lastTransactionDate time.Time,
	dest interface{},
	compute func() error,
) (bool, error) {
	key := c.key(prefix, portfolioID, c.Fingerprint(portfolioID, positions, lastTransactionDate))

	err := c.client.Get(ctx, key, dest)
	if err == nil {
		metrics.CacheHits.WithLabelValues(prefix).Inc()
		return true, nil
	}
	if !errors.Is(err, pkgcache.ErrNotFound) {
		// Store trouble degrades to a miss.
		c.logger.WithField("key", key).Warnf("cache read failed: %v", err)
	}
	metrics.CacheMisses.WithLabelValues(prefix).Inc()

	if err := compute(); err != nil {
		return false, err
	}

	if err := c.client.Set(ctx, key, dest, c.ttl); err != nil {
		c.logger.WithField("key", key).Warnf("cache write failed: %v", err)
	}

	return false, nil
}

// Invalidate deletes every cached entry under the portfolio's namespace,
// independent of fingerprints. The transaction mutation path calls this so
// staleness is bounded by invalidation latency, not the TTL.
func (c *AnalyticsCache) Invalidate(ctx context.Context, portfolioID string) (int, error) {
	pattern := fmt.Sprintf("%s:%s:*", keyNamespace, portfolioID)
	count, err := c.client.DeletePattern(ctx, pattern)
	if err != nil {
		return count, fmt.Errorf("failed to invalidate portfolio %s: %w", portfolioID, err)
	}
	metrics.CacheInvalidations.Inc()
	return count, nil
}

// Fingerprint hashes the exact inputs that determine an analytics result:
// portfolio id, position count, a capped snapshot of the first N positions
// (asset, quantity, current price; the cap keeps hashing cheap on huge
// portfolios), the most recent transaction date, and the calendar day so
// intraday price drift is eventually captured even with no ledger change.
func (c *AnalyticsCache) Fingerprint(portfolioID string, positions []models.Position, lastTransactionDate time.Time) string {
	sample := positions
	if len(sample) > c.fingerprintPositions {
		sample = sample[:c.fingerprintPositions]
	}

	payload := struct {
		PortfolioID string   `json:"portfolio_id"`
		Count       int      `json:"count"`
		Positions   []string `json:"positions"`
		LastTx      string   `json:"last_tx"`
		Day         string   `json:"day"`
	}{
		PortfolioID: portfolioID,
		Count:       len(positions),
		Positions:   make([]string, 0, len(sample)),
		LastTx:      lastTransactionDate.UTC().Format(time.RFC3339),
		Day:         time.Now().UTC().Format("2006-01-02"),
	}
	for _, p := range sample {
		payload.Positions = append(payload.Positions,
			fmt.Sprintf("%s|%s|%s", p.AssetID, p.Quantity.String(), p.CurrentPrice.String()))
	}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func (c *AnalyticsCache) key(prefix, portfolioID, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyNamespace, portfolioID, prefix, fingerprint)
}
