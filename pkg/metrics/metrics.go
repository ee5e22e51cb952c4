package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts analytics cache hits by key prefix
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_cache_hits_total",
		Help: "Number of analytics cache hits",
	}, []string{"prefix"})

	// CacheMisses counts analytics cache misses by key prefix
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_cache_misses_total",
		Help: "Number of analytics cache misses",
	}, []string{"prefix"})

	// CacheInvalidations counts explicit per-portfolio cache invalidations
	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analytics_cache_invalidations_total",
		Help: "Number of explicit portfolio cache invalidations",
	})

	// DataQualityWarnings counts defaulted-but-suspect ledger data by kind.
	// Malformed split ratios land here rather than failing the computation.
	DataQualityWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_data_quality_warnings_total",
		Help: "Number of data-quality warnings encountered while folding the ledger",
	}, []string{"kind"})

	// RecomputeDuration observes end-to-end risk metric computation time
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "analytics_recompute_duration_seconds",
		Help:    "Duration of full risk metric recomputations",
		Buckets: prometheus.DefBuckets,
	})

	// RefreshFailures counts portfolios whose scheduled refresh exhausted retries
	RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analytics_refresh_failures_total",
		Help: "Number of portfolios whose scheduled refresh failed after retries",
	})

	// RefreshSkipped counts refresh runs skipped because another instance held the lock
	RefreshSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analytics_refresh_skipped_total",
		Help: "Number of scheduled refresh runs skipped due to the singleton lock",
	})
)
