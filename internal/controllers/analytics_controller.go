package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ArthurMTX/Portfolium-sub001/internal/services"
)

type AnalyticsController struct {
	service *services.AnalyticsService
	logger  *logrus.Logger
}

func NewAnalyticsController(service *services.AnalyticsService, logger *logrus.Logger) *AnalyticsController {
	return &AnalyticsController{
		service: service,
		logger:  logger,
	}
}

func (c *AnalyticsController) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/:portfolioId/positions", c.GetPositions)
	r.GET("/:portfolioId/positions/:assetId", c.GetPosition)
	r.GET("/:portfolioId/risk-metrics", c.GetRiskMetrics)
	r.POST("/:portfolioId/invalidate", c.Invalidate)
}

// GetPositions returns the portfolio's current positions. Sold-out positions
// are included with ?include_sold=true.
func (c *AnalyticsController) GetPositions(ctx *gin.Context) {
	portfolioID := ctx.Param("portfolioId")
	includeSold := ctx.Query("include_sold") == "true"

	positions, err := c.service.GetPositions(ctx.Request.Context(), portfolioID, includeSold)
	if err != nil {
		c.degraded(ctx, portfolioID, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"portfolio_id": portfolioID,
		"positions":    positions,
		"count":        len(positions),
	})
}

// GetPosition returns one asset's position. ?as_of=YYYY-MM-DD selects a
// historical date, inclusive through end of day; ?mode=before is the
// pre-trade view, excluding everything dated on the requested day itself.
func (c *AnalyticsController) GetPosition(ctx *gin.Context) {
	portfolioID := ctx.Param("portfolioId")
	assetID := ctx.Param("assetId")

	var day time.Time
	if raw := ctx.Query("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid as_of date, expected YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	var err error
	var position interface{}
	if ctx.Query("mode") == "before" {
		if day.IsZero() {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "mode=before requires as_of"})
			return
		}
		// Strictly before the start of the day: a transaction dated on
		// the day itself has not happened yet in this view.
		position, err = c.service.GetPositionBefore(ctx.Request.Context(), portfolioID, assetID, day)
	} else {
		asOf := day
		if !asOf.IsZero() {
			// Inclusive through the end of the requested day.
			asOf = day.Add(24*time.Hour - time.Nanosecond)
		}
		position, err = c.service.GetPosition(ctx.Request.Context(), portfolioID, assetID, asOf)
	}
	if err != nil {
		c.degraded(ctx, portfolioID, err)
		return
	}

	ctx.JSON(http.StatusOK, position)
}

// GetRiskMetrics returns risk and performance statistics over a trailing
// period (?period=7d|30d|90d|1y, default 90d), optionally with a beta
// benchmark (?benchmark=SPY).
func (c *AnalyticsController) GetRiskMetrics(ctx *gin.Context) {
	portfolioID := ctx.Param("portfolioId")
	period := ctx.Query("period")
	benchmark := ctx.Query("benchmark")

	metrics, err := c.service.GetRiskMetrics(ctx.Request.Context(), portfolioID, period, benchmark)
	if err != nil {
		if errors.Is(err, services.ErrUnknownPeriod) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.degraded(ctx, portfolioID, err)
		return
	}

	ctx.JSON(http.StatusOK, metrics)
}

// Invalidate busts all cached analytics for a portfolio. The transaction
// write path calls this when events are not available.
func (c *AnalyticsController) Invalidate(ctx *gin.Context) {
	portfolioID := ctx.Param("portfolioId")

	count, err := c.service.Invalidate(ctx.Request.Context(), portfolioID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "invalidation failed"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"portfolio_id":        portfolioID,
		"invalidated_entries": count,
	})
}

// degraded reports a transiently unavailable computation as a recalculating
// state rather than an error page
func (c *AnalyticsController) degraded(ctx *gin.Context, portfolioID string, err error) {
	c.logger.WithField("portfolio_id", portfolioID).Errorf("Analytics unavailable: %v", err)
	ctx.JSON(http.StatusAccepted, gin.H{
		"status":       "recalculating",
		"portfolio_id": portfolioID,
		"retry_after":  5,
	})
}
