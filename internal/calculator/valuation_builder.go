package calculator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
	"github.com/ArthurMTX/Portfolium-sub001/pkg/metrics"
)

// PriceLookup is the external price source contract. A nil quote with a nil
// error means no price exists for that day; the builder carries the last
// known price forward rather than inventing one.
type PriceLookup interface {
	GetPrice(ctx context.Context, symbol string, asOf time.Time) (*models.PriceQuote, error)
}

// ValuationSeriesBuilder turns a portfolio's transactions plus a price source
// into one ValuationPoint per calendar day, each annotated with the day's net
// external cash flow so returns can be neutralized downstream.
type ValuationSeriesBuilder struct {
	positions *PositionCalculator
	logger    *logrus.Logger
}

func NewValuationSeriesBuilder(positions *PositionCalculator, logger *logrus.Logger) *ValuationSeriesBuilder {
	return &ValuationSeriesBuilder{positions: positions, logger: logger}
}

// Build produces the daily valuation series for [start, end] inclusive.
// Transactions may span multiple assets of one portfolio and must already be
// sorted ascending by (date, creation_sequence).
func (vb *ValuationSeriesBuilder) Build(ctx context.Context, transactions []models.Transaction, prices PriceLookup, start, end time.Time) ([]models.ValuationPoint, error) {
	start = models.Day(start)
	end = models.Day(end)
	if end.Before(start) {
		return nil, nil
	}

	byAsset := groupByAsset(transactions)

	// Last observed price per asset, carried forward across missing days.
	lastPrice := make(map[string]decimal.Decimal, len(byAsset))

	series := make([]models.ValuationPoint, 0, int(end.Sub(start).Hours()/24)+1)

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		endOfDay := day.Add(24*time.Hour - time.Nanosecond)

		marketValue := decimal.Zero
		for assetID, assetTxs := range byAsset {
			position := vb.positions.ComputeAsOf(assetTxs, endOfDay)
			if position.Quantity.IsZero() {
				continue
			}

			price, ok := vb.priceFor(ctx, prices, assetID, day, lastPrice)
			if !ok {
				// No price has ever been observed for this asset; it
				// contributes nothing until one appears.
				continue
			}
			marketValue = marketValue.Add(position.Quantity.Mul(price))
		}

		cashFlow := decimal.Zero
		for _, tx := range transactions {
			if models.Day(tx.Date).Equal(day) {
				cashFlow = cashFlow.Add(tx.CashFlow())
			}
		}

		series = append(series, models.ValuationPoint{
			Date:             day,
			MarketValue:      marketValue,
			ExternalCashFlow: cashFlow,
		})
	}

	return series, nil
}

// priceFor resolves an asset's price for a day, carrying the most recent
// prior price forward when the source has nothing for that day. A lookup
// error is recoverable: it is treated as an absent price and logged.
func (vb *ValuationSeriesBuilder) priceFor(ctx context.Context, prices PriceLookup, assetID string, day time.Time, lastPrice map[string]decimal.Decimal) (decimal.Decimal, bool) {
	quote, err := prices.GetPrice(ctx, assetID, day)
	if err != nil {
		metrics.DataQualityWarnings.WithLabelValues("price_lookup").Inc()
		vb.logger.WithFields(logrus.Fields{
			"asset_id": assetID,
			"date":     day.Format("2006-01-02"),
			"warning":  "price_lookup",
		}).Warn(err.Error())
	}
	if quote != nil {
		lastPrice[assetID] = quote.Price
		return quote.Price, true
	}

	price, ok := lastPrice[assetID]
	return price, ok
}

func groupByAsset(transactions []models.Transaction) map[string][]models.Transaction {
	byAsset := make(map[string][]models.Transaction)
	for _, tx := range transactions {
		byAsset[tx.AssetID] = append(byAsset[tx.AssetID], tx)
	}
	return byAsset
}
