package calculator

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
	"github.com/ArthurMTX/Portfolium-sub001/pkg/metrics"
)

// PositionCalculator reduces an ordered transaction sequence into a Position
// using the weighted-average cost method. Input transactions must be
// pre-filtered to a single (portfolio, asset) pair and pre-sorted ascending by
// (date, creation_sequence); the calculator never re-sorts, so tie-break
// semantics stay explicit and caller-controlled.
type PositionCalculator struct {
	logger *logrus.Logger
}

func NewPositionCalculator(logger *logrus.Logger) *PositionCalculator {
	return &PositionCalculator{logger: logger}
}

// Compute folds the entire sequence ("what do I hold now").
func (pc *PositionCalculator) Compute(transactions []models.Transaction) models.Position {
	return pc.fold(transactions, time.Time{}, false)
}

// ComputeAsOf folds transactions dated on or before asOf: end-of-day holdings
// for that date.
func (pc *PositionCalculator) ComputeAsOf(transactions []models.Transaction, asOf time.Time) models.Position {
	return pc.fold(transactions, asOf, false)
}

// ComputeBefore folds transactions dated strictly before asOf. This is the
// pre-trade view: "how many shares did I hold going into date X", excluding
// anything dated exactly on X.
func (pc *PositionCalculator) ComputeBefore(transactions []models.Transaction, asOf time.Time) models.Position {
	return pc.fold(transactions, asOf, true)
}

func (pc *PositionCalculator) fold(transactions []models.Transaction, asOf time.Time, strict bool) models.Position {
	quantity := decimal.Zero
	costBasis := decimal.Zero
	assetID := ""

	for _, tx := range transactions {
		if assetID == "" {
			assetID = tx.AssetID
		}
		if !asOf.IsZero() {
			if strict && !tx.Date.Before(asOf) {
				continue
			}
			if !strict && tx.Date.After(asOf) {
				continue
			}
		}
		if !tx.Type.Valid() {
			metrics.DataQualityWarnings.WithLabelValues("transaction_type").Inc()
			pc.logger.WithFields(logrus.Fields{
				"transaction_id": tx.ID,
				"type":           string(tx.Type),
				"warning":        "transaction_type",
			}).Warn("unknown transaction type ignored")
			continue
		}

		switch tx.Type {
		case models.TransactionBuy, models.TransactionTransferIn, models.TransactionConversionIn:
			// A conversion in opens the destination position at the
			// conversion's recorded value, carried in Price.
			quantity = quantity.Add(tx.Quantity)
			costBasis = costBasis.Add(tx.Quantity.Mul(tx.Price).Add(tx.Fees))

		case models.TransactionSell, models.TransactionTransferOut, models.TransactionConversionOut:
			// Reduce cost basis proportionally at the average cost held
			// immediately before this disposal (weighted-average method).
			avgCost := averageCost(costBasis, quantity)
			quantity = quantity.Sub(tx.Quantity)
			costBasis = costBasis.Sub(tx.Quantity.Mul(avgCost))
			if quantity.IsZero() {
				// Fully closed positions carry a cost basis of exactly
				// zero, absorbing any division residue.
				costBasis = decimal.Zero
			}

		case models.TransactionSplit:
			multiplier, err := tx.SplitRatio()
			if err != nil {
				// Defaulted to 1.0: the ledger keeps working, but the
				// suspect entry is surfaced on the warning channel.
				metrics.DataQualityWarnings.WithLabelValues("split_ratio").Inc()
				pc.logger.WithFields(logrus.Fields{
					"transaction_id": tx.ID,
					"portfolio_id":   tx.PortfolioID,
					"asset_id":       tx.AssetID,
					"warning":        "split_ratio",
				}).Warn(err.Error())
			}
			quantity = quantity.Mul(multiplier)
			// Cost basis is unchanged across a split; average cost divides
			// by the multiplier implicitly.

		case models.TransactionDividend, models.TransactionFee:
			// Cash effects only; no per-asset quantity or cost basis impact.
		}
	}

	// A negative quantity is surfaced raw so callers can flag an
	// inconsistent ledger; clamping here would hide the defect.
	return models.Position{
		AssetID:     assetID,
		Quantity:    quantity,
		CostBasis:   costBasis,
		AverageCost: averageCost(costBasis, quantity),
		AsOfDate:    asOf,
	}
}

// averageCost returns costBasis/quantity, with a zero sentinel when the
// position holds nothing. Never divides by zero.
func averageCost(costBasis, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() || quantity.IsNegative() {
		return decimal.Zero
	}
	return costBasis.Div(quantity)
}
