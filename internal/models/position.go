package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the derived holding of one asset within one portfolio as of a
// point in time. It is recomputed from the ledger on demand and never
// persisted as a source of truth.
type Position struct {
	AssetID      string          `json:"asset_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	AsOfDate     time.Time       `json:"as_of_date"`
}

// Open reports whether the position still holds a non-zero quantity
func (p Position) Open() bool {
	return !p.Quantity.IsZero()
}

// ValuationPoint is one calendar day of a portfolio's market value, annotated
// with the signed net external cash flow of that day: capital moving in or
// out, as opposed to market appreciation.
type ValuationPoint struct {
	Date             time.Time       `json:"date"`
	MarketValue      decimal.Decimal `json:"market_value"`
	ExternalCashFlow decimal.Decimal `json:"external_cash_flow"`
}

// ReturnPoint is one day's cash-flow-adjusted return, the input to every risk
// and performance statistic.
type ReturnPoint struct {
	Date        time.Time       `json:"date"`
	DailyReturn decimal.Decimal `json:"daily_return"`
}

// PriceQuote is a price observation from the external price source
type PriceQuote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
}

// RiskMetrics is the cacheable result of a risk and performance computation.
// Percentage fields are expressed in percent and rounded to one decimal place;
// ratio fields are rounded to two. Metrics that are undefined for the input
// (flat series, missing benchmark overlap) are nil and serialize as JSON null.
type RiskMetrics struct {
	Period          string           `json:"period"`
	Volatility      decimal.Decimal  `json:"volatility"`
	SharpeRatio     *decimal.Decimal `json:"sharpe_ratio"`
	VaR95           decimal.Decimal  `json:"var_95"`
	VaR99           decimal.Decimal  `json:"var_99"`
	CVaR95          decimal.Decimal  `json:"cvar_95"`
	CVaR99          decimal.Decimal  `json:"cvar_99"`
	MaxDrawdown     decimal.Decimal  `json:"max_drawdown"`
	MaxDrawdownDate time.Time        `json:"max_drawdown_date"`
	Beta            *decimal.Decimal `json:"beta"`
	VaR95OneWeek    decimal.Decimal  `json:"var_95_1w"`
	VaR95OneMonth   decimal.Decimal  `json:"var_95_1m"`
	TailExposure    decimal.Decimal  `json:"tail_exposure"`
	Observations    int              `json:"observations"`
	ComputedAt      time.Time        `json:"computed_at"`
}

// TransactionEvent is the mutation event published by the transaction write
// path; the engine consumes it to invalidate cached analytics.
type TransactionEvent struct {
	PortfolioID   string    `json:"portfolio_id"`
	TransactionID string    `json:"transaction_id"`
	Action        string    `json:"action"` // "created", "updated", "deleted"
	OccurredAt    time.Time `json:"occurred_at"`
}

// Day truncates a timestamp to its UTC calendar day
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
