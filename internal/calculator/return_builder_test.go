package calculator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
)

func valuation(day time.Time, value, cashFlow string) models.ValuationPoint {
	return models.ValuationPoint{
		Date:             day,
		MarketValue:      decimal.RequireFromString(value),
		ExternalCashFlow: decimal.RequireFromString(cashFlow),
	}
}

func TestBuildReturns_SimpleAppreciation(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	returns := BuildReturns([]models.ValuationPoint{
		valuation(day, "1000", "0"),
		valuation(day.AddDate(0, 0, 1), "1020", "0"),
		valuation(day.AddDate(0, 0, 2), "969", "0"),
	})

	assert.Len(t, returns, 2)
	assertDecimal(t, "0.02", returns[0].DailyReturn, "up day")
	assertDecimal(t, "-0.05", returns[1].DailyReturn, "down day")
}

func TestBuildReturns_DepositIsNotAReturn(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// The portfolio doubles overnight, but purely from a 1000 deposit.
	returns := BuildReturns([]models.ValuationPoint{
		valuation(day, "1000", "0"),
		valuation(day.AddDate(0, 0, 1), "2000", "1000"),
	})

	assert.Len(t, returns, 1)
	assert.True(t, returns[0].DailyReturn.IsZero(),
		"deposit-driven growth must yield zero return, got %s", returns[0].DailyReturn)
}

func TestBuildReturns_WithdrawalIsNotALoss(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	returns := BuildReturns([]models.ValuationPoint{
		valuation(day, "1000", "0"),
		valuation(day.AddDate(0, 0, 1), "520", "-500"),
	})

	assert.Len(t, returns, 1)
	assertDecimal(t, "0.02", returns[0].DailyReturn, "market gain survives the withdrawal")
}

func TestBuildReturns_ZeroPriorValuation(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	returns := BuildReturns([]models.ValuationPoint{
		valuation(day, "0", "0"),
		valuation(day.AddDate(0, 0, 1), "1000", "1000"),
		valuation(day.AddDate(0, 0, 2), "1100", "0"),
	})

	assert.Len(t, returns, 2)
	assert.True(t, returns[0].DailyReturn.IsZero(), "no return out of an empty portfolio")
	assertDecimal(t, "0.1", returns[1].DailyReturn, "ordinary day after funding")
}

func TestBuildReturns_TooShort(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, BuildReturns(nil))
	assert.Nil(t, BuildReturns([]models.ValuationPoint{valuation(day, "1000", "0")}))
}

func TestBuildPriceReturns(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	quotes := []models.PriceQuote{
		{Price: decimal.RequireFromString("100"), Timestamp: day},
		{Price: decimal.RequireFromString("105"), Timestamp: day.AddDate(0, 0, 1)},
		{Price: decimal.RequireFromString("105"), Timestamp: day.AddDate(0, 0, 2)},
	}

	returns := BuildPriceReturns(quotes)

	assert.Len(t, returns, 2)
	assertDecimal(t, "0.05", returns[0].DailyReturn, "benchmark up day")
	assert.True(t, returns[1].DailyReturn.IsZero())
}
