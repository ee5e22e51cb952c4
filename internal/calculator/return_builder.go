package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
)

// BuildReturns converts a daily valuation series into cash-flow-neutral daily
// returns. The naive (V[t]-V[t-1])/V[t-1] is wrong whenever capital moves in
// or out: a deposit inflates V[t] without any market gain. The rule used here
// subtracts the day's external cash flow from the numerator:
//
//	r[t] = (V[t] - CF[t] - V[t-1]) / V[t-1]   when V[t-1] > 0
//	r[t] = 0                                  when V[t-1] == 0
//
// A fresh deposit into an empty portfolio is not a return. The first point of
// the series has no prior valuation and is excluded rather than forward-filled
// with zero, so it cannot pollute volatility.
func BuildReturns(valuations []models.ValuationPoint) []models.ReturnPoint {
	if len(valuations) < 2 {
		return nil
	}

	returns := make([]models.ReturnPoint, 0, len(valuations)-1)

	for i := 1; i < len(valuations); i++ {
		prev := valuations[i-1].MarketValue
		current := valuations[i]

		dailyReturn := decimal.Zero
		if prev.IsPositive() {
			dailyReturn = current.MarketValue.
				Sub(current.ExternalCashFlow).
				Sub(prev).
				Div(prev)
		}

		returns = append(returns, models.ReturnPoint{
			Date:        current.Date,
			DailyReturn: dailyReturn,
		})
	}

	return returns
}

// BuildPriceReturns derives a benchmark return series from a plain price
// series (no cash flows to neutralize). Days without a positive prior price
// are skipped.
func BuildPriceReturns(quotes []models.PriceQuote) []models.ReturnPoint {
	if len(quotes) < 2 {
		return nil
	}

	returns := make([]models.ReturnPoint, 0, len(quotes)-1)
	for i := 1; i < len(quotes); i++ {
		prev := quotes[i-1].Price
		if !prev.IsPositive() {
			continue
		}
		returns = append(returns, models.ReturnPoint{
			Date:        models.Day(quotes[i].Timestamp),
			DailyReturn: quotes[i].Price.Sub(prev).Div(prev),
		})
	}
	return returns
}
