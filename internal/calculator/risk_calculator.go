package calculator

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
)

const (
	tradingDaysPerYear  = 252
	tradingDaysPerWeek  = 5
	tradingDaysPerMonth = 21

	// percentPlaces is the fixed display precision for percentage outputs;
	// ratios get ratioPlaces. Deterministic rounding keeps cached results
	// and test expectations stable.
	percentPlaces = 1
	ratioPlaces   = 2
)

// RiskCalculator derives risk and performance statistics from a daily return
// series. It is stateless: identical inputs always produce identical outputs,
// which is what makes the results safe to cache.
type RiskCalculator struct{}

func NewRiskCalculator() *RiskCalculator {
	return &RiskCalculator{}
}

// ComputeRiskMetrics computes the full metric set for a return series against
// an optional benchmark. Insufficient data never raises an error: metrics that
// cannot be computed are zero, and metrics that are undefined (Sharpe on a
// flat series, beta without overlap) are nil.
func (rc *RiskCalculator) ComputeRiskMetrics(returns, benchmarkReturns []models.ReturnPoint, period string) *models.RiskMetrics {
	result := &models.RiskMetrics{
		Period:       period,
		Observations: len(returns),
		ComputedAt:   time.Now().UTC(),
	}

	if len(returns) < 2 {
		return result
	}

	daily := make([]float64, len(returns))
	for i, r := range returns {
		daily[i], _ = r.DailyReturn.Float64()
	}

	stdDev, err := stats.StandardDeviationSample(daily)
	if err != nil {
		stdDev = 0
	}
	annualizedVol := stdDev * math.Sqrt(tradingDaysPerYear)
	result.Volatility = toPercent(annualizedVol)

	// Sharpe is undefined on a flat series; a nil ratio is the answer, not
	// an infinity.
	if stdDev > 0 {
		mean, _ := stats.Mean(daily)
		sharpe := roundRatio((mean * tradingDaysPerYear) / annualizedVol)
		result.SharpeRatio = &sharpe
	}

	sorted := sortedReturns(returns)
	var95 := historicalVaR(sorted, 0.95)
	var99 := historicalVaR(sorted, 0.99)
	cvar95 := conditionalVaR(sorted, 0.95)
	cvar99 := conditionalVaR(sorted, 0.99)

	result.VaR95 = toPercentDecimal(var95)
	result.VaR99 = toPercentDecimal(var99)
	result.CVaR95 = toPercentDecimal(cvar95)
	result.CVaR99 = toPercentDecimal(cvar99)

	// Scaled VaR assumes independent daily returns; it is a √t
	// approximation, not a full horizon simulation.
	sqrtWeek := decimal.NewFromFloat(math.Sqrt(tradingDaysPerWeek))
	sqrtMonth := decimal.NewFromFloat(math.Sqrt(tradingDaysPerMonth))
	result.VaR95OneWeek = toPercentDecimal(var95.Mul(sqrtWeek))
	result.VaR95OneMonth = toPercentDecimal(var95.Mul(sqrtMonth))

	// How much worse the tail mean is than the VaR cutoff.
	result.TailExposure = result.CVaR95.Sub(result.VaR95).Round(percentPlaces)

	result.MaxDrawdown, result.MaxDrawdownDate = maxDrawdown(returns)

	if beta, ok := rc.beta(returns, benchmarkReturns); ok {
		result.Beta = &beta
	}

	return result
}

// historicalVaR selects sorted[floor(n*(1-c))] from the ascending-sorted
// return series. For n=100 at 95% confidence this is index 5, the 6th-worst
// observation. Under a skewed distribution the result can even be positive.
// The convention is preserved exactly for output compatibility.
func historicalVaR(sorted []decimal.Decimal, confidence float64) decimal.Decimal {
	if len(sorted) == 0 {
		return decimal.Zero
	}

	index := int(float64(len(sorted)) * (1 - confidence))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}

// conditionalVaR averages the worst floor(n*(1-c)) returns. When that count
// is zero the single worst observation stands in for the tail.
func conditionalVaR(sorted []decimal.Decimal, confidence float64) decimal.Decimal {
	if len(sorted) == 0 {
		return decimal.Zero
	}

	count := int(float64(len(sorted)) * (1 - confidence))
	if count == 0 {
		return sorted[0]
	}
	if count > len(sorted) {
		count = len(sorted)
	}

	sum := decimal.Zero
	for i := 0; i < count; i++ {
		sum = sum.Add(sorted[i])
	}

	return sum.Div(decimal.NewFromInt(int64(count)))
}

// maxDrawdown walks the cumulative growth series ∏(1+r) and reports the
// largest peak-to-trough decline as a positive percentage, together with the
// trough date.
func maxDrawdown(returns []models.ReturnPoint) (decimal.Decimal, time.Time) {
	one := decimal.NewFromInt(1)

	cumulative := one
	peak := one
	maxDecline := decimal.Zero
	var troughDate time.Time

	for _, r := range returns {
		cumulative = cumulative.Mul(one.Add(r.DailyReturn))

		if cumulative.GreaterThan(peak) {
			peak = cumulative
		}

		if peak.IsPositive() {
			decline := peak.Sub(cumulative).Div(peak)
			if decline.GreaterThan(maxDecline) {
				maxDecline = decline
				troughDate = r.Date
			}
		}
	}

	return toPercentDecimal(maxDecline), troughDate
}

// beta computes cov(portfolio, benchmark)/var(benchmark) over the overlapping
// date range only. It is undefined with fewer than two overlapping points or
// a flat benchmark.
func (rc *RiskCalculator) beta(returns, benchmarkReturns []models.ReturnPoint) (decimal.Decimal, bool) {
	if len(benchmarkReturns) == 0 {
		return decimal.Zero, false
	}

	benchmarkByDate := make(map[time.Time]float64, len(benchmarkReturns))
	for _, b := range benchmarkReturns {
		benchmarkByDate[models.Day(b.Date)], _ = b.DailyReturn.Float64()
	}

	var portfolio, benchmark []float64
	for _, r := range returns {
		if b, ok := benchmarkByDate[models.Day(r.Date)]; ok {
			v, _ := r.DailyReturn.Float64()
			portfolio = append(portfolio, v)
			benchmark = append(benchmark, b)
		}
	}

	if len(portfolio) < 2 {
		return decimal.Zero, false
	}

	covariance, err := stats.Covariance(portfolio, benchmark)
	if err != nil {
		return decimal.Zero, false
	}

	variance, err := stats.SampleVariance(benchmark)
	if err != nil || variance == 0 {
		return decimal.Zero, false
	}

	return roundRatio(covariance / variance), true
}

func sortedReturns(returns []models.ReturnPoint) []decimal.Decimal {
	sorted := make([]decimal.Decimal, len(returns))
	for i, r := range returns {
		sorted[i] = r.DailyReturn
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})
	return sorted
}

func toPercent(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).Round(percentPlaces)
}

func toPercentDecimal(v decimal.Decimal) decimal.Decimal {
	return v.Mul(decimal.NewFromInt(100)).Round(percentPlaces)
}

func roundRatio(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(ratioPlaces)
}
