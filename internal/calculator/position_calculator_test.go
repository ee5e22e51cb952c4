package calculator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func buy(assetID string, date time.Time, seq int64, quantity, price, fees string) models.Transaction {
	return models.Transaction{
		AssetID:          assetID,
		Date:             date,
		Type:             models.TransactionBuy,
		Quantity:         decimal.RequireFromString(quantity),
		Price:            decimal.RequireFromString(price),
		Fees:             decimal.RequireFromString(fees),
		CreationSequence: seq,
	}
}

func sell(assetID string, date time.Time, seq int64, quantity, price, fees string) models.Transaction {
	return models.Transaction{
		AssetID:          assetID,
		Date:             date,
		Type:             models.TransactionSell,
		Quantity:         decimal.RequireFromString(quantity),
		Price:            decimal.RequireFromString(price),
		Fees:             decimal.RequireFromString(fees),
		CreationSequence: seq,
	}
}

func split(assetID string, date time.Time, seq int64, ratio string) models.Transaction {
	return models.Transaction{
		AssetID:          assetID,
		Date:             date,
		Type:             models.TransactionSplit,
		CreationSequence: seq,
		Metadata:         map[string]string{models.MetadataSplitRatio: ratio},
	}
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, label string) {
	t.Helper()
	assert.True(t, actual.Equal(decimal.RequireFromString(expected)),
		"%s: expected %s, got %s", label, expected, actual)
}

func TestPositionCalculator_BuyAccumulatesCost(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		buy("AAPL", day, 1, "10", "150", "10"),
	})

	assertDecimal(t, "10", position.Quantity, "quantity")
	assertDecimal(t, "1510", position.CostBasis, "cost basis")
	assertDecimal(t, "151", position.AverageCost, "average cost")
}

func TestPositionCalculator_SellReducesBasisProportionally(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		buy("AAPL", day, 1, "10", "150", "10"),
		sell("AAPL", day.AddDate(0, 0, 5), 2, "5", "170", "10"),
	})

	// The sale price never touches the remaining basis: 5 shares leave at
	// the held average of 151.
	assertDecimal(t, "5", position.Quantity, "quantity")
	assertDecimal(t, "755", position.CostBasis, "cost basis")
	assertDecimal(t, "151", position.AverageCost, "average cost")
}

func TestPositionCalculator_FullDisposalZeroesBasis(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		buy("AAPL", day, 1, "3", "99.99", "1"),
		sell("AAPL", day.AddDate(0, 0, 1), 2, "3", "120", "1"),
	})

	assert.True(t, position.Quantity.IsZero(), "quantity should be zero")
	assert.True(t, position.CostBasis.IsZero(), "cost basis should be exactly zero, got %s", position.CostBasis)
	assert.True(t, position.AverageCost.IsZero(), "average cost should be zero")
	assert.False(t, position.Open())
}

func TestPositionCalculator_SplitMultipliesQuantityOnly(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		buy("AAPL", day, 1, "10", "150", "10"),
		split("AAPL", day.AddDate(0, 0, 3), 2, "2:1"),
	})

	assertDecimal(t, "20", position.Quantity, "quantity")
	assertDecimal(t, "1510", position.CostBasis, "cost basis")
	assertDecimal(t, "75.5", position.AverageCost, "average cost")
}

func TestPositionCalculator_ReverseSplit(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		buy("XYZ", day, 1, "100", "2", "0"),
		split("XYZ", day.AddDate(0, 0, 3), 2, "1:10"),
	})

	assertDecimal(t, "10", position.Quantity, "quantity")
	assertDecimal(t, "200", position.CostBasis, "cost basis")
	assertDecimal(t, "20", position.AverageCost, "average cost")
}

func TestPositionCalculator_MalformedSplitDefaultsToOne(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		buy("AAPL", day, 1, "10", "150", "0"),
		split("AAPL", day.AddDate(0, 0, 3), 2, "garbage"),
	})

	assertDecimal(t, "10", position.Quantity, "quantity")
	assertDecimal(t, "1500", position.CostBasis, "cost basis")
}

func TestPositionCalculator_ComputeAsOfIncludesBoundary(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	later := day.AddDate(0, 0, 5)

	txs := []models.Transaction{
		buy("AAPL", day, 1, "10", "150", "0"),
		sell("AAPL", later, 2, "5", "170", "0"),
	}

	asOf := calc.ComputeAsOf(txs, later)
	assertDecimal(t, "5", asOf.Quantity, "as-of quantity includes same-instant sale")

	before := calc.ComputeBefore(txs, later)
	assertDecimal(t, "10", before.Quantity, "pre-trade quantity excludes same-instant sale")
}

func TestPositionCalculator_SameDayOrderRespected(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	// Recording order decides: the buy folds first, so the sale is covered.
	txs := []models.Transaction{
		buy("AAPL", day, 1, "10", "100", "0"),
		sell("AAPL", day, 2, "10", "110", "0"),
	}
	models.SortChronological(txs)

	position := calc.Compute(txs)
	assert.True(t, position.Quantity.IsZero())
	assert.True(t, position.CostBasis.IsZero())
}

func TestPositionCalculator_Idempotence(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	txs := []models.Transaction{
		buy("AAPL", day, 1, "10", "150", "10"),
		sell("AAPL", day.AddDate(0, 0, 5), 2, "3", "170", "5"),
		split("AAPL", day.AddDate(0, 0, 9), 3, "3:2"),
	}

	first := calc.ComputeAsOf(txs, day.AddDate(0, 0, 30))
	second := calc.ComputeAsOf(txs, day.AddDate(0, 0, 30))

	assert.Equal(t, first, second)
}

func TestPositionCalculator_OversoldSurfacedRaw(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		buy("AAPL", day, 1, "5", "100", "0"),
		sell("AAPL", day.AddDate(0, 0, 1), 2, "8", "100", "0"),
	})

	// An inconsistent ledger is the caller's problem to flag; clamping to
	// zero here would hide it.
	assertDecimal(t, "-3", position.Quantity, "quantity")
	assert.True(t, position.AverageCost.IsZero(), "average cost sentinel for non-positive quantity")
}

func TestPositionCalculator_DividendsAndFeesAreNeutral(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		buy("AAPL", day, 1, "10", "150", "0"),
		{AssetID: "AAPL", Date: day.AddDate(0, 0, 1), Type: models.TransactionDividend, Quantity: decimal.NewFromInt(10), Price: decimal.RequireFromString("0.5"), CreationSequence: 2},
		{AssetID: "AAPL", Date: day.AddDate(0, 0, 2), Type: models.TransactionFee, Fees: decimal.NewFromInt(5), CreationSequence: 3},
	})

	assertDecimal(t, "10", position.Quantity, "quantity")
	assertDecimal(t, "1500", position.CostBasis, "cost basis")
}

func TestPositionCalculator_UnrecognizedTypeIgnored(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		buy("AAPL", day, 1, "10", "150", "0"),
		{AssetID: "AAPL", Date: day.AddDate(0, 0, 1), Type: models.TransactionType("AIRDROP"), Quantity: decimal.NewFromInt(99), Price: decimal.NewFromInt(1), CreationSequence: 2},
	})

	// An entry of an unrecognized type is skipped, never folded.
	assertDecimal(t, "10", position.Quantity, "quantity")
	assertDecimal(t, "1500", position.CostBasis, "cost basis")
}

func TestPositionCalculator_TransfersAndConversions(t *testing.T) {
	calc := NewPositionCalculator(newTestLogger())
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	position := calc.Compute([]models.Transaction{
		{AssetID: "BTC", Date: day, Type: models.TransactionTransferIn, Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(30000), CreationSequence: 1},
		{AssetID: "BTC", Date: day.AddDate(0, 0, 1), Type: models.TransactionConversionOut, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(35000), CreationSequence: 2},
	})

	assertDecimal(t, "1", position.Quantity, "quantity")
	assertDecimal(t, "30000", position.CostBasis, "cost basis reduced at held average")
}
