package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType identifies the accounting effect of a ledger entry
type TransactionType string

const (
	TransactionBuy           TransactionType = "BUY"
	TransactionSell          TransactionType = "SELL"
	TransactionDividend      TransactionType = "DIVIDEND"
	TransactionFee           TransactionType = "FEE"
	TransactionSplit         TransactionType = "SPLIT"
	TransactionTransferIn    TransactionType = "TRANSFER_IN"
	TransactionTransferOut   TransactionType = "TRANSFER_OUT"
	TransactionConversionIn  TransactionType = "CONVERSION_IN"
	TransactionConversionOut TransactionType = "CONVERSION_OUT"
)

// MetadataSplitRatio is the metadata key holding a split's "N:M" ratio.
const MetadataSplitRatio = "split_ratio"

// Transaction is one immutable ledger entry. The ledger store owns these;
// corrections are new entries, never in-place edits.
type Transaction struct {
	ID               string            `bson:"_id,omitempty" json:"id"`
	PortfolioID      string            `bson:"portfolio_id" json:"portfolio_id"`
	AssetID          string            `bson:"asset_id" json:"asset_id"`
	Date             time.Time         `bson:"date" json:"date"`
	Type             TransactionType   `bson:"type" json:"type"`
	Quantity         decimal.Decimal   `bson:"quantity" json:"quantity"`
	Price            decimal.Decimal   `bson:"price" json:"price"`
	Fees             decimal.Decimal   `bson:"fees" json:"fees"`
	Currency         string            `bson:"currency" json:"currency"`
	CreationSequence int64             `bson:"creation_sequence" json:"creation_sequence"`
	Metadata         map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// Valid reports whether the type is a known ledger entry type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionBuy, TransactionSell, TransactionDividend, TransactionFee,
		TransactionSplit, TransactionTransferIn, TransactionTransferOut,
		TransactionConversionIn, TransactionConversionOut:
		return true
	}
	return false
}

// IsAcquisition reports whether the entry increases the asset's quantity
func (t TransactionType) IsAcquisition() bool {
	return t == TransactionBuy || t == TransactionTransferIn || t == TransactionConversionIn
}

// IsDisposal reports whether the entry decreases the asset's quantity
func (t TransactionType) IsDisposal() bool {
	return t == TransactionSell || t == TransactionTransferOut || t == TransactionConversionOut
}

// SplitRatio parses the "N:M" ratio from the transaction metadata and returns
// the quantity multiplier N/M. A malformed or missing ratio returns a
// multiplier of 1 together with an error so the caller can log a data-quality
// warning; it is never fatal.
func (tx *Transaction) SplitRatio() (decimal.Decimal, error) {
	one := decimal.NewFromInt(1)

	raw, ok := tx.Metadata[MetadataSplitRatio]
	if !ok || raw == "" {
		return one, fmt.Errorf("split %s has no ratio", tx.ID)
	}

	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return one, fmt.Errorf("split %s has malformed ratio %q", tx.ID, raw)
	}

	num, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || num <= 0 {
		return one, fmt.Errorf("split %s has malformed ratio %q", tx.ID, raw)
	}

	den, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || den <= 0 {
		return one, fmt.Errorf("split %s has malformed ratio %q", tx.ID, raw)
	}

	return decimal.NewFromFloat(num).Div(decimal.NewFromFloat(den)), nil
}

// CashFlow returns the signed external capital movement the entry represents:
// positive when capital enters the investable base (buys, transfers in,
// conversions in), negative when it leaves. Dividends, fees and splits are
// organic to the portfolio and contribute nothing.
func (tx *Transaction) CashFlow() decimal.Decimal {
	switch {
	case tx.Type.IsAcquisition():
		return tx.Quantity.Mul(tx.Price).Add(tx.Fees)
	case tx.Type.IsDisposal():
		return tx.Quantity.Mul(tx.Price).Sub(tx.Fees).Neg()
	default:
		return decimal.Zero
	}
}

// SortChronological sorts transactions ascending by (date, creation_sequence).
// Creation order breaks same-day ties; storage iteration order is never
// trusted for accounting.
func SortChronological(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Date.Equal(txs[j].Date) {
			return txs[i].CreationSequence < txs[j].CreationSequence
		}
		return txs[i].Date.Before(txs[j].Date)
	})
}
