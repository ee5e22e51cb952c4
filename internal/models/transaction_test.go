package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransaction_SplitRatio(t *testing.T) {
	tests := []struct {
		name        string
		metadata    map[string]string
		expected    string
		expectError bool
	}{
		{
			name:     "two for one",
			metadata: map[string]string{MetadataSplitRatio: "2:1"},
			expected: "2",
		},
		{
			name:     "three for two",
			metadata: map[string]string{MetadataSplitRatio: "3:2"},
			expected: "1.5",
		},
		{
			name:     "reverse split one for ten",
			metadata: map[string]string{MetadataSplitRatio: "1:10"},
			expected: "0.1",
		},
		{
			name:     "whitespace tolerated",
			metadata: map[string]string{MetadataSplitRatio: " 2 : 1 "},
			expected: "2",
		},
		{
			name:        "missing metadata",
			metadata:    nil,
			expected:    "1",
			expectError: true,
		},
		{
			name:        "empty ratio",
			metadata:    map[string]string{MetadataSplitRatio: ""},
			expected:    "1",
			expectError: true,
		},
		{
			name:        "malformed ratio",
			metadata:    map[string]string{MetadataSplitRatio: "2-1"},
			expected:    "1",
			expectError: true,
		},
		{
			name:        "non-numeric parts",
			metadata:    map[string]string{MetadataSplitRatio: "a:b"},
			expected:    "1",
			expectError: true,
		},
		{
			name:        "zero denominator",
			metadata:    map[string]string{MetadataSplitRatio: "2:0"},
			expected:    "1",
			expectError: true,
		},
		{
			name:        "negative numerator",
			metadata:    map[string]string{MetadataSplitRatio: "-2:1"},
			expected:    "1",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &Transaction{ID: "tx-1", Type: TransactionSplit, Metadata: tt.metadata}

			ratio, err := tx.SplitRatio()

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.True(t, ratio.Equal(decimal.RequireFromString(tt.expected)),
				"expected %s, got %s", tt.expected, ratio)
		})
	}
}

func TestTransaction_CashFlow(t *testing.T) {
	tests := []struct {
		name     string
		txType   TransactionType
		quantity string
		price    string
		fees     string
		expected string
	}{
		{"buy adds capital plus fees", TransactionBuy, "10", "150", "10", "1510"},
		{"transfer in adds capital", TransactionTransferIn, "5", "100", "0", "500"},
		{"conversion in adds capital", TransactionConversionIn, "2", "50", "1", "101"},
		{"sell removes net proceeds", TransactionSell, "5", "170", "10", "-840"},
		{"transfer out removes capital", TransactionTransferOut, "5", "100", "0", "-500"},
		{"dividend is organic", TransactionDividend, "0", "0", "0", "0"},
		{"fee is organic", TransactionFee, "0", "0", "5", "0"},
		{"split moves no capital", TransactionSplit, "0", "0", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &Transaction{
				Type:     tt.txType,
				Quantity: decimal.RequireFromString(tt.quantity),
				Price:    decimal.RequireFromString(tt.price),
				Fees:     decimal.RequireFromString(tt.fees),
			}

			flow := tx.CashFlow()

			assert.True(t, flow.Equal(decimal.RequireFromString(tt.expected)),
				"expected %s, got %s", tt.expected, flow)
		})
	}
}

func TestSortChronological(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	txs := []Transaction{
		{ID: "c", Date: day, CreationSequence: 3},
		{ID: "d", Date: day.AddDate(0, 0, 1), CreationSequence: 1},
		{ID: "a", Date: day, CreationSequence: 1},
		{ID: "b", Date: day, CreationSequence: 2},
	}

	SortChronological(txs)

	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}
