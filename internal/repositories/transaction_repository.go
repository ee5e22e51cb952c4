package repositories

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
)

// LedgerReader is the read surface over the transaction ledger. Transactions
// come back in chronological order: (date, creation_sequence) ascending, so
// same-day entries replay in recording order.
type LedgerReader interface {
	ListTransactions(ctx context.Context, portfolioID string) ([]models.Transaction, error)
	ListAssetTransactions(ctx context.Context, portfolioID, assetID string) ([]models.Transaction, error)
	ListPortfolioIDs(ctx context.Context) ([]string, error)
	LastTransactionDate(ctx context.Context, portfolioID string) (time.Time, error)
}

type TransactionRepository struct {
	collection *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) *TransactionRepository {
	return &TransactionRepository{
		collection: db.Collection("transactions"),
	}
}

var chronologicalSort = bson.D{
	{Key: "date", Value: 1},
	{Key: "creation_sequence", Value: 1},
}

func (r *TransactionRepository) ListTransactions(ctx context.Context, portfolioID string) ([]models.Transaction, error) {
	return r.find(ctx, bson.M{"portfolio_id": portfolioID})
}

func (r *TransactionRepository) ListAssetTransactions(ctx context.Context, portfolioID, assetID string) ([]models.Transaction, error) {
	return r.find(ctx, bson.M{
		"portfolio_id": portfolioID,
		"asset_id":     assetID,
	})
}

func (r *TransactionRepository) find(ctx context.Context, filter bson.M) ([]models.Transaction, error) {
	opts := options.Find().SetSort(chronologicalSort)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var transactions []models.Transaction
	if err := cursor.All(ctx, &transactions); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}

	return transactions, nil
}

func (r *TransactionRepository) ListPortfolioIDs(ctx context.Context) ([]string, error) {
	values, err := r.collection.Distinct(ctx, "portfolio_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	return toStrings(values), nil
}

// LastTransactionDate returns the date of the most recent ledger entry for a
// portfolio, or the zero time when the ledger is empty.
func (r *TransactionRepository) LastTransactionDate(ctx context.Context, portfolioID string) (time.Time, error) {
	opts := options.FindOne().SetSort(bson.D{
		{Key: "date", Value: -1},
		{Key: "creation_sequence", Value: -1},
	})

	var tx models.Transaction
	err := r.collection.FindOne(ctx, bson.M{"portfolio_id": portfolioID}, opts).Decode(&tx)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to find last transaction: %w", err)
	}

	return tx.Date, nil
}

func toStrings(values []interface{}) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}
