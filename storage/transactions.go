package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/types"
)

// SaveTransactions inserts staking transactions, skipping any whose hash is
// already stored. Inserts are unordered so one duplicate does not block the
// rest of the batch. Returns the count of newly inserted documents.
func (s *Store) SaveTransactions(ctx context.Context, txs []types.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	docs := make([]interface{}, len(txs))
	for i, tx := range txs {
		docs[i] = tx
	}

	res, err := s.db.Collection(CollTransactions).InsertMany(ctx, docs,
		options.InsertMany().SetOrdered(false))
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if !errors.As(err, &bulkErr) || !allDuplicateKey(bulkErr) {
			return 0, fmt.Errorf("failed to insert transactions: %w", err)
		}
		s.logger.Debug("skipped duplicate transactions",
			zap.Int("duplicates", len(bulkErr.WriteErrors)),
		)
	}

	inserted := 0
	if res != nil {
		inserted = len(res.InsertedIDs)
	}
	return inserted, nil
}

// allDuplicateKey reports whether every write error in the batch is an
// E11000 duplicate key violation.
func allDuplicateKey(e mongo.BulkWriteException) bool {
	if len(e.WriteErrors) == 0 {
		return false
	}
	for _, we := range e.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

// TransactionsInRange returns staking transactions with block heights in
// [start, end], ordered by ascending block height.
func (s *Store) TransactionsInRange(ctx context.Context, start, end uint64) ([]types.Transaction, error) {
	filter := bson.M{
		"block_height": bson.M{"$gte": start, "$lte": end},
	}
	opts := options.Find().SetSort(bson.D{{Key: "block_height", Value: 1}})

	cursor, err := s.db.Collection(CollTransactions).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []types.Transaction
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txs, nil
}

// DelegatorTransactions returns all stored transactions for one delegator,
// ordered by ascending block height.
func (s *Store) DelegatorTransactions(ctx context.Context, delegator string) ([]types.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "block_height", Value: 1}})

	cursor, err := s.db.Collection(CollTransactions).Find(ctx,
		bson.M{"delegator_address": delegator}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query delegator transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []types.Transaction
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txs, nil
}
