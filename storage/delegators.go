package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/types"
)

// SaveDelegatorSnapshots upserts per-delegator epoch snapshots, keyed by
// (delegator_id, validator_account_id, epoch). Writes are chunked into
// batches so a large delegator set does not produce one oversized bulk
// operation.
func (s *Store) SaveDelegatorSnapshots(ctx context.Context, snapshots []types.Delegator) error {
	if len(snapshots) == 0 {
		return nil
	}

	coll := s.db.Collection(CollDelegators)

	for start := 0; start < len(snapshots); start += s.delegatorBatchSize {
		end := start + s.delegatorBatchSize
		if end > len(snapshots) {
			end = len(snapshots)
		}
		batch := snapshots[start:end]

		models := make([]mongo.WriteModel, len(batch))
		for i, d := range batch {
			filter := bson.M{
				"delegator_id":         d.DelegatorID,
				"validator_account_id": d.ValidatorAccountID,
				"epoch":                d.Epoch,
			}
			models[i] = mongo.NewReplaceOneModel().
				SetFilter(filter).
				SetReplacement(d).
				SetUpsert(true)
		}

		if _, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("failed to upsert delegator batch [%d:%d]: %w", start, end, err)
		}

		s.logger.Debug("saved delegator snapshots",
			zap.Int("batch", len(batch)),
			zap.Int("total", len(snapshots)),
		)
	}

	return nil
}

// LatestDelegatorSnapshot returns the most recent epoch snapshot for a
// delegator on the given validator, or nil when none is stored.
func (s *Store) LatestDelegatorSnapshot(ctx context.Context, delegatorID, validatorID string) (*types.Delegator, error) {
	filter := bson.M{
		"delegator_id":         delegatorID,
		"validator_account_id": validatorID,
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "epoch", Value: -1}})

	var d types.Delegator
	err := s.db.Collection(CollDelegators).FindOne(ctx, filter, opts).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query delegator snapshot: %w", err)
	}
	return &d, nil
}

// DelegatorsForEpoch returns all delegator snapshots recorded for an epoch.
func (s *Store) DelegatorsForEpoch(ctx context.Context, validatorID string, epoch uint64) ([]types.Delegator, error) {
	filter := bson.M{
		"validator_account_id": validatorID,
		"epoch":                epoch,
	}

	cursor, err := s.db.Collection(CollDelegators).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query epoch delegators: %w", err)
	}
	defer cursor.Close(ctx)

	var delegators []types.Delegator
	if err := cursor.All(ctx, &delegators); err != nil {
		return nil, fmt.Errorf("failed to decode delegators: %w", err)
	}
	return delegators, nil
}
