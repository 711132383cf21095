package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/internal/constants"
	"github.com/0xmhha/staking-indexer-go/types"
)

// UpsertValidatorMetrics writes the validator's metrics for one epoch,
// keyed by (validator_account_id, epoch), and appends the performance entry
// to a bounded history window on the same document.
func (s *Store) UpsertValidatorMetrics(ctx context.Context, m *types.ValidatorMetrics, perf *types.ValidatorPerformance) error {
	filter := bson.M{
		"validator_account_id": m.ValidatorAccountID,
		"epoch":                m.Epoch,
	}

	update := bson.M{
		"$set": bson.M{
			"epoch_id":         m.EpochID,
			"total_staked":     m.TotalStaked,
			"total_delegators": m.TotalDelegators,
			"apy":              m.APY,
			"rewards":          m.Rewards,
			"uptime":           m.Uptime,
			"timestamp":        m.Timestamp,
		},
	}
	if perf != nil {
		update["$push"] = bson.M{
			"history": bson.M{
				"$each":  []types.ValidatorPerformance{*perf},
				"$slice": -constants.MetricsHistoryLimit,
			},
		}
	}

	_, err := s.db.Collection(CollValidatorMetrics).UpdateOne(ctx, filter, update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert validator metrics: %w", err)
	}

	s.logger.Debug("validator metrics saved",
		zap.String("validator", m.ValidatorAccountID),
		zap.Uint64("epoch", m.Epoch),
		zap.Float64("apy", m.APY),
	)
	return nil
}

// ValidatorMetricsForEpoch returns the stored metrics for an epoch, or nil
// when the epoch has not been recorded.
func (s *Store) ValidatorMetricsForEpoch(ctx context.Context, validatorID string, epoch uint64) (*types.ValidatorMetrics, error) {
	filter := bson.M{
		"validator_account_id": validatorID,
		"epoch":                epoch,
	}

	var m types.ValidatorMetrics
	err := s.db.Collection(CollValidatorMetrics).FindOne(ctx, filter).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query validator metrics: %w", err)
	}
	return &m, nil
}

// UpsertValidatorPerformance writes the block/chunk production record for
// one epoch, keyed by (validator_id, epoch).
func (s *Store) UpsertValidatorPerformance(ctx context.Context, p *types.ValidatorPerformance) error {
	filter := bson.M{
		"validator_id": p.ValidatorID,
		"epoch":        p.Epoch,
	}
	update := bson.M{"$set": p}

	_, err := s.db.Collection(CollValidatorPerformance).UpdateOne(ctx, filter, update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert validator performance: %w", err)
	}
	return nil
}

// SaveEpochData upserts the per-epoch rollup document, keyed by
// (epoch, validator_account_id). It is derived data, rebuildable from the
// transactions and delegators collections.
func (s *Store) SaveEpochData(ctx context.Context, data *types.EpochData) error {
	filter := bson.M{
		"epoch":                data.Epoch,
		"validator_account_id": data.ValidatorAccountID,
	}
	update := bson.M{"$set": data}

	_, err := s.db.Collection(CollEpochData).UpdateOne(ctx, filter, update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save epoch data: %w", err)
	}
	return nil
}
