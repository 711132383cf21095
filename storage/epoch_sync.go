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

// SaveCheckpoint appends a completed range to the epoch sync log. The log
// is append-only: a checkpoint is written exactly once, after every block
// of the range has been processed and persisted.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *types.EpochSyncState) error {
	if cp.EndBlock < cp.StartBlock {
		return fmt.Errorf("invalid checkpoint range [%d, %d]", cp.StartBlock, cp.EndBlock)
	}

	if _, err := s.db.Collection(CollEpochSync).InsertOne(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Info("checkpoint saved",
		zap.Uint64("start_block", cp.StartBlock),
		zap.Uint64("end_block", cp.EndBlock),
		zap.String("epoch_id", cp.EpochID),
	)
	return nil
}

// LatestCheckpoint returns the checkpoint with the highest end block, or
// nil when the log is empty (fresh start).
func (s *Store) LatestCheckpoint(ctx context.Context) (*types.EpochSyncState, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "end_block", Value: -1}})

	var cp types.EpochSyncState
	err := s.db.Collection(CollEpochSync).FindOne(ctx, bson.M{}, opts).Decode(&cp)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest checkpoint: %w", err)
	}
	return &cp, nil
}

// Checkpoints returns the full sync log ordered by ascending start block.
func (s *Store) Checkpoints(ctx context.Context) ([]types.EpochSyncState, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start_block", Value: 1}})

	cursor, err := s.db.Collection(CollEpochSync).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer cursor.Close(ctx)

	var checkpoints []types.EpochSyncState
	if err := cursor.All(ctx, &checkpoints); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoints: %w", err)
	}
	return checkpoints, nil
}

// VerifyContinuity checks the sync log for gaps or overlaps between
// consecutive ranges. Each range must start exactly one block after the
// previous one ends.
func (s *Store) VerifyContinuity(ctx context.Context) error {
	checkpoints, err := s.Checkpoints(ctx)
	if err != nil {
		return err
	}
	return checkContinuity(checkpoints)
}

func checkContinuity(checkpoints []types.EpochSyncState) error {
	for i := 1; i < len(checkpoints); i++ {
		prev, cur := checkpoints[i-1], checkpoints[i]
		expected := prev.EndBlock + 1
		if cur.StartBlock != expected {
			return fmt.Errorf("sync log discontinuity: range [%d, %d] follows [%d, %d], expected start %d",
				cur.StartBlock, cur.EndBlock, prev.StartBlock, prev.EndBlock, expected)
		}
	}
	return nil
}

// CheckpointCount returns the number of completed ranges in the sync log.
func (s *Store) CheckpointCount(ctx context.Context) (int64, error) {
	count, err := s.db.Collection(CollEpochSync).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count checkpoints: %w", err)
	}
	return count, nil
}
