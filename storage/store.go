// Package storage persists indexer state to MongoDB: raw staking
// transactions, per-delegator epoch snapshots, validator metrics, and the
// epoch sync checkpoint log the indexer resumes from.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/internal/constants"
)

// Collection names
const (
	CollTransactions         = "transactions"
	CollDelegators           = "delegators"
	CollValidatorMetrics     = "validator_metrics"
	CollValidatorPerformance = "validator_performance"
	CollEpochSync            = "epoch_sync"
	CollEpochData            = "epoch_data"
)

// Config holds storage configuration
type Config struct {
	URI      string
	Database string
	// ConnectTimeout bounds the initial connect and ping
	ConnectTimeout     time.Duration
	DelegatorBatchSize int
	Logger             *zap.Logger
}

// Store wraps the MongoDB database handle and the write policies the
// indexer relies on (keyed upserts, unordered inserts, batched writes).
type Store struct {
	client             *mongo.Client
	db                 *mongo.Database
	logger             *zap.Logger
	delegatorBatchSize int
}

// NewStore connects to MongoDB and verifies the connection with a ping.
// Connection failure at startup is terminal for the process, so callers
// treat an error here as fatal.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = constants.DefaultConnectTimeout
	}
	batchSize := cfg.DelegatorBatchSize
	if batchSize <= 0 {
		batchSize = constants.DefaultDelegatorBatchSize
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info("connected to mongodb", zap.String("database", cfg.Database))

	return &Store{
		client:             client,
		db:                 client.Database(cfg.Database),
		logger:             logger,
		delegatorBatchSize: batchSize,
	}, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the write paths depend on. The unique
// index on transaction_hash is what makes re-ingesting a range idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		CollTransactions: {
			{
				Keys:    bson.D{{Key: "transaction_hash", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "delegator_address", Value: 1}, {Key: "block_height", Value: 1}},
			},
		},
		CollDelegators: {
			{
				Keys: bson.D{
					{Key: "delegator_id", Value: 1},
					{Key: "validator_account_id", Value: 1},
					{Key: "epoch", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		CollValidatorMetrics: {
			{
				Keys: bson.D{
					{Key: "validator_account_id", Value: 1},
					{Key: "epoch", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		CollValidatorPerformance: {
			{
				Keys: bson.D{
					{Key: "validator_id", Value: 1},
					{Key: "epoch", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		CollEpochSync: {
			{
				Keys: bson.D{{Key: "end_block", Value: -1}},
			},
		},
		CollEpochData: {
			{
				Keys: bson.D{
					{Key: "epoch", Value: 1},
					{Key: "validator_account_id", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", coll, err)
		}
	}

	s.logger.Debug("indexes ensured")
	return nil
}
