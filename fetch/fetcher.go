package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/internal/constants"
	"github.com/0xmhha/staking-indexer-go/rpc"
	"github.com/0xmhha/staking-indexer-go/types"
)

// ChainSource is the chain data surface the fetcher consumes.
type ChainSource interface {
	BlockByHeight(ctx context.Context, height uint64) (*rpc.Block, error)
	ChunkByHash(ctx context.Context, chunkHash string) (*rpc.Chunk, error)
	TxStatus(ctx context.Context, txHash, senderID string) (*rpc.TxStatus, error)
}

// Config holds fetcher configuration
type Config struct {
	Client ChainSource
	Parser *Parser
	// ParallelLimit caps concurrent sub-batch fetches
	ParallelLimit int
	// BatchSize is the number of blocks per sub-batch
	BatchSize uint64
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Fetcher retrieves block ranges in bounded-concurrency sub-batches and
// extracts staking transactions.
type Fetcher struct {
	client    ChainSource
	parser    *Parser
	pool      pond.Pool
	batchSize uint64
	logger    *zap.Logger
	metrics   *Metrics
}

// NewFetcher creates a fetcher with its own bounded worker pool.
func NewFetcher(cfg *Config) (*Fetcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if cfg.Parser == nil {
		return nil, fmt.Errorf("parser is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parallelLimit := cfg.ParallelLimit
	if parallelLimit <= 0 {
		parallelLimit = constants.DefaultParallelLimit
	}
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = constants.DefaultBatchSize
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	return &Fetcher{
		client:    cfg.Client,
		parser:    cfg.Parser,
		pool:      pond.NewPool(parallelLimit),
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Close stops the worker pool, waiting for in-flight tasks.
func (f *Fetcher) Close() {
	f.pool.StopAndWait()
}

// FetchRange fetches every block of the range in sub-batches and returns
// the extracted staking transactions in block-height order. If any
// sub-batch fails the whole range fails, so the caller leaves it
// uncheckpointed and retries on the next pass; successful sub-batches are
// not wasted work since persisted transactions deduplicate on re-ingest.
func (f *Fetcher) FetchRange(ctx context.Context, r Range) ([]types.Transaction, error) {
	batches := SubBatches(r, f.batchSize)

	var mu sync.Mutex
	results := make([][]types.Transaction, len(batches))
	var failed []Range

	group := f.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i, batch := range batches {
		i, batch := i, batch
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}

			f.metrics.InflightSubBatches.Inc()
			defer f.metrics.InflightSubBatches.Dec()

			txs, err := f.fetchSubBatch(groupCtx, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, batch)
				f.metrics.SubBatchesTotal.WithLabelValues("failed").Inc()
				f.logger.Error("sub-batch failed",
					zap.String("range", batch.String()),
					zap.Error(err),
				)
				return
			}
			results[i] = txs
			f.metrics.SubBatchesTotal.WithLabelValues("ok").Inc()
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("sub-batch group: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("range %s remains pending: %d of %d sub-batches failed",
			r, len(failed), len(batches))
	}

	// Sub-batches are contiguous and results indexed by batch order, so
	// concatenation yields ascending block heights.
	var txs []types.Transaction
	for _, batch := range results {
		txs = append(txs, batch...)
	}
	return txs, nil
}

// fetchSubBatch processes one contiguous block window: block, chunks,
// transaction extraction. Missing blocks are normal (skipped heights);
// malformed records are logged and skipped; transport failures after the
// gateway's retry budget fail the sub-batch.
func (f *Fetcher) fetchSubBatch(ctx context.Context, batch Range) ([]types.Transaction, error) {
	var txs []types.Transaction

	for height := batch.Start; height <= batch.End; height++ {
		block, err := f.client.BlockByHeight(ctx, height)
		if errors.Is(err, rpc.ErrUnknownBlock) {
			f.metrics.BlocksSkippedTotal.Inc()
			f.logger.Debug("no block at height, skipping", zap.Uint64("height", height))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", height, err)
		}
		f.metrics.BlocksFetchedTotal.Inc()

		blockTime := time.Unix(0, int64(block.Header.Timestamp)).UTC()

		for _, header := range block.Chunks {
			if header.HeightIncluded != height {
				continue
			}

			extracted, err := f.processChunk(ctx, header.ChunkHash, height, blockTime)
			if err != nil {
				return nil, fmt.Errorf("chunk %s at %d: %w", header.ChunkHash, height, err)
			}
			txs = append(txs, extracted...)
		}
	}

	return txs, nil
}

func (f *Fetcher) processChunk(ctx context.Context, chunkHash string, height uint64, blockTime time.Time) ([]types.Transaction, error) {
	chunk, err := f.client.ChunkByHash(ctx, chunkHash)
	if err != nil {
		var malformed *rpc.MalformedDataError
		if errors.As(err, &malformed) {
			f.metrics.RecordsSkippedTotal.Inc()
			f.logger.Warn("malformed chunk, skipping", zap.String("chunk", chunkHash), zap.Error(err))
			return nil, nil
		}
		return nil, err
	}

	var txs []types.Transaction
	for _, raw := range chunk.Transactions {
		if !f.parser.Relevant(raw) {
			continue
		}

		status, err := f.client.TxStatus(ctx, raw.Hash, raw.SignerID)
		if err != nil {
			var malformed *rpc.MalformedDataError
			if errors.As(err, &malformed) {
				f.metrics.RecordsSkippedTotal.Inc()
				f.logger.Warn("malformed tx status, skipping", zap.String("tx", raw.Hash), zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("tx status %s: %w", raw.Hash, err)
		}

		if parsed := f.parser.Parse(ctx, raw, status, height, blockTime); parsed != nil {
			txs = append(txs, *parsed)
			f.metrics.TransactionsExtracted.Inc()
		}
	}
	return txs, nil
}
