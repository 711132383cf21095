package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/rpc"
)

// mockChain serves a synthetic chain out of memory.
type mockChain struct {
	mu          sync.Mutex
	blocks      map[uint64]*rpc.Block
	chunks      map[string]*rpc.Chunk
	statuses    map[string]*rpc.TxStatus
	failHeights map[uint64]error

	inflight    int32
	maxInflight int32
	delay       time.Duration
}

func newMockChain() *mockChain {
	return &mockChain{
		blocks:      make(map[uint64]*rpc.Block),
		chunks:      make(map[string]*rpc.Chunk),
		statuses:    make(map[string]*rpc.TxStatus),
		failHeights: make(map[uint64]error),
	}
}

// addBlock registers a block with one chunk carrying the given transactions.
func (m *mockChain) addBlock(height uint64, txs ...rpc.ChunkTransaction) {
	chunkHash := fmt.Sprintf("chunk-%d", height)
	m.blocks[height] = &rpc.Block{
		Header: rpc.BlockHeader{Height: height, Timestamp: height * 1e9, EpochID: "ep1"},
		Chunks: []rpc.ChunkHeader{{ChunkHash: chunkHash, HeightIncluded: height}},
	}
	m.chunks[chunkHash] = &rpc.Chunk{
		Header:       rpc.ChunkHeader{ChunkHash: chunkHash, HeightIncluded: height},
		Transactions: txs,
	}
	for _, tx := range txs {
		m.statuses[tx.Hash] = &rpc.TxStatus{}
	}
}

func (m *mockChain) BlockByHeight(ctx context.Context, height uint64) (*rpc.Block, error) {
	cur := atomic.AddInt32(&m.inflight, 1)
	defer atomic.AddInt32(&m.inflight, -1)
	for {
		observed := atomic.LoadInt32(&m.maxInflight)
		if cur <= observed || atomic.CompareAndSwapInt32(&m.maxInflight, observed, cur) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failHeights[height]; ok {
		return nil, err
	}
	block, ok := m.blocks[height]
	if !ok {
		return nil, rpc.ErrUnknownBlock
	}
	return block, nil
}

func (m *mockChain) ChunkByHash(ctx context.Context, chunkHash string) (*rpc.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkHash]
	if !ok {
		return nil, &rpc.MalformedDataError{Method: "chunk", Err: fmt.Errorf("unknown chunk %s", chunkHash)}
	}
	return chunk, nil
}

func (m *mockChain) TxStatus(ctx context.Context, txHash, senderID string) (*rpc.TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[txHash]
	if !ok {
		return nil, &rpc.MalformedDataError{Method: "EXPERIMENTAL_tx_status", Err: fmt.Errorf("unknown tx %s", txHash)}
	}
	return status, nil
}

func stakingChunkTx(hash, signer, amount string) rpc.ChunkTransaction {
	return rpc.ChunkTransaction{
		Hash:       hash,
		SignerID:   signer,
		ReceiverID: "pool.near",
		Actions: []rpc.Action{{
			FunctionCall: &rpc.FunctionCall{
				MethodName: "deposit_and_stake",
				Args:       base64.StdEncoding.EncodeToString([]byte("{}")),
				Deposit:    amount,
			},
		}},
	}
}

func newTestFetcher(t *testing.T, chain *mockChain, parallelLimit int, batchSize uint64) *Fetcher {
	t.Helper()
	f, err := NewFetcher(&Config{
		Client:        chain,
		Parser:        NewParser("pool.near", nil, zap.NewNop()),
		ParallelLimit: parallelLimit,
		BatchSize:     batchSize,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

func TestFetchRangeExtractsInOrder(t *testing.T) {
	chain := newMockChain()
	for h := uint64(100); h <= 109; h++ {
		if h%2 == 0 {
			chain.addBlock(h, stakingChunkTx(fmt.Sprintf("tx-%d", h), "alice.near", "100"))
		} else {
			chain.addBlock(h)
		}
	}

	f := newTestFetcher(t, chain, 4, 3)

	txs, err := f.FetchRange(context.Background(), Range{Start: 100, End: 109})
	if err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}
	if len(txs) != 5 {
		t.Fatalf("transactions = %d, want 5", len(txs))
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].BlockHeight < txs[i-1].BlockHeight {
			t.Errorf("out of order: %d before %d", txs[i-1].BlockHeight, txs[i].BlockHeight)
		}
	}
}

func TestFetchRangeSkipsMissingHeights(t *testing.T) {
	chain := newMockChain()
	chain.addBlock(100, stakingChunkTx("tx-100", "alice.near", "100"))
	// 101 and 102 do not exist on chain.
	chain.addBlock(103, stakingChunkTx("tx-103", "bob.near", "200"))

	f := newTestFetcher(t, chain, 2, 2)

	txs, err := f.FetchRange(context.Background(), Range{Start: 100, End: 103})
	if err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("transactions = %d, want 2", len(txs))
	}
}

func TestFetchRangeBoundedConcurrency(t *testing.T) {
	chain := newMockChain()
	chain.delay = 5 * time.Millisecond
	for h := uint64(1); h <= 40; h++ {
		chain.addBlock(h)
	}

	const limit = 3
	f := newTestFetcher(t, chain, limit, 1)

	if _, err := f.FetchRange(context.Background(), Range{Start: 1, End: 40}); err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}

	if max := atomic.LoadInt32(&chain.maxInflight); max > limit {
		t.Errorf("observed %d concurrent fetches, limit is %d", max, limit)
	}
}

func TestFetchRangeFailedSubBatchLeavesRangePending(t *testing.T) {
	chain := newMockChain()
	for h := uint64(100); h <= 109; h++ {
		chain.addBlock(h, stakingChunkTx(fmt.Sprintf("tx-%d", h), "alice.near", "100"))
	}
	chain.failHeights[107] = &rpc.TransientError{Endpoint: "primary", Err: fmt.Errorf("timeout")}

	f := newTestFetcher(t, chain, 2, 5)

	_, err := f.FetchRange(context.Background(), Range{Start: 100, End: 109})
	if err == nil {
		t.Fatal("FetchRange() succeeded, want failure for pending range")
	}
}

func TestFetchRangeCancellation(t *testing.T) {
	chain := newMockChain()
	chain.delay = 10 * time.Millisecond
	for h := uint64(1); h <= 100; h++ {
		chain.addBlock(h)
	}

	f := newTestFetcher(t, chain, 2, 5)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := f.FetchRange(ctx, Range{Start: 1, End: 100}); err == nil {
		t.Fatal("FetchRange() succeeded despite cancellation")
	}
}

func TestFetchRangeSkipsMalformedTxStatus(t *testing.T) {
	chain := newMockChain()
	good := stakingChunkTx("tx-good", "alice.near", "100")
	bad := stakingChunkTx("tx-bad", "bob.near", "200")
	chain.addBlock(100, good, bad)
	delete(chain.statuses, "tx-bad")

	f := newTestFetcher(t, chain, 1, 10)

	txs, err := f.FetchRange(context.Background(), Range{Start: 100, End: 100})
	if err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}
	if len(txs) != 1 || txs[0].TransactionHash != "tx-good" {
		t.Errorf("transactions = %+v, want only tx-good", txs)
	}
}
