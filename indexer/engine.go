// Package indexer drives the sync loop: plan the next block range, fetch
// and extract staking transactions, apply them to the delegator ledger,
// derive validator metrics at epoch boundaries, persist everything, and
// checkpoint. The persisted checkpoint log is the only progress state; a
// restart resumes from the last fully committed range.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/fetch"
	"github.com/0xmhha/staking-indexer-go/internal/constants"
	"github.com/0xmhha/staking-indexer-go/ledger"
	"github.com/0xmhha/staking-indexer-go/rpc"
	"github.com/0xmhha/staking-indexer-go/types"
	"github.com/0xmhha/staking-indexer-go/validator"
)

// ChainClient is the chain surface the engine needs beyond fetching.
type ChainClient interface {
	LatestBlock(ctx context.Context) (*rpc.Block, error)
	BlockAt(ctx context.Context, height uint64) (*rpc.Block, error)
	EpochStartBlock(ctx context.Context, epochID string, low, high uint64) (*rpc.Block, error)
	Validators(ctx context.Context, epochID string) (*rpc.ValidatorsResponse, error)
	PoolAccountsAt(ctx context.Context, poolID string, height uint64) ([]rpc.PoolAccount, error)
}

// Store is the persistence surface the engine writes through.
type Store interface {
	LatestCheckpoint(ctx context.Context) (*types.EpochSyncState, error)
	SaveCheckpoint(ctx context.Context, cp *types.EpochSyncState) error
	VerifyContinuity(ctx context.Context) error
	SaveTransactions(ctx context.Context, txs []types.Transaction) (int, error)
	SaveDelegatorSnapshots(ctx context.Context, snapshots []types.Delegator) error
	DelegatorsForEpoch(ctx context.Context, validatorID string, epoch uint64) ([]types.Delegator, error)
	UpsertValidatorMetrics(ctx context.Context, m *types.ValidatorMetrics, perf *types.ValidatorPerformance) error
	UpsertValidatorPerformance(ctx context.Context, p *types.ValidatorPerformance) error
	SaveEpochData(ctx context.Context, data *types.EpochData) error
}

// RangeFetcher retrieves a block range's staking transactions.
type RangeFetcher interface {
	FetchRange(ctx context.Context, r fetch.Range) ([]types.Transaction, error)
}

// Config holds engine configuration
type Config struct {
	ValidatorID   string
	StartHeight   uint64
	EpochBlocks   uint64
	EpochsPerYear float64
	PollInterval  time.Duration
	// RetryBackoff is the wait after a failed pass before the range is
	// retried
	RetryBackoff time.Duration

	Client  ChainClient
	Store   Store
	Fetcher RangeFetcher
	Logger  *zap.Logger
}

// Engine is the epoch-driven sync engine.
type Engine struct {
	cfg     *Config
	planner *fetch.Planner
	calc    *validator.Calculator
	logger  *zap.Logger
}

// NewEngine creates the sync engine.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.ValidatorID == "" {
		return nil, fmt.Errorf("validator account id is required")
	}
	if cfg.Client == nil || cfg.Store == nil || cfg.Fetcher == nil {
		return nil, fmt.Errorf("client, store, and fetcher are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EpochBlocks == 0 {
		cfg.EpochBlocks = constants.DefaultEpochBlocks
	}
	if cfg.EpochsPerYear <= 0 {
		cfg.EpochsPerYear = constants.DefaultEpochsPerYear
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = constants.DefaultInitialBackoff
	}

	return &Engine{
		cfg:     cfg,
		planner: fetch.NewPlanner(cfg.StartHeight, cfg.EpochBlocks),
		calc:    validator.NewCalculator(cfg.ValidatorID, cfg.EpochsPerYear, logger),
		logger:  logger,
	}, nil
}

// Run executes sync passes until the context is cancelled. A failed pass
// leaves its range uncheckpointed and is retried after a backoff; a
// caught-up engine polls for new blocks.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync engine started",
		zap.String("validator", e.cfg.ValidatorID),
		zap.Uint64("epoch_blocks", e.cfg.EpochBlocks),
	)

	if err := e.cfg.Store.VerifyContinuity(ctx); err != nil {
		return fmt.Errorf("checkpoint log failed continuity check: %w", err)
	}

	for {
		err := e.syncOnce(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			e.logger.Info("sync engine stopping")
			return nil
		case errors.Is(err, fetch.ErrNothingToSync):
			e.logger.Debug("caught up with chain head, polling",
				zap.Duration("poll_interval", e.cfg.PollInterval))
			if !e.sleep(ctx, e.cfg.PollInterval) {
				return nil
			}
		default:
			e.logger.Error("sync pass failed, range remains pending", zap.Error(err))
			if !e.sleep(ctx, e.cfg.RetryBackoff) {
				return nil
			}
		}
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// syncOnce processes exactly one planned range end to end. The checkpoint
// is written last; any failure before that leaves the range pending.
func (e *Engine) syncOnce(ctx context.Context) error {
	last, err := e.cfg.Store.LatestCheckpoint(ctx)
	if err != nil {
		return err
	}

	head, err := e.cfg.Client.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("chain head: %w", err)
	}

	r, err := e.planner.Next(last, head.Header.Height)
	if err != nil {
		return err
	}

	startBlock, err := e.cfg.Client.BlockAt(ctx, r.Start)
	if err != nil {
		return fmt.Errorf("range start block: %w", err)
	}
	epochID := startBlock.Header.EpochID

	// Planned ranges estimate epoch length; real epochs vary, so the range
	// is truncated at any actual boundary before processing.
	r, err = e.alignToEpoch(ctx, r, epochID)
	if err != nil {
		return err
	}

	e.logger.Info("syncing range",
		zap.String("range", r.String()),
		zap.String("epoch_id", epochID),
		zap.Uint64("head", head.Header.Height),
	)

	txs, err := e.cfg.Fetcher.FetchRange(ctx, r)
	if err != nil {
		return err
	}

	// Crossing into a new epoch closes the previous one: rewards are
	// settled and validator metrics emitted.
	crossing := last == nil || last.EpochID != epochID

	epochNum, perf := e.epochInfo(ctx, epochID, last, crossing)

	led := ledger.NewLedger(e.cfg.ValidatorID, epochNum, epochID, e.logger)
	if err := e.seedLedger(ctx, led, epochNum, crossing); err != nil {
		return err
	}

	led.SetRange(r.Start, r.End)
	led.ApplyAll(txs)

	var metrics *types.ValidatorMetrics
	var epochData *types.EpochData
	if crossing {
		totalRewards, err := e.settleRewards(ctx, led, txs, r)
		if err != nil {
			return err
		}
		snapshots := led.Snapshots()
		metrics = e.calc.Metrics(epochNum, epochID, snapshots, totalRewards, perf, time.Now().UTC())

		byID := make(map[string]types.Delegator, len(snapshots))
		for _, snap := range snapshots {
			byID[snap.DelegatorID] = snap
		}
		epochData = &types.EpochData{
			Epoch:              epochNum,
			EpochID:            epochID,
			ValidatorAccountID: e.cfg.ValidatorID,
			StartBlockHeight:   r.Start,
			EndBlockHeight:     r.End,
			Timestamp:          time.Now().UTC(),
			Delegators:         byID,
			Transactions:       txs,
		}
	}

	if err := e.persist(ctx, txs, led.Snapshots(), metrics, perf, epochData); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		// Cancelled mid-pass: do not checkpoint a range we cannot
		// guarantee was fully persisted.
		return err
	}

	return e.cfg.Store.SaveCheckpoint(ctx, &types.EpochSyncState{
		StartBlock: r.Start,
		EndBlock:   r.End,
		EpochID:    epochID,
		Epoch:      epochNum,
		Timestamp:  time.Now().UTC(),
	})
}

// alignToEpoch truncates a range at the first actual epoch boundary so
// every processed block carries the start block's epoch id. The boundary
// is located with a binary search over block headers; the remainder of
// the planned range is picked up by the next pass.
func (e *Engine) alignToEpoch(ctx context.Context, r fetch.Range, epochID string) (fetch.Range, error) {
	for {
		endBlock, err := e.cfg.Client.BlockAt(ctx, r.End)
		if err != nil {
			return fetch.Range{}, fmt.Errorf("range end block: %w", err)
		}
		if endBlock.Header.EpochID == epochID {
			return r, nil
		}

		boundary, err := e.cfg.Client.EpochStartBlock(ctx, endBlock.Header.EpochID, r.Start, r.End)
		if err != nil {
			return fetch.Range{}, fmt.Errorf("locate epoch boundary in %s: %w", r.String(), err)
		}
		if boundary.Header.Height <= r.Start || boundary.Header.Height > r.End {
			return r, nil
		}

		e.logger.Info("range straddles epoch boundary, truncating",
			zap.String("range", r.String()),
			zap.Uint64("boundary", boundary.Header.Height),
			zap.String("next_epoch_id", endBlock.Header.EpochID),
		)
		r.End = boundary.Header.Height - 1
	}
}

// epochInfo resolves the chain's epoch ordinal and this validator's
// production counters. The epoch may be too old for the node to answer;
// the pass then derives the ordinal from the last checkpoint and proceeds
// with a pending performance record.
func (e *Engine) epochInfo(ctx context.Context, epochID string, last *types.EpochSyncState, crossing bool) (uint64, *types.ValidatorPerformance) {
	resp, err := e.cfg.Client.Validators(ctx, epochID)
	if err != nil {
		var ordinal uint64
		if last != nil {
			ordinal = last.Epoch
			if crossing {
				ordinal++
			}
		}
		e.logger.Warn("validator set unavailable for epoch",
			zap.String("epoch_id", epochID),
			zap.Uint64("fallback_epoch", ordinal),
			zap.Error(err))
		return ordinal, e.calc.Performance(rpc.ValidatorInfo{}, ordinal)
	}

	info, ok := e.calc.Find(resp)
	if !ok {
		e.logger.Warn("validator not in current set", zap.String("epoch_id", epochID))
		return resp.EpochHeight, e.calc.Performance(rpc.ValidatorInfo{}, resp.EpochHeight)
	}
	return resp.EpochHeight, e.calc.Performance(info, resp.EpochHeight)
}

// seedLedger loads prior snapshots: the previous epoch's when crossing a
// boundary, the current epoch's when continuing a partially synced epoch.
func (e *Engine) seedLedger(ctx context.Context, led *ledger.Ledger, epochNum uint64, crossing bool) error {
	seedEpoch := epochNum
	if crossing && epochNum > 0 {
		seedEpoch = epochNum - 1
	}

	prior, err := e.cfg.Store.DelegatorsForEpoch(ctx, e.cfg.ValidatorID, seedEpoch)
	if err != nil {
		return fmt.Errorf("seed ledger from epoch %d: %w", seedEpoch, err)
	}
	for _, snap := range prior {
		led.Seed(snap)
	}
	return nil
}

// settleRewards computes per-delegator epoch rewards from pool balances at
// the range end, accrues them, and folds them into earned totals.
func (e *Engine) settleRewards(ctx context.Context, led *ledger.Ledger, txs []types.Transaction, r fetch.Range) (*big.Int, error) {
	accounts, err := e.cfg.Client.PoolAccountsAt(ctx, e.cfg.ValidatorID, r.End)
	if err != nil {
		return nil, fmt.Errorf("pool accounts at %d: %w", r.End, err)
	}

	txsByDelegator := make(map[string][]types.Transaction)
	for _, tx := range txs {
		txsByDelegator[tx.DelegatorAddress] = append(txsByDelegator[tx.DelegatorAddress], tx)
	}

	// Snapshots already include this range's stake movements; undo the
	// net change to recover each delegator's stake entering the epoch.
	prevStakes := make(map[string]*big.Int)
	for _, snap := range led.Snapshots() {
		initial, _ := types.ParseAmount(snap.InitialStake)
		compounded, _ := types.ParseAmount(snap.AutoCompoundedStake)
		stake := initial.Add(initial, compounded)
		stake.Sub(stake, ledger.NetStakeChange(txsByDelegator[snap.DelegatorID]))
		prevStakes[snap.DelegatorID] = stake
	}

	total := new(big.Int)
	for _, account := range accounts {
		current, err := types.ParseAmount(account.StakedBalance)
		if err != nil {
			e.logger.Warn("unparseable pool balance",
				zap.String("account", account.AccountID), zap.Error(err))
			continue
		}

		previous := prevStakes[account.AccountID]
		if previous == nil {
			previous = new(big.Int)
		}
		net := ledger.NetStakeChange(txsByDelegator[account.AccountID])

		rewards := ledger.CalculateRewards(current, previous, net, e.logger)
		if rewards.Sign() > 0 {
			led.AccruePending(account.AccountID, rewards.String())
			total.Add(total, rewards)
		}
		led.SetAPY(account.AccountID, ledger.CalculateAPY(rewards, current, e.cfg.EpochsPerYear))
	}

	led.FoldPendingRewards()
	return total, nil
}

// persist writes a pass's outputs with bounded retries. Transient database
// failures back off and retry; persistent failure aborts the pass so the
// range stays pending instead of crash-looping.
func (e *Engine) persist(ctx context.Context, txs []types.Transaction, snapshots []types.Delegator, metrics *types.ValidatorMetrics, perf *types.ValidatorPerformance, epochData *types.EpochData) error {
	operation := func() error {
		if _, err := e.cfg.Store.SaveTransactions(ctx, txs); err != nil {
			return err
		}
		if err := e.cfg.Store.SaveDelegatorSnapshots(ctx, snapshots); err != nil {
			return err
		}
		if metrics != nil {
			if err := e.cfg.Store.UpsertValidatorMetrics(ctx, metrics, perf); err != nil {
				return err
			}
			if err := e.cfg.Store.UpsertValidatorPerformance(ctx, perf); err != nil {
				return err
			}
		}
		if epochData != nil {
			if err := e.cfg.Store.SaveEpochData(ctx, epochData); err != nil {
				return err
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(constants.DefaultMaxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}
