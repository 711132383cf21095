// Package ledger maintains per-delegator stake state for one validator
// pool. It is the single-writer aggregation stage: fetch workers hand off
// extracted transactions, and the ledger applies them strictly in ascending
// block-height order so per-delegator state is deterministic regardless of
// fetch completion order.
package ledger

import (
	"math/big"
	"sort"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/types"
)

// Ledger accumulates delegator snapshots for the current epoch. It is not
// safe for concurrent use; all applies happen on a single goroutine.
type Ledger struct {
	validatorID string
	epoch       uint64
	epochID     string
	logger      *zap.Logger

	snapshots map[string]*types.Delegator
	// seeded records each seeded snapshot's last update block. A replayed
	// range re-fetches transactions a prior pass already folded into the
	// persisted snapshot; applies at or below the floor are skipped.
	seeded    map[string]uint64
	anomalies []*ConsistencyError
}

// NewLedger creates an empty ledger for one epoch of one validator pool.
func NewLedger(validatorID string, epoch uint64, epochID string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		validatorID: validatorID,
		epoch:       epoch,
		epochID:     epochID,
		logger:      logger,
		snapshots:   make(map[string]*types.Delegator),
		seeded:      make(map[string]uint64),
	}
}

// Seed carries a delegator's prior-epoch snapshot forward as this epoch's
// starting state. Stake and earned rewards persist across epochs; pending
// rewards were folded when the prior epoch closed.
func (l *Ledger) Seed(prev types.Delegator) {
	l.snapshots[prev.DelegatorID] = &types.Delegator{
		DelegatorID:         prev.DelegatorID,
		ValidatorAccountID:  l.validatorID,
		Epoch:               l.epoch,
		EpochID:             l.epochID,
		InitialStake:        prev.InitialStake,
		AutoCompoundedStake: prev.AutoCompoundedStake,
		TotalRewardsEarned:  prev.TotalRewardsEarned,
		PendingRewards:      "0",
		TokensWithdrawn:     prev.TokensWithdrawn,
		LastUpdateBlock:     prev.LastUpdateBlock,
		Timestamp:           prev.Timestamp,
	}
	l.seeded[prev.DelegatorID] = prev.LastUpdateBlock
}

// ApplyAll sorts transactions by ascending block height and applies them
// one by one. Returned consistency errors have already been logged and
// flagged on the affected snapshots; the caller persists regardless.
func (l *Ledger) ApplyAll(txs []types.Transaction) []*ConsistencyError {
	sorted := make([]types.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BlockHeight < sorted[j].BlockHeight
	})

	for _, tx := range sorted {
		l.Apply(tx)
	}
	return l.anomalies
}

// Apply updates the delegator's snapshot with one transaction. Transactions
// for the same delegator must arrive in ascending block-height order.
// Transactions a prior pass already folded into the seeded snapshot are
// skipped, so replaying a range converges on the same snapshots.
func (l *Ledger) Apply(tx types.Transaction) {
	if tx.BlockHeight <= l.seeded[tx.DelegatorAddress] {
		l.logger.Debug("transaction already reflected in seeded snapshot, skipping",
			zap.String("tx", tx.TransactionHash),
			zap.Uint64("block_height", tx.BlockHeight),
		)
		return
	}
	snap := l.snapshot(tx.DelegatorAddress)

	switch tx.Type {
	case types.TypeStake:
		l.applyStake(snap, tx)
	case types.TypeUnstake:
		l.applyUnstake(snap, tx)
	case types.TypeWithdraw:
		l.applyWithdraw(snap, tx)
	default:
		l.logger.Warn("unknown transaction type, skipping",
			zap.String("type", tx.Type),
			zap.String("tx", tx.TransactionHash),
		)
		return
	}

	snap.LastUpdateBlock = tx.BlockHeight
	if ts := uint64(tx.Timestamp.UnixNano()); ts > snap.Timestamp {
		snap.Timestamp = ts
	}
}

func (l *Ledger) snapshot(delegatorID string) *types.Delegator {
	if snap, ok := l.snapshots[delegatorID]; ok {
		return snap
	}
	snap := &types.Delegator{
		DelegatorID:         delegatorID,
		ValidatorAccountID:  l.validatorID,
		Epoch:               l.epoch,
		EpochID:             l.epochID,
		InitialStake:        "0",
		AutoCompoundedStake: "0",
		TotalRewardsEarned:  "0",
		PendingRewards:      "0",
		TokensWithdrawn:     "0",
	}
	l.snapshots[delegatorID] = snap
	return snap
}

func (l *Ledger) applyStake(snap *types.Delegator, tx types.Transaction) {
	amount, err := types.ParseAmount(tx.Amount)
	if err != nil {
		l.logger.Warn("unparseable stake amount, skipping",
			zap.String("tx", tx.TransactionHash), zap.Error(err))
		return
	}

	initial, _ := types.ParseAmount(snap.InitialStake)
	if initial.Sign() == 0 && snap.AutoCompoundedStake == "0" {
		// First stake ever seen for this delegator.
		snap.InitialStake = amount.String()
		return
	}

	compounded, _ := types.ParseAmount(snap.AutoCompoundedStake)
	snap.AutoCompoundedStake = new(big.Int).Add(compounded, amount).String()
}

func (l *Ledger) applyUnstake(snap *types.Delegator, tx types.Transaction) {
	amount, err := types.ParseAmount(tx.Amount)
	if err != nil {
		l.logger.Warn("unparseable unstake amount, skipping",
			zap.String("tx", tx.TransactionHash), zap.Error(err))
		return
	}

	compounded, _ := types.ParseAmount(snap.AutoCompoundedStake)
	result := new(big.Int).Sub(compounded, amount)
	snap.AutoCompoundedStake = result.String()

	if result.Sign() < 0 {
		l.report(&ConsistencyError{
			DelegatorID:     snap.DelegatorID,
			Kind:            AnomalyNegativeStake,
			TransactionHash: tx.TransactionHash,
			BlockHeight:     tx.BlockHeight,
			Detail:          "unstake of " + amount.String() + " exceeds compounded stake " + compounded.String(),
		}, snap)
	}
}

func (l *Ledger) applyWithdraw(snap *types.Delegator, tx types.Transaction) {
	amount, err := types.ParseAmount(tx.Amount)
	if err != nil {
		l.logger.Warn("unparseable withdraw amount, skipping",
			zap.String("tx", tx.TransactionHash), zap.Error(err))
		return
	}

	withdrawn, _ := types.ParseAmount(snap.TokensWithdrawn)
	withdrawn = new(big.Int).Add(withdrawn, amount)
	snap.TokensWithdrawn = withdrawn.String()

	initial, _ := types.ParseAmount(snap.InitialStake)
	earned, _ := types.ParseAmount(snap.TotalRewardsEarned)
	ceiling := new(big.Int).Add(initial, earned)
	if withdrawn.Cmp(ceiling) > 0 {
		l.report(&ConsistencyError{
			DelegatorID:     snap.DelegatorID,
			Kind:            AnomalyOverWithdrawal,
			TransactionHash: tx.TransactionHash,
			BlockHeight:     tx.BlockHeight,
			Detail:          "withdrawn " + withdrawn.String() + " exceeds initial stake plus rewards " + ceiling.String(),
		}, snap)
	}
}

func (l *Ledger) report(cerr *ConsistencyError, snap *types.Delegator) {
	snap.Anomaly = cerr.Kind
	l.anomalies = append(l.anomalies, cerr)
	l.logger.Error("ledger consistency violation",
		zap.String("delegator", cerr.DelegatorID),
		zap.String("kind", cerr.Kind),
		zap.String("tx", cerr.TransactionHash),
		zap.Uint64("block_height", cerr.BlockHeight),
		zap.String("detail", cerr.Detail),
	)
}

// AccruePending records epoch rewards for a delegator, computed at the
// epoch boundary from validator-reported balances.
func (l *Ledger) AccruePending(delegatorID, amount string) {
	snap := l.snapshot(delegatorID)
	pending, _ := types.ParseAmount(snap.PendingRewards)
	add, err := types.ParseAmount(amount)
	if err != nil {
		l.logger.Warn("unparseable reward amount, skipping",
			zap.String("delegator", delegatorID), zap.Error(err))
		return
	}
	snap.PendingRewards = new(big.Int).Add(pending, add).String()
}

// FoldPendingRewards closes the epoch: every delegator's pending rewards
// are folded into total rewards earned, and pending resets to zero.
// TotalRewardsEarned never decreases since pending is never negative.
func (l *Ledger) FoldPendingRewards() {
	for _, snap := range l.snapshots {
		pending, _ := types.ParseAmount(snap.PendingRewards)
		if pending.Sign() <= 0 {
			snap.PendingRewards = "0"
			continue
		}
		earned, _ := types.ParseAmount(snap.TotalRewardsEarned)
		snap.TotalRewardsEarned = new(big.Int).Add(earned, pending).String()
		snap.PendingRewards = "0"
	}
}

// SetAPY records a delegator's annualized reward rate for this epoch.
func (l *Ledger) SetAPY(delegatorID string, apy float64) {
	if snap, ok := l.snapshots[delegatorID]; ok {
		snap.APY = apy
	}
}

// SetRange stamps the block range this epoch's snapshots cover.
func (l *Ledger) SetRange(start, end uint64) {
	for _, snap := range l.snapshots {
		snap.StartBlockHeight = start
		snap.EndBlockHeight = end
	}
}

// Snapshots returns the current snapshots sorted by delegator id for
// deterministic persistence order.
func (l *Ledger) Snapshots() []types.Delegator {
	out := make([]types.Delegator, 0, len(l.snapshots))
	for _, snap := range l.snapshots {
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DelegatorID < out[j].DelegatorID
	})
	return out
}

// Anomalies returns every consistency violation observed so far.
func (l *Ledger) Anomalies() []*ConsistencyError {
	return l.anomalies
}
