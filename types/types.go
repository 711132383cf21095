// Package types defines the persisted document models shared by the
// fetch, ledger, validator, and storage packages. Token amounts are
// arbitrary-precision yoctoNEAR values carried as decimal strings;
// arithmetic on them goes through math/big.
package types

import "time"

// Transaction is a normalized staking transaction. transaction_hash is the
// deduplication key: reprocessing a block must never create a second record.
type Transaction struct {
	TransactionHash  string    `bson:"transaction_hash" json:"transaction_hash"`
	Amount           string    `bson:"amount" json:"amount"`
	Method           string    `bson:"method" json:"method"`
	Action           string    `bson:"action" json:"action"`
	Type             string    `bson:"type" json:"type"`
	BlockHeight      uint64    `bson:"block_height" json:"block_height"`
	Timestamp        time.Time `bson:"timestamp" json:"timestamp"`
	DelegatorAddress string    `bson:"delegator_address" json:"delegator_address"`
	GasFee           string    `bson:"gas_fee" json:"gas_fee"`
}

// Delegator is a per-epoch snapshot of one delegator's position with the
// validator pool. Snapshots are never deleted, only superseded by a
// newer-epoch snapshot for the same delegator.
type Delegator struct {
	DelegatorID        string `bson:"delegator_id" json:"delegator_id"`
	ValidatorAccountID string `bson:"validator_account_id" json:"validator_account_id"`
	Epoch              uint64 `bson:"epoch" json:"epoch"`
	EpochID            string `bson:"epoch_id" json:"epoch_id"`
	StartBlockHeight   uint64 `bson:"start_block_height" json:"start_block_height"`
	EndBlockHeight     uint64 `bson:"end_block_height" json:"end_block_height"`
	Timestamp          uint64 `bson:"timestamp" json:"timestamp"`

	InitialStake        string `bson:"initial_stake" json:"initial_stake"`
	AutoCompoundedStake string `bson:"auto_compounded_stake" json:"auto_compounded_stake"`
	// TotalRewardsEarned is monotonically non-decreasing across snapshots
	TotalRewardsEarned string `bson:"total_rewards_earned" json:"total_rewards_earned"`
	PendingRewards     string `bson:"pending_rewards" json:"pending_rewards"`
	// TokensWithdrawn must never exceed InitialStake + TotalRewardsEarned
	TokensWithdrawn string `bson:"tokens_withdrawn" json:"tokens_withdrawn"`
	LastUpdateBlock uint64 `bson:"last_update_block" json:"last_update_block"`
	APY             float64 `bson:"apy" json:"apy"`

	// Anomaly is set when a consistency violation (negative stake,
	// over-withdrawal) was observed while building this snapshot. The
	// snapshot is persisted anyway so downstream analytics can see it.
	Anomaly string `bson:"anomaly,omitempty" json:"anomaly,omitempty"`
}

// ValidatorMetrics is the per-epoch validator rollup. Derived, recomputed
// each epoch rather than incrementally mutated.
type ValidatorMetrics struct {
	ValidatorAccountID string    `bson:"validator_account_id" json:"validator_account_id"`
	Epoch              uint64    `bson:"epoch" json:"epoch"`
	EpochID            string    `bson:"epoch_id" json:"epoch_id"`
	TotalStaked        string    `bson:"total_staked" json:"total_staked"`
	TotalDelegators    int       `bson:"total_delegators" json:"total_delegators"`
	APY                float64   `bson:"apy" json:"apy"`
	Rewards            string    `bson:"rewards" json:"rewards"`
	Uptime             float64   `bson:"uptime" json:"uptime"`
	Timestamp          time.Time `bson:"timestamp" json:"timestamp"`
}

// ValidatorPerformance captures per-epoch block and chunk production.
// Rates are clamped to [0,1]; an expected count of zero yields a zero rate
// and an explanatory message rather than a computed value.
type ValidatorPerformance struct {
	ValidatorID         string  `bson:"validator_id" json:"validator_id"`
	Epoch               uint64  `bson:"epoch" json:"epoch"`
	BlocksProduced      uint64  `bson:"blocks_produced" json:"blocks_produced"`
	BlocksExpected      uint64  `bson:"blocks_expected" json:"blocks_expected"`
	BlockProductionRate float64 `bson:"block_production_rate" json:"block_production_rate"`
	ChunksProduced      uint64  `bson:"chunks_produced" json:"chunks_produced"`
	ChunksExpected      uint64  `bson:"chunks_expected" json:"chunks_expected"`
	ChunkProductionRate float64 `bson:"chunk_production_rate" json:"chunk_production_rate"`
	Message             string  `bson:"message,omitempty" json:"message,omitempty"`
}

// EpochSyncState is one checkpoint: a fully-processed contiguous block range.
// Entries are non-overlapping and monotonically increasing.
type EpochSyncState struct {
	StartBlock uint64 `bson:"start_block" json:"start_block"`
	EndBlock   uint64 `bson:"end_block" json:"end_block"`
	EpochID    string `bson:"epoch_id" json:"epoch_id"`
	// Epoch is the ordinal of EpochID, kept so replays and fallbacks can
	// derive the next ordinal without the validators endpoint.
	Epoch     uint64    `bson:"epoch" json:"epoch"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// EpochData is the denormalized per-epoch rollup joining delegator snapshots
// and transactions. Derived and rebuildable from the other collections.
type EpochData struct {
	Epoch              uint64               `bson:"epoch" json:"epoch"`
	EpochID            string               `bson:"epoch_id" json:"epoch_id"`
	ValidatorAccountID string               `bson:"validator_account_id" json:"validator_account_id"`
	StartBlockHeight   uint64               `bson:"start_block_height" json:"start_block_height"`
	EndBlockHeight     uint64               `bson:"end_block_height" json:"end_block_height"`
	Timestamp          time.Time            `bson:"timestamp" json:"timestamp"`
	Delegators         map[string]Delegator `bson:"delegators" json:"delegators"`
	Transactions       []Transaction        `bson:"transactions" json:"transactions"`
}

// Transaction action values
const (
	ActionStake   = "stake"
	ActionUnstake = "unstake"
)

// Transaction type values
const (
	TypeStake    = "stake"
	TypeUnstake  = "unstake"
	TypeWithdraw = "withdraw"
)
