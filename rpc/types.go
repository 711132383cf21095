package rpc

// Block is a chain block view: header plus the chunk headers included at
// this height.
type Block struct {
	Header BlockHeader   `json:"header"`
	Chunks []ChunkHeader `json:"chunks"`
}

// BlockHeader holds the block fields the indexer cares about.
type BlockHeader struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
	// EpochID identifies the epoch this block belongs to
	EpochID string `json:"epoch_id"`
	// Timestamp is in nanoseconds since the Unix epoch
	Timestamp uint64 `json:"timestamp"`
}

// ChunkHeader identifies one chunk within a block.
type ChunkHeader struct {
	ChunkHash      string `json:"chunk_hash"`
	ShardID        uint64 `json:"shard_id"`
	HeightIncluded uint64 `json:"height_included"`
}

// Chunk is a full chunk view including its transactions.
type Chunk struct {
	Header       ChunkHeader        `json:"header"`
	Transactions []ChunkTransaction `json:"transactions"`
}

// ChunkTransaction is a raw transaction as carried in a chunk.
type ChunkTransaction struct {
	Hash       string   `json:"hash"`
	SignerID   string   `json:"signer_id"`
	ReceiverID string   `json:"receiver_id"`
	Actions    []Action `json:"actions"`
}

// Action is one action of a transaction. Only function calls matter for
// staking extraction; other variants are carried opaquely.
type Action struct {
	FunctionCall *FunctionCall `json:"FunctionCall,omitempty"`
}

// FunctionCall is a contract invocation action.
type FunctionCall struct {
	MethodName string `json:"method_name"`
	// Args is the base64-encoded JSON argument payload
	Args    string `json:"args"`
	Gas     uint64 `json:"gas"`
	Deposit string `json:"deposit"`
}

// TxStatus is the transaction status view with all receipt outcomes.
type TxStatus struct {
	TransactionOutcome *ReceiptOutcome  `json:"transaction_outcome"`
	ReceiptsOutcome    []ReceiptOutcome `json:"receipts_outcome"`
}

// ReceiptOutcome is the execution outcome of one receipt.
type ReceiptOutcome struct {
	ID      string           `json:"id"`
	Outcome ExecutionOutcome `json:"outcome"`
}

// ExecutionOutcome carries the logs and gas accounting of an execution.
type ExecutionOutcome struct {
	Logs        []string `json:"logs"`
	GasBurnt    uint64   `json:"gas_burnt"`
	TokensBurnt string   `json:"tokens_burnt"`
}

// ValidatorsResponse is the validator set view for an epoch.
type ValidatorsResponse struct {
	CurrentValidators []ValidatorInfo `json:"current_validators"`
	EpochStartHeight  uint64          `json:"epoch_start_height"`
	EpochHeight       uint64          `json:"epoch_height"`
}

// ValidatorInfo holds one validator's stake and production counters for the
// epoch. Produced/expected counts feed the performance calculator.
type ValidatorInfo struct {
	AccountID         string `json:"account_id"`
	Stake             string `json:"stake"`
	NumProducedBlocks uint64 `json:"num_produced_blocks"`
	NumExpectedBlocks uint64 `json:"num_expected_blocks"`
	NumProducedChunks uint64 `json:"num_produced_chunks"`
	NumExpectedChunks uint64 `json:"num_expected_chunks"`
}

// PoolAccount is one delegator account as reported by the staking pool
// contract's get_accounts view method.
type PoolAccount struct {
	AccountID       string `json:"account_id"`
	StakedBalance   string `json:"staked_balance"`
	UnstakedBalance string `json:"unstaked_balance"`
	CanWithdraw     bool   `json:"can_withdraw"`
}
