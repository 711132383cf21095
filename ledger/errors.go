package ledger

import "fmt"

// Anomaly kinds
const (
	AnomalyNegativeStake  = "negative_stake"
	AnomalyOverWithdrawal = "over_withdrawal"
)

// ConsistencyError records a ledger invariant violation observed while
// applying a transaction. It does not halt processing: the offending
// snapshot is persisted with its anomaly flag set so downstream analytics
// can see it.
type ConsistencyError struct {
	DelegatorID     string
	Kind            string
	TransactionHash string
	BlockHeight     uint64
	Detail          string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistency (%s) for %s at block %d: %s",
		e.Kind, e.DelegatorID, e.BlockHeight, e.Detail)
}
