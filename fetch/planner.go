// Package fetch plans block ranges and retrieves chain data for them under
// a bounded-concurrency batching policy, extracting staking transactions
// for one validator pool.
package fetch

import (
	"errors"
	"fmt"

	"github.com/0xmhha/staking-indexer-go/types"
)

// ErrNothingToSync is returned by the planner when the chain head has not
// advanced past the last checkpoint. Callers wait and poll.
var ErrNothingToSync = errors.New("nothing to sync")

// Range is a contiguous inclusive block range.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of blocks in the range.
func (r Range) Len() uint64 {
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// Planner computes the next unsynced block range from checkpoint state.
type Planner struct {
	// startHeight is the genesis start used when no checkpoint exists
	startHeight uint64
	epochBlocks uint64
}

// NewPlanner creates a planner with the configured genesis start and
// epoch length.
func NewPlanner(startHeight, epochBlocks uint64) *Planner {
	return &Planner{startHeight: startHeight, epochBlocks: epochBlocks}
}

// Next computes the next range to sync. last is the latest checkpoint, or
// nil on a fresh start. head is the current finalized chain head. Returns
// ErrNothingToSync when the head has not advanced past the checkpoint.
//
// The next range always starts exactly one block after the last
// checkpointed end, so ranges never overlap and never leave gaps.
func (p *Planner) Next(last *types.EpochSyncState, head uint64) (Range, error) {
	start := p.startHeight
	if last != nil {
		if last.EndBlock < last.StartBlock {
			return Range{}, fmt.Errorf("corrupt checkpoint range [%d, %d]", last.StartBlock, last.EndBlock)
		}
		start = last.EndBlock + 1
	}

	if start > head {
		return Range{}, ErrNothingToSync
	}

	end := start + p.epochBlocks - 1
	if end > head {
		end = head
	}
	return Range{Start: start, End: end}, nil
}

// SubBatches partitions a range into contiguous sub-batches of at most
// batchSize blocks.
func SubBatches(r Range, batchSize uint64) []Range {
	if batchSize == 0 {
		return []Range{r}
	}

	var batches []Range
	for start := r.Start; start <= r.End; start += batchSize {
		end := start + batchSize - 1
		if end > r.End {
			end = r.End
		}
		batches = append(batches, Range{Start: start, End: end})
	}
	return batches
}
