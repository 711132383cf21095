package rpc

import (
	"context"
	"errors"
	"fmt"
)

// maxSkipProbe bounds how far BlockAt walks forward past skipped heights.
const maxSkipProbe = 5

// BlockAt returns the block at height, walking forward past skipped heights
// up to maxSkipProbe blocks.
func (c *Client) BlockAt(ctx context.Context, height uint64) (*Block, error) {
	for probe := uint64(0); probe < maxSkipProbe; probe++ {
		block, err := c.BlockByHeight(ctx, height+probe)
		if err == nil {
			return block, nil
		}
		if !errors.Is(err, ErrUnknownBlock) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no block within %d heights of %d: %w", maxSkipProbe, height, ErrUnknownBlock)
}

// EpochStartBlock locates the first block of the epoch identified by
// epochID within [low, high]. It binary searches on the epoch id carried in
// block headers: every block of an epoch carries the same id, so the
// boundary is the lowest height whose header matches.
func (c *Client) EpochStartBlock(ctx context.Context, epochID string, low, high uint64) (*Block, error) {
	if low > high {
		return nil, fmt.Errorf("invalid search range [%d, %d]", low, high)
	}

	var boundary *Block
	for low <= high {
		mid := low + (high-low)/2
		block, err := c.BlockAt(ctx, mid)
		if err != nil {
			return nil, fmt.Errorf("epoch boundary search at %d: %w", mid, err)
		}

		if block.Header.EpochID == epochID {
			boundary = block
			if block.Header.Height == 0 {
				break
			}
			high = block.Header.Height - 1
		} else {
			low = block.Header.Height + 1
		}
	}

	if boundary == nil {
		return nil, fmt.Errorf("epoch %s not found in [%d, %d]", epochID, low, high)
	}
	return boundary, nil
}
