// Package validator derives per-epoch validator metrics (APY, uptime,
// block and chunk production rates) from raw chain validator responses and
// delegator snapshots.
package validator

import (
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/ledger"
	"github.com/0xmhha/staking-indexer-go/rpc"
	"github.com/0xmhha/staking-indexer-go/types"
)

// PendingMessage marks performance records for epochs where the chain has
// not yet assigned production expectations.
const PendingMessage = "production expectations not yet determined for this epoch"

// Calculator computes validator metrics for one validator pool.
type Calculator struct {
	validatorID   string
	epochsPerYear float64
	logger        *zap.Logger
}

// NewCalculator creates a calculator for the given validator.
func NewCalculator(validatorID string, epochsPerYear float64, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		validatorID:   validatorID,
		epochsPerYear: epochsPerYear,
		logger:        logger,
	}
}

// Find picks this validator out of a validator set response. Returns false
// when the validator is not in the current set.
func (c *Calculator) Find(resp *rpc.ValidatorsResponse) (rpc.ValidatorInfo, bool) {
	for _, v := range resp.CurrentValidators {
		if v.AccountID == c.validatorID {
			return v, true
		}
	}
	return rpc.ValidatorInfo{}, false
}

// Performance derives production rates from the chain's produced/expected
// counters. Rates are clamped to [0, 1]: the chain occasionally reports one
// more produced than expected around epoch transitions.
func (c *Calculator) Performance(info rpc.ValidatorInfo, epoch uint64) *types.ValidatorPerformance {
	perf := &types.ValidatorPerformance{
		ValidatorID:    c.validatorID,
		Epoch:          epoch,
		BlocksProduced: info.NumProducedBlocks,
		BlocksExpected: info.NumExpectedBlocks,
		ChunksProduced: info.NumProducedChunks,
		ChunksExpected: info.NumExpectedChunks,
	}

	perf.BlockProductionRate = productionRate(info.NumProducedBlocks, info.NumExpectedBlocks)
	perf.ChunkProductionRate = productionRate(info.NumProducedChunks, info.NumExpectedChunks)

	if info.NumExpectedBlocks == 0 && info.NumExpectedChunks == 0 {
		perf.Message = PendingMessage
	}
	return perf
}

func productionRate(produced, expected uint64) float64 {
	if expected == 0 {
		return 0
	}
	rate := float64(produced) / float64(expected)
	if rate > 1 {
		rate = 1
	}
	return rate
}

// Uptime combines block and chunk production into one percentage. Epochs
// with no expectations yet report zero.
func Uptime(perf *types.ValidatorPerformance) float64 {
	weights := 0
	total := 0.0
	if perf.BlocksExpected > 0 {
		total += perf.BlockProductionRate
		weights++
	}
	if perf.ChunksExpected > 0 {
		total += perf.ChunkProductionRate
		weights++
	}
	if weights == 0 {
		return 0
	}
	return math.Round(total/float64(weights)*10000) / 100
}

// Metrics aggregates delegator snapshots and epoch rewards into the
// validator's metrics record for one epoch.
func (c *Calculator) Metrics(epoch uint64, epochID string, snapshots []types.Delegator, totalRewards *big.Int, perf *types.ValidatorPerformance, now time.Time) *types.ValidatorMetrics {
	totalStaked := new(big.Int)
	for _, snap := range snapshots {
		initial, err := types.ParseAmount(snap.InitialStake)
		if err != nil {
			c.logger.Warn("unparseable initial stake in snapshot",
				zap.String("delegator", snap.DelegatorID), zap.Error(err))
			continue
		}
		compounded, err := types.ParseAmount(snap.AutoCompoundedStake)
		if err != nil {
			c.logger.Warn("unparseable compounded stake in snapshot",
				zap.String("delegator", snap.DelegatorID), zap.Error(err))
			continue
		}
		totalStaked.Add(totalStaked, initial)
		totalStaked.Add(totalStaked, compounded)
	}

	if totalRewards == nil {
		totalRewards = new(big.Int)
	}

	return &types.ValidatorMetrics{
		ValidatorAccountID: c.validatorID,
		Epoch:              epoch,
		EpochID:            epochID,
		TotalStaked:        totalStaked.String(),
		TotalDelegators:    len(snapshots),
		APY:                ledger.CalculateAPY(totalRewards, totalStaked, c.epochsPerYear),
		Rewards:            totalRewards.String(),
		Uptime:             Uptime(perf),
		Timestamp:          now,
	}
}
