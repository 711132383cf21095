package ledger

import (
	"math"
	"math/big"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/types"
)

// CalculateRewards derives a delegator's epoch rewards from staked
// balances: rewards = current − (previous + net stake movements during the
// epoch). netStakeChange is the signed sum of stake amounts minus unstake
// amounts observed this epoch. A negative result means the balances moved
// in ways the observed transactions do not explain; it is reported and
// treated as zero rewards.
func CalculateRewards(currentStake, previousStake, netStakeChange *big.Int, logger *zap.Logger) *big.Int {
	// A delegator seen for the first time has no reward history; their
	// whole balance is principal, not accrual.
	if previousStake.Sign() == 0 && currentStake.Sign() != 0 {
		return new(big.Int)
	}

	expected := new(big.Int).Add(previousStake, netStakeChange)
	rewards := new(big.Int).Sub(currentStake, expected)

	if rewards.Sign() < 0 {
		if logger != nil {
			logger.Warn("negative reward delta, treating as zero",
				zap.String("current_stake", currentStake.String()),
				zap.String("previous_stake", previousStake.String()),
				zap.String("net_stake_change", netStakeChange.String()),
				zap.String("delta", rewards.String()),
			)
		}
		return new(big.Int)
	}
	return rewards
}

// NetStakeChange sums a delegator's stake movements for an epoch: stake
// amounts count positive, unstake amounts negative. Withdrawals move
// already-unstaked balance and do not affect the staked amount.
func NetStakeChange(txs []types.Transaction) *big.Int {
	net := new(big.Int)
	for _, tx := range txs {
		amount, err := types.ParseAmount(tx.Amount)
		if err != nil {
			continue
		}
		switch tx.Type {
		case types.TypeStake:
			net.Add(net, amount)
		case types.TypeUnstake:
			net.Sub(net, amount)
		}
	}
	return net
}

// CalculateAPY annualizes one epoch's reward rate as a percentage, rounded
// to two decimal places. Zero stake yields zero.
func CalculateAPY(rewards, stake *big.Int, epochsPerYear float64) float64 {
	if stake == nil || stake.Sign() <= 0 || rewards == nil {
		return 0
	}

	rate := new(big.Float).Quo(new(big.Float).SetInt(rewards), new(big.Float).SetInt(stake))
	apy, _ := rate.Float64()
	apy *= epochsPerYear * 100

	return math.Round(apy*100) / 100
}
