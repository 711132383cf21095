package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/rpc"
	"github.com/0xmhha/staking-indexer-go/types"
)

// stakingMethods maps pool contract method names to the staking action
// they perform.
var stakingMethods = map[string]string{
	"deposit_and_stake":  types.ActionStake,
	"stake":              types.ActionStake,
	"unstake":            types.ActionUnstake,
	"unstake_all":        types.ActionUnstake,
	"withdraw":           types.ActionUnstake,
	"withdraw_all":       types.ActionUnstake,
	"distribute_staking": types.ActionStake,
}

// stakingLogKeywords maps free-form log fragments to actions, for pool
// contracts that only announce staking changes in logs.
var stakingLogKeywords = []struct {
	keyword string
	action  string
}{
	{"deposited", types.ActionStake},
	{"staking", types.ActionStake},
	{"unstaking", types.ActionUnstake},
	{"withdrew", types.ActionUnstake},
}

// stakingAction is one staking-relevant observation extracted from a
// transaction's logs or function calls.
type stakingAction struct {
	action string
	amount string
	method string
}

// BalanceSource resolves a delegator's pool balances at a historical
// height. unstake_all and withdraw_all carry no amount; it comes from the
// balance in the block just before the transaction.
type BalanceSource interface {
	PoolAccountAt(ctx context.Context, poolID, accountID string, height uint64) (*rpc.PoolAccount, error)
}

// Parser turns raw chunk transactions into normalized staking Transaction
// records for one validator pool.
type Parser struct {
	validatorID string
	balances    BalanceSource
	logger      *zap.Logger
}

// NewParser creates a parser for the given validator pool.
func NewParser(validatorID string, balances BalanceSource, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{validatorID: validatorID, balances: balances, logger: logger}
}

// Relevant reports whether a chunk transaction addresses the validator
// pool at all. Only relevant transactions are worth a tx_status lookup.
func (p *Parser) Relevant(tx rpc.ChunkTransaction) bool {
	return tx.ReceiverID == p.validatorID
}

// Parse extracts a staking record from a chunk transaction and its
// execution status. Returns nil when the transaction carries no staking
// action. A malformed record is logged and skipped, never fatal.
func (p *Parser) Parse(ctx context.Context, tx rpc.ChunkTransaction, status *rpc.TxStatus, height uint64, blockTime time.Time) *types.Transaction {
	act := p.analyze(ctx, tx, status, height)
	if act == nil {
		return nil
	}

	amount, err := types.ParseAmount(act.amount)
	if err != nil {
		p.logger.Warn("skipping transaction with unparseable amount",
			zap.String("tx", tx.Hash),
			zap.String("amount", act.amount),
			zap.Error(err),
		)
		return nil
	}

	return &types.Transaction{
		TransactionHash:  tx.Hash,
		Amount:           amount.String(),
		Method:           act.method,
		Action:           act.action,
		Type:             determineType(act.action, act.method),
		BlockHeight:      height,
		Timestamp:        blockTime,
		DelegatorAddress: tx.SignerID,
		GasFee:           gasFee(status),
	}
}

// analyze inspects receipt logs first, then the transaction's function
// calls, accumulating stake and unstake amounts across receipts.
func (p *Parser) analyze(ctx context.Context, tx rpc.ChunkTransaction, status *rpc.TxStatus, height uint64) *stakingAction {
	totalStake := new(big.Int)
	totalUnstake := new(big.Int)
	var found *stakingAction

	record := func(act *stakingAction) {
		amount, err := types.ParseAmount(act.amount)
		if err != nil {
			return
		}
		switch act.action {
		case types.ActionStake:
			totalStake.Add(totalStake, amount)
		case types.ActionUnstake:
			totalUnstake.Add(totalUnstake, amount)
		}
		if found == nil {
			found = act
		}
	}

	if status != nil {
		for _, receipt := range status.ReceiptsOutcome {
			// One staking observation per receipt at most.
			for _, log := range receipt.Outcome.Logs {
				if act := parseStakingLog(log); act != nil {
					record(act)
					break
				}
			}
		}
	}

	// Fall back to the transaction's own function calls when no receipt
	// log announced the movement.
	if found == nil {
		for _, action := range tx.Actions {
			fc := action.FunctionCall
			if fc == nil {
				continue
			}
			if act := p.analyzeFunctionCall(ctx, tx, *fc, height); act != nil {
				record(act)
			}
		}
	}

	if found == nil {
		return nil
	}

	total := totalStake
	if found.action == types.ActionUnstake {
		total = totalUnstake
	}
	return &stakingAction{action: found.action, amount: total.String(), method: found.method}
}

// parseStakingLog recognizes staking events in contract logs: the
// structured "dist.stak" distribution event, or free-form log lines with a
// known keyword followed by an amount.
func parseStakingLog(log string) *stakingAction {
	if strings.Contains(log, `"event":"dist.stak"`) {
		var event struct {
			Amount string `json:"amount"`
		}
		start := strings.IndexByte(log, '{')
		if start < 0 {
			return nil
		}
		if err := json.Unmarshal([]byte(log[start:]), &event); err != nil {
			return nil
		}
		amount := event.Amount
		if amount == "" {
			amount = "0"
		}
		return &stakingAction{action: types.ActionStake, amount: amount, method: "distribute_staking"}
	}

	for _, kw := range stakingLogKeywords {
		if !strings.Contains(log, kw.keyword) {
			continue
		}
		for _, part := range strings.Fields(log) {
			if _, err := strconv.ParseFloat(part, 64); err == nil {
				return &stakingAction{action: kw.action, amount: part, method: "unknown"}
			}
		}
	}
	return nil
}

func (p *Parser) analyzeFunctionCall(ctx context.Context, tx rpc.ChunkTransaction, fc rpc.FunctionCall, height uint64) *stakingAction {
	action, ok := stakingMethods[fc.MethodName]
	if !ok {
		return nil
	}

	var amount string
	switch fc.MethodName {
	case "unstake", "withdraw":
		amount = functionCallAmount(fc)
	case "unstake_all":
		amount = p.priorBalance(ctx, tx.SignerID, height, false)
	case "withdraw_all":
		amount = p.priorBalance(ctx, tx.SignerID, height, true)
	default:
		amount = fc.Deposit
		if amount == "" {
			amount = "0"
		}
	}

	return &stakingAction{action: action, amount: amount, method: fc.MethodName}
}

// functionCallAmount reads the amount from the call's JSON args, falling
// back to the attached deposit.
func functionCallAmount(fc rpc.FunctionCall) string {
	if raw, err := base64.StdEncoding.DecodeString(fc.Args); err == nil {
		var args struct {
			Amount string `json:"amount"`
		}
		if err := json.Unmarshal(raw, &args); err == nil && args.Amount != "" {
			return args.Amount
		}
	}
	if fc.Deposit != "" {
		return fc.Deposit
	}
	return "0"
}

// priorBalance resolves the delegator's staked (or unstaked, for
// withdrawals) balance in the block before the transaction executed.
func (p *Parser) priorBalance(ctx context.Context, accountID string, height uint64, unstaked bool) string {
	if p.balances == nil || height == 0 {
		return "0"
	}

	account, err := p.balances.PoolAccountAt(ctx, p.validatorID, accountID, height-1)
	if err != nil {
		p.logger.Warn("failed to resolve prior balance",
			zap.String("account", accountID),
			zap.Uint64("height", height-1),
			zap.Error(err),
		)
		return "0"
	}
	if unstaked {
		return account.UnstakedBalance
	}
	return account.StakedBalance
}

// determineType classifies a transaction for the ledger. Withdrawals move
// already-unstaked balance out of the pool and are tracked separately from
// unstakes.
func determineType(action, method string) string {
	switch method {
	case "deposit_and_stake", "stake", "distribute_staking":
		return types.TypeStake
	case "unstake", "unstake_all":
		return types.TypeUnstake
	case "withdraw", "withdraw_all":
		return types.TypeWithdraw
	}

	switch action {
	case types.ActionUnstake:
		return types.TypeUnstake
	default:
		return types.TypeStake
	}
}

// gasFee sums tokens burnt across the transaction and all its receipts.
func gasFee(status *rpc.TxStatus) string {
	if status == nil {
		return "0"
	}

	total := new(big.Int)
	if status.TransactionOutcome != nil {
		if burnt, err := types.ParseAmount(status.TransactionOutcome.Outcome.TokensBurnt); err == nil {
			total.Add(total, burnt)
		}
	}
	for _, receipt := range status.ReceiptsOutcome {
		if burnt, err := types.ParseAmount(receipt.Outcome.TokensBurnt); err == nil {
			total.Add(total, burnt)
		}
	}
	return total.String()
}
