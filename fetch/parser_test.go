package fetch

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/rpc"
	"github.com/0xmhha/staking-indexer-go/types"
)

type stubBalances struct {
	staked   string
	unstaked string
	queried  []uint64
}

func (s *stubBalances) PoolAccountAt(ctx context.Context, poolID, accountID string, height uint64) (*rpc.PoolAccount, error) {
	s.queried = append(s.queried, height)
	return &rpc.PoolAccount{
		AccountID:       accountID,
		StakedBalance:   s.staked,
		UnstakedBalance: s.unstaked,
	}, nil
}

func functionCallTx(signer, method, argsJSON, deposit string) rpc.ChunkTransaction {
	return rpc.ChunkTransaction{
		Hash:       "hash-" + method,
		SignerID:   signer,
		ReceiverID: "pool.near",
		Actions: []rpc.Action{{
			FunctionCall: &rpc.FunctionCall{
				MethodName: method,
				Args:       base64.StdEncoding.EncodeToString([]byte(argsJSON)),
				Deposit:    deposit,
			},
		}},
	}
}

func TestParseFunctionCalls(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name       string
		tx         rpc.ChunkTransaction
		wantType   string
		wantAction string
		wantAmount string
	}{
		{
			name:       "deposit_and_stake uses deposit",
			tx:         functionCallTx("alice.near", "deposit_and_stake", "{}", "1000"),
			wantType:   types.TypeStake,
			wantAction: types.ActionStake,
			wantAmount: "1000",
		},
		{
			name:       "unstake uses args amount",
			tx:         functionCallTx("alice.near", "unstake", `{"amount":"400"}`, "0"),
			wantType:   types.TypeUnstake,
			wantAction: types.ActionUnstake,
			wantAmount: "400",
		},
		{
			name:       "withdraw is its own type",
			tx:         functionCallTx("alice.near", "withdraw", `{"amount":"250"}`, "0"),
			wantType:   types.TypeWithdraw,
			wantAction: types.ActionUnstake,
			wantAmount: "250",
		},
		{
			name:       "fractional amounts truncate",
			tx:         functionCallTx("alice.near", "unstake", `{"amount":"400.75"}`, "0"),
			wantType:   types.TypeUnstake,
			wantAction: types.ActionUnstake,
			wantAmount: "400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser("pool.near", &stubBalances{}, zap.NewNop())

			got := p.Parse(context.Background(), tt.tx, nil, 500, now)
			if got == nil {
				t.Fatal("Parse() = nil, want transaction")
			}
			if got.Type != tt.wantType {
				t.Errorf("type = %s, want %s", got.Type, tt.wantType)
			}
			if got.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", got.Action, tt.wantAction)
			}
			if got.Amount != tt.wantAmount {
				t.Errorf("amount = %s, want %s", got.Amount, tt.wantAmount)
			}
			if got.DelegatorAddress != "alice.near" {
				t.Errorf("delegator = %s", got.DelegatorAddress)
			}
			if got.BlockHeight != 500 {
				t.Errorf("block_height = %d", got.BlockHeight)
			}
		})
	}
}

func TestParseUnstakeAllResolvesPriorBalance(t *testing.T) {
	balances := &stubBalances{staked: "9000", unstaked: "10"}
	p := NewParser("pool.near", balances, zap.NewNop())

	tx := functionCallTx("bob.near", "unstake_all", "{}", "0")
	got := p.Parse(context.Background(), tx, nil, 700, time.Now())

	if got == nil {
		t.Fatal("Parse() = nil")
	}
	if got.Amount != "9000" {
		t.Errorf("amount = %s, want staked balance 9000", got.Amount)
	}
	if len(balances.queried) != 1 || balances.queried[0] != 699 {
		t.Errorf("queried heights = %v, want [699]", balances.queried)
	}
}

func TestParseWithdrawAllResolvesUnstakedBalance(t *testing.T) {
	balances := &stubBalances{staked: "9000", unstaked: "321"}
	p := NewParser("pool.near", balances, zap.NewNop())

	tx := functionCallTx("bob.near", "withdraw_all", "{}", "0")
	got := p.Parse(context.Background(), tx, nil, 700, time.Now())

	if got == nil {
		t.Fatal("Parse() = nil")
	}
	if got.Type != types.TypeWithdraw {
		t.Errorf("type = %s, want %s", got.Type, types.TypeWithdraw)
	}
	if got.Amount != "321" {
		t.Errorf("amount = %s, want unstaked balance 321", got.Amount)
	}
}

func TestParseIgnoresNonStakingMethods(t *testing.T) {
	p := NewParser("pool.near", &stubBalances{}, zap.NewNop())

	tx := functionCallTx("alice.near", "ft_transfer", `{"amount":"1"}`, "0")
	if got := p.Parse(context.Background(), tx, nil, 500, time.Now()); got != nil {
		t.Errorf("Parse() = %+v, want nil", got)
	}
}

func TestParseStakingLog(t *testing.T) {
	tests := []struct {
		name       string
		log        string
		wantNil    bool
		wantAction string
		wantAmount string
		wantMethod string
	}{
		{
			name:       "distribution event",
			log:        `EVENT_JSON:{"event":"dist.stak","amount":"12345"}`,
			wantAction: types.ActionStake,
			wantAmount: "12345",
			wantMethod: "distribute_staking",
		},
		{
			name:       "deposited keyword",
			log:        "@alice.near deposited 5000 to stake",
			wantAction: types.ActionStake,
			wantAmount: "5000",
		},
		{
			name:       "unstaking keyword",
			log:        "@alice.near unstaking 300 tokens",
			wantAction: types.ActionUnstake,
			wantAmount: "300",
		},
		{
			name:    "unrelated log",
			log:     "transferred 100 tokens to bob",
			wantNil: true,
		},
		{
			name:    "keyword without amount",
			log:     "unstaking requested",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseStakingLog(tt.log)
			if tt.wantNil {
				if got != nil {
					t.Errorf("parseStakingLog() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("parseStakingLog() = nil")
			}
			if got.action != tt.wantAction {
				t.Errorf("action = %s, want %s", got.action, tt.wantAction)
			}
			if got.amount != tt.wantAmount {
				t.Errorf("amount = %s, want %s", got.amount, tt.wantAmount)
			}
			if tt.wantMethod != "" && got.method != tt.wantMethod {
				t.Errorf("method = %s, want %s", got.method, tt.wantMethod)
			}
		})
	}
}

func TestParseAggregatesReceiptLogs(t *testing.T) {
	p := NewParser("pool.near", &stubBalances{}, zap.NewNop())

	tx := functionCallTx("alice.near", "deposit_and_stake", "{}", "1000")
	status := &rpc.TxStatus{
		ReceiptsOutcome: []rpc.ReceiptOutcome{
			{Outcome: rpc.ExecutionOutcome{
				Logs:        []string{"@alice.near deposited 1000 for staking"},
				TokensBurnt: "30",
			}},
			{Outcome: rpc.ExecutionOutcome{TokensBurnt: "12"}},
		},
		TransactionOutcome: &rpc.ReceiptOutcome{
			Outcome: rpc.ExecutionOutcome{TokensBurnt: "8"},
		},
	}

	got := p.Parse(context.Background(), tx, status, 500, time.Now())
	if got == nil {
		t.Fatal("Parse() = nil")
	}
	// The receipt log wins; the function call deposit must not be counted
	// a second time for the same movement.
	if got.Amount != "1000" {
		t.Errorf("amount = %s, want 1000", got.Amount)
	}
	if got.GasFee != "50" {
		t.Errorf("gas_fee = %s, want 50", got.GasFee)
	}
	if got.Action != types.ActionStake {
		t.Errorf("action = %s", got.Action)
	}
}

func TestDetermineType(t *testing.T) {
	tests := []struct {
		action string
		method string
		want   string
	}{
		{types.ActionStake, "deposit_and_stake", types.TypeStake},
		{types.ActionStake, "distribute_staking", types.TypeStake},
		{types.ActionUnstake, "unstake", types.TypeUnstake},
		{types.ActionUnstake, "unstake_all", types.TypeUnstake},
		{types.ActionUnstake, "withdraw", types.TypeWithdraw},
		{types.ActionUnstake, "withdraw_all", types.TypeWithdraw},
		{types.ActionUnstake, "unknown", types.TypeUnstake},
		{types.ActionStake, "unknown", types.TypeStake},
	}

	for _, tt := range tests {
		if got := determineType(tt.action, tt.method); got != tt.want {
			t.Errorf("determineType(%s, %s) = %s, want %s", tt.action, tt.method, got, tt.want)
		}
	}
}
