package validator

import (
	"math/big"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/rpc"
	"github.com/0xmhha/staking-indexer-go/types"
)

func TestFind(t *testing.T) {
	c := NewCalculator("pool.near", 730, zap.NewNop())

	resp := &rpc.ValidatorsResponse{
		CurrentValidators: []rpc.ValidatorInfo{
			{AccountID: "other.near"},
			{AccountID: "pool.near", Stake: "123"},
		},
	}

	info, ok := c.Find(resp)
	if !ok {
		t.Fatal("Find() did not locate validator")
	}
	if info.Stake != "123" {
		t.Errorf("stake = %s", info.Stake)
	}

	if _, ok := c.Find(&rpc.ValidatorsResponse{}); ok {
		t.Error("Find() located validator in empty set")
	}
}

func TestPerformance(t *testing.T) {
	c := NewCalculator("pool.near", 730, zap.NewNop())

	tests := []struct {
		name          string
		info          rpc.ValidatorInfo
		wantBlockRate float64
		wantChunkRate float64
		wantMessage   string
	}{
		{
			name: "normal production",
			info: rpc.ValidatorInfo{
				NumProducedBlocks: 95, NumExpectedBlocks: 100,
				NumProducedChunks: 190, NumExpectedChunks: 200,
			},
			wantBlockRate: 0.95,
			wantChunkRate: 0.95,
		},
		{
			name: "rate clamped at one",
			info: rpc.ValidatorInfo{
				NumProducedBlocks: 101, NumExpectedBlocks: 100,
				NumProducedChunks: 200, NumExpectedChunks: 200,
			},
			wantBlockRate: 1,
			wantChunkRate: 1,
		},
		{
			name:        "no expectations yet",
			info:        rpc.ValidatorInfo{},
			wantMessage: PendingMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perf := c.Performance(tt.info, 7)

			if perf.BlockProductionRate != tt.wantBlockRate {
				t.Errorf("block rate = %v, want %v", perf.BlockProductionRate, tt.wantBlockRate)
			}
			if perf.ChunkProductionRate != tt.wantChunkRate {
				t.Errorf("chunk rate = %v, want %v", perf.ChunkProductionRate, tt.wantChunkRate)
			}
			if perf.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", perf.Message, tt.wantMessage)
			}
			if perf.Epoch != 7 || perf.ValidatorID != "pool.near" {
				t.Errorf("identity fields wrong: %+v", perf)
			}
		})
	}
}

func TestUptime(t *testing.T) {
	tests := []struct {
		name string
		perf types.ValidatorPerformance
		want float64
	}{
		{
			name: "averages block and chunk rates",
			perf: types.ValidatorPerformance{
				BlocksExpected: 100, BlockProductionRate: 1,
				ChunksExpected: 100, ChunkProductionRate: 0.9,
			},
			want: 95,
		},
		{
			name: "only blocks expected",
			perf: types.ValidatorPerformance{
				BlocksExpected: 100, BlockProductionRate: 0.98,
			},
			want: 98,
		},
		{
			name: "no expectations",
			perf: types.ValidatorPerformance{},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Uptime(&tt.perf); got != tt.want {
				t.Errorf("Uptime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	c := NewCalculator("pool.near", 730, zap.NewNop())

	snapshots := []types.Delegator{
		{DelegatorID: "alice.near", InitialStake: "500", AutoCompoundedStake: "230"},
		{DelegatorID: "bob.near", InitialStake: "0", AutoCompoundedStake: "0"},
	}
	perf := &types.ValidatorPerformance{
		BlocksExpected: 100, BlockProductionRate: 1,
		ChunksExpected: 100, ChunkProductionRate: 1,
	}
	rewards := big.NewInt(1)
	now := time.Now().UTC()

	m := c.Metrics(9, "ep9", snapshots, rewards, perf, now)

	if m.TotalStaked != "730" {
		t.Errorf("total_staked = %s, want 730", m.TotalStaked)
	}
	if m.TotalDelegators != 2 {
		t.Errorf("total_delegators = %d, want 2", m.TotalDelegators)
	}
	// 1/730 per epoch annualizes to 100 percent.
	if m.APY != 100 {
		t.Errorf("apy = %v, want 100", m.APY)
	}
	if m.Uptime != 100 {
		t.Errorf("uptime = %v, want 100", m.Uptime)
	}
	if m.Rewards != "1" {
		t.Errorf("rewards = %s", m.Rewards)
	}
	if m.Epoch != 9 || m.EpochID != "ep9" {
		t.Errorf("epoch fields wrong: %+v", m)
	}
}
