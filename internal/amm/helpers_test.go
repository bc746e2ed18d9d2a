package amm_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	admin  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	oracle = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	carol  = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

type fakeOracle struct {
	requests int
}

func (o *fakeOracle) RequestOutcome(_ context.Context, marketID string) (string, error) {
	o.requests++
	return fmt.Sprintf("%s-req-%d", marketID, o.requests), nil
}

type fakeIncentives struct {
	rate     *uint256.Int
	notified int
	onNotify func() error
}

func (f *fakeIncentives) LiquidityIncentiveRate(context.Context, string) (*uint256.Int, error) {
	return f.rate, nil
}

func (f *fakeIncentives) NotifyMetricHistory(context.Context, string, *uint256.Int, uint64) error {
	f.notified++
	if f.onNotify != nil {
		return f.onNotify()
	}
	return nil
}

type fakeReputation struct {
	updates map[common.Address][]domain.ReputationUpdate
}

func (f *fakeReputation) UpdateReputation(_ context.Context, user common.Address, u domain.ReputationUpdate) error {
	if f.updates == nil {
		f.updates = make(map[common.Address][]domain.ReputationUpdate)
	}
	f.updates[user] = append(f.updates[user], u)
	return nil
}

type fakeTreasury struct {
	collected *uint256.Int
	err       error
}

func (f *fakeTreasury) CollectFees(_ context.Context, _ string, amount *uint256.Int) error {
	if f.err != nil {
		return f.err
	}
	if f.collected == nil {
		f.collected = new(uint256.Int)
	}
	f.collected = new(uint256.Int).Add(f.collected, amount)
	return nil
}

type harness struct {
	m          *amm.Market
	cfg        amm.Config
	oracle     *fakeOracle
	incentives *fakeIncentives
	reputation *fakeReputation
	treasury   *fakeTreasury
	verifier   *crypto.IntentVerifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		oracle:     &fakeOracle{},
		incentives: &fakeIncentives{rate: fixed.Zero()},
		reputation: &fakeReputation{},
		treasury:   &fakeTreasury{},
		verifier:   crypto.NewIntentVerifier("outcome-amm", "1", 137),
	}
	h.cfg = amm.Config{
		Params: amm.DefaultParams(),
		Roles:  amm.Roles{Admin: admin, Oracle: oracle},
		Collaborators: amm.Collaborators{
			Incentives: h.incentives,
			Reputation: h.reputation,
			Oracle:     h.oracle,
			Treasury:   h.treasury,
		},
		Verifier: h.verifier,
	}
	m, err := amm.New(h.cfg, "mkt-1", domain.MarketDraft{
		Name:     "Will it rain in Lisbon on March 8?",
		Outcomes: []string{"Yes", "No"},
		EndTime:  t0.Add(7 * 24 * time.Hour),
	}, t0)
	require.NoError(t, err)
	h.m = m
	return h
}

// funded returns a harness whose market holds liquidity from alice.
func funded(t *testing.T, units uint64) *harness {
	t.Helper()
	h := newHarness(t)
	_, err := h.m.AddLiquidity(context.Background(), at(alice, 0), fixed.Units(units))
	require.NoError(t, err)
	return h
}

func at(sender common.Address, d time.Duration) amm.Call {
	return amm.Call{Sender: sender, Now: t0.Add(d)}
}

func buy(outcome int, units uint64, maxSlippageBps uint64) amm.TradeRequest {
	return amm.TradeRequest{Outcome: outcome, Amount: fixed.Units(units), MaxSlippageBps: maxSlippageBps, IsBuy: true}
}

func product(st *amm.State, outcome int) *uint256.Int {
	return new(uint256.Int).Mul(st.Pool, st.Reserves[outcome])
}
