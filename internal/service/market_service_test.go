package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
	"github.com/alanyoungcy/outcome-amm/internal/service"
)

func draft() domain.MarketDraft {
	return domain.MarketDraft{
		Name:     "Will the ferry strike end by Friday?",
		Outcomes: []string{"Yes", "No"},
		EndTime:  t0.Add(72 * time.Hour),
	}
}

func create(t *testing.T, e *env) string {
	t.Helper()
	sum, err := e.svc.CreateMarket(context.Background(), admin, draft(), fixed.Units(1_000))
	require.NoError(t, err)
	e.clock.now = t0.Add(time.Minute)
	return sum.ID
}

func buy(units uint64) amm.TradeRequest {
	return amm.TradeRequest{Outcome: 0, Amount: fixed.Units(units), MaxSlippageBps: 1_000, IsBuy: true}
}

func TestMarketService_CreateRequiresAdmin(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.CreateMarket(context.Background(), alice, draft(), fixed.Units(1))
	require.ErrorIs(t, err, domain.ErrAuthorization)
	assert.Empty(t, e.svc.Summaries())
}

func TestMarketService_CreateSeedsAndPersists(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)

	rec, err := e.markets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, domain.PhaseActive, rec.Phase)

	sum, err := e.svc.Summary(id)
	require.NoError(t, err)
	assert.Equal(t, fixed.Units(1_000), sum.Pool)
	assert.Equal(t, []string{fixed.HalfWAD.Dec(), fixed.HalfWAD.Dec()}, e.prices.prices[id])
	assert.Equal(t, 1, e.bus.count(service.MarketChannel(id)))
	assert.Equal(t, []string{"market." + domain.EventMarketCreated}, e.audit.events)
}

func TestMarketService_TradeCommitsEverywhere(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)

	res, err := e.svc.Trade(context.Background(), id, alice, buy(100))
	require.NoError(t, err)

	rec, err := e.markets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)

	trades, err := e.svc.Trades(context.Background(), id, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, alice.Hex(), trades[0].Trader)
	assert.Equal(t, res.AmountOut.Dec(), trades[0].AmountOut)
	assert.False(t, trades[0].Revealed)
	assert.Equal(t, t0.Add(time.Minute), trades[0].Timestamp)

	prices, _, err := e.svc.Prices(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, res.PriceAfter.Dec(), prices[0])

	events, err := e.svc.Events(context.Background(), "0", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	var ev domain.MarketEvent
	require.NoError(t, json.Unmarshal(events[1].Payload, &ev))
	assert.Equal(t, domain.EventTrade, ev.Type)
	assert.Equal(t, id, ev.MarketID)
	assert.Equal(t, alice.Hex(), ev.Actor)

	acct, err := e.svc.Account(id, alice)
	require.NoError(t, err)
	require.NotNil(t, acct.Holder)
	assert.Equal(t, res.AmountOut, acct.Holder.Shares[0])
	assert.Nil(t, acct.Liquidity)
}

func TestMarketService_PersistFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)
	before, err := e.svc.Summary(id)
	require.NoError(t, err)

	e.markets.saveErr = errors.New("connection reset")
	_, err = e.svc.Trade(context.Background(), id, alice, buy(100))
	require.Error(t, err)

	after, err := e.svc.Summary(id)
	require.NoError(t, err)
	assert.Equal(t, before.Pool, after.Pool)
	assert.Equal(t, before.Reserves, after.Reserves)
	assert.Empty(t, e.trades.trades)
	assert.Equal(t, 1, e.bus.count(service.MarketChannel(id)))

	// The version did not advance, so the next save succeeds.
	e.markets.saveErr = nil
	_, err = e.svc.Trade(context.Background(), id, alice, buy(100))
	require.NoError(t, err)
	rec, err := e.markets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
}

func TestMarketService_FailedSaveForwardsNoFees(t *testing.T) {
	e := newEnv(t)
	treasury := &countingTreasury{}
	e.engine.Collaborators.Treasury = treasury
	e.svc = e.build()
	id := create(t, e)
	ctx := context.Background()

	e.markets.saveErr = errors.New("connection reset")
	_, err := e.svc.Trade(ctx, id, alice, buy(100))
	require.Error(t, err)
	assert.Zero(t, treasury.count())

	e.markets.saveErr = nil
	_, err = e.svc.Trade(ctx, id, alice, buy(100))
	require.NoError(t, err)
	assert.Equal(t, 1, treasury.count())
}

func TestMarketService_RetriedResolutionRequestSentOnce(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)
	ctx := context.Background()

	e.clock.now = t0.Add(50 * time.Hour)
	require.NoError(t, e.svc.LockMarket(ctx, id, admin))
	e.clock.now = t0.Add(73 * time.Hour)
	require.NoError(t, e.svc.StartResolution(ctx, id, admin))

	e.markets.saveErr = errors.New("connection reset")
	_, err := e.svc.RequestResolution(ctx, id, admin)
	require.Error(t, err)

	e.markets.saveErr = nil
	reqID, err := e.svc.RequestResolution(ctx, id, admin)
	require.NoError(t, err)
	assert.Equal(t, "req-1", reqID)
	assert.Equal(t, 1, e.oracle.n)

	sum, err := e.svc.Summary(id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseResolution, sum.Phase)
}

func TestMarketService_RejectedTradeNotPersisted(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)

	_, err := e.svc.Trade(context.Background(), id, alice, amm.TradeRequest{Outcome: 5, Amount: fixed.Units(1), IsBuy: true})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, e.markets.saves)
	assert.Empty(t, e.trades.trades)
}

func TestMarketService_LockHeldElsewhere(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)
	unlock, err := e.locks.Acquire(context.Background(), "market:"+id, time.Second)
	require.NoError(t, err)
	defer unlock()

	_, err = e.svc.Trade(context.Background(), id, alice, buy(10))
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, e.markets.saves)
}

func TestMarketService_UnknownMarket(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Trade(context.Background(), "missing", alice, buy(10))
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.svc.Summary("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketService_QuoteDoesNotMutate(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)

	q, err := e.svc.Quote(id, alice, buy(100))
	require.NoError(t, err)
	res, err := e.svc.Trade(context.Background(), id, alice, buy(100))
	require.NoError(t, err)
	assert.Equal(t, q.AmountOut, res.AmountOut)
}

func TestMarketService_LoadRestoresMarkets(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)
	_, err := e.svc.Trade(context.Background(), id, alice, buy(100))
	require.NoError(t, err)
	want, err := e.svc.Summary(id)
	require.NoError(t, err)

	restarted := e.build()
	require.NoError(t, restarted.Load(context.Background()))
	got, err := restarted.Summary(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// The restored version lets the next operation persist.
	_, err = restarted.Trade(context.Background(), id, alice, buy(10))
	require.NoError(t, err)
}

func TestMarketService_LiquidityRoundTrip(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)
	ctx := context.Background()

	pos, err := e.svc.AddLiquidity(ctx, id, alice, fixed.Units(500))
	require.NoError(t, err)
	assert.Equal(t, fixed.Units(500), pos.Liquidity)

	out, err := e.svc.RemoveLiquidity(ctx, id, alice, pos.Shares)
	require.NoError(t, err)
	assert.InDelta(t, 500, fixed.Float(out.Principal), 1e-9)
	assert.Equal(t, 2, e.markets.saves)
}

func TestMarketService_StaleReplicaRefreshes(t *testing.T) {
	e := newEnv(t)
	id := create(t, e)
	ctx := context.Background()

	replica := e.build()
	_, err := replica.Trade(ctx, id, alice, buy(10))
	require.NoError(t, err, "replica resolves the market from the store")

	_, err = e.svc.Trade(ctx, id, alice, buy(10))
	require.ErrorIs(t, err, domain.ErrStaleVersion)
	assert.Equal(t, "conflict", domain.KindOf(err))

	_, err = e.svc.Trade(ctx, id, alice, buy(10))
	require.NoError(t, err, "retry runs on the refreshed state")

	rec, err := e.markets.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)

	require.NoError(t, replica.Load(ctx))
	a, err := replica.Summary(id)
	require.NoError(t, err)
	b, err := e.svc.Summary(id)
	require.NoError(t, err)
	assert.Equal(t, b.Pool, a.Pool)
	assert.Equal(t, b.Volume, a.Volume)
}
