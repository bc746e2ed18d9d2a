package amm_test

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

const day = 24 * time.Hour

func TestLifecycle_LockWindow(t *testing.T) {
	h := funded(t, 1_000)
	ctx := context.Background()

	err := h.m.LockMarket(ctx, at(admin, day))
	require.ErrorIs(t, err, domain.ErrPhaseViolation)
	assert.ErrorIs(t, err, domain.ErrOutsideLockWindow)

	err = h.m.LockMarket(ctx, at(bob, 6*day+12*time.Hour))
	require.ErrorIs(t, err, domain.ErrAuthorization)
	assert.ErrorIs(t, err, domain.ErrMissingRole)

	require.NoError(t, h.m.LockMarket(ctx, at(admin, 6*day+12*time.Hour)))
	assert.Equal(t, domain.PhaseLocked, h.m.Phase())

	_, err = h.m.Trade(ctx, at(bob, 6*day+13*time.Hour), buy(0, 10, 10_000))
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)
	_, err = h.m.AddLiquidity(ctx, at(bob, 6*day+13*time.Hour), fixed.Units(10))
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)

	err = h.m.LockMarket(ctx, at(admin, 6*day+14*time.Hour))
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)
}

func TestLifecycle_StartResolutionAfterEnd(t *testing.T) {
	h := funded(t, 1_000)
	ctx := context.Background()

	err := h.m.StartResolution(ctx, at(admin, 6*day+12*time.Hour))
	require.ErrorIs(t, err, domain.ErrPhaseViolation)

	require.NoError(t, h.m.LockMarket(ctx, at(admin, 6*day+12*time.Hour)))

	err = h.m.StartResolution(ctx, at(admin, 6*day+20*time.Hour))
	require.ErrorIs(t, err, domain.ErrPhaseViolation)
	assert.ErrorIs(t, err, domain.ErrMarketNotEnded)

	err = h.m.StartResolution(ctx, at(oracle, 7*day))
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	require.NoError(t, h.m.StartResolution(ctx, at(admin, 7*day)))
	assert.Equal(t, domain.PhaseResolution, h.m.Phase())
}

// resolving drives the market to a pending oracle request.
func resolving(t *testing.T, h *harness) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.m.LockMarket(ctx, at(admin, 6*day+12*time.Hour)))
	require.NoError(t, h.m.StartResolution(ctx, at(admin, 7*day+time.Hour)))
	id, err := h.m.RequestResolution(ctx, at(admin, 7*day+time.Hour))
	require.NoError(t, err)
	return id
}

func TestLifecycle_RequestAndFulfill(t *testing.T) {
	h := funded(t, 1_000)
	ctx := context.Background()
	id := resolving(t, h)
	assert.Equal(t, "mkt-1-req-1", id)

	_, err := h.m.RequestResolution(ctx, at(admin, 7*day+90*time.Minute))
	require.ErrorIs(t, err, domain.ErrReplay)
	assert.ErrorIs(t, err, domain.ErrRequestPending)
	assert.Equal(t, 1, h.oracle.requests)

	err = h.m.FulfillResolution(ctx, at(bob, 7*day+2*time.Hour), id, 0)
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	err = h.m.FulfillResolution(ctx, at(oracle, 7*day+2*time.Hour), "mkt-1-req-9", 0)
	require.ErrorIs(t, err, domain.ErrReplay)
	assert.ErrorIs(t, err, domain.ErrUnknownRequest)

	err = h.m.FulfillResolution(ctx, at(oracle, 7*day+2*time.Hour), id, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	require.NoError(t, h.m.FulfillResolution(ctx, at(oracle, 7*day+2*time.Hour), id, 1))
	assert.Equal(t, domain.PhaseSettled, h.m.Phase())

	st := h.m.Snapshot()
	require.NotNil(t, st.Resolution.Winner)
	assert.Equal(t, 1, *st.Resolution.Winner)
	assert.False(t, st.Resolution.Pending)

	err = h.m.FulfillResolution(ctx, at(oracle, 7*day+3*time.Hour), id, 0)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)

	_, err = h.m.Trade(ctx, at(bob, 8*day), buy(0, 10, 10_000))
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)
}

func TestLifecycle_RetriedRequestReusesOracleRequest(t *testing.T) {
	h := funded(t, 1_000)
	ctx := context.Background()
	require.NoError(t, h.m.LockMarket(ctx, at(admin, 6*day+12*time.Hour)))
	require.NoError(t, h.m.StartResolution(ctx, at(admin, 7*day+time.Hour)))
	before, err := h.m.Export()
	require.NoError(t, err)

	id, err := h.m.RequestResolution(ctx, at(admin, 7*day+time.Hour))
	require.NoError(t, err)
	require.NoError(t, h.m.Rollback(before))
	assert.False(t, h.m.Snapshot().Resolution.Pending)

	again, err := h.m.RequestResolution(ctx, at(admin, 7*day+2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, h.oracle.requests)
}

func TestLifecycle_PredictorRewardsAndWinnings(t *testing.T) {
	h := funded(t, 1_000)
	ctx := context.Background()

	first, err := h.m.Trade(ctx, at(bob, time.Minute), buy(0, 100, 10_000))
	require.NoError(t, err)
	second, err := h.m.Trade(ctx, at(bob, 2*time.Hour), buy(0, 10, 10_000))
	require.NoError(t, err)
	_, err = h.m.Trade(ctx, at(carol, 3*day), buy(1, 20, 10_000))
	require.NoError(t, err)

	stats, ok := h.m.PredictorStats(bob)
	require.True(t, ok)
	assert.Equal(t, uint64(2), stats.TotalPredictions)
	assert.Equal(t, uint64(2), stats.CurrentStreak)
	assert.True(t, stats.EarlyPredictor)
	assert.Equal(t, t0.Add(time.Minute), stats.EarlySince, "first qualifying buy")
	assert.Equal(t, fixed.Units(110), stats.TotalStaked)

	id := resolving(t, h)
	require.NoError(t, h.m.FulfillResolution(ctx, at(oracle, 7*day+2*time.Hour), id, 0))

	stats, _ = h.m.PredictorStats(bob)
	assert.Equal(t, uint64(2), stats.CorrectPredictions)
	assert.Equal(t, uint64(10_000), stats.AccuracyBps())

	// 5% of 110 staked, boosted 20% early and 5% for a streak of two
	reward := fixed.MustParse("6.875")
	holder, _ := h.m.Holder(bob)
	assert.Equal(t, reward, holder.Claimable)
	assert.Equal(t, reward, h.m.Snapshot().Minted.PredictorRewards)

	require.Len(t, h.reputation.updates[bob], 1)
	assert.Equal(t, int64(2), h.reputation.updates[bob][0].AccuracyDelta)
	require.Len(t, h.reputation.updates[carol], 1)
	assert.Equal(t, int64(-1), h.reputation.updates[carol][0].AccuracyDelta)

	poolBefore := h.m.Snapshot().Pool
	won, err := h.m.ClaimWinnings(ctx, at(bob, 8*day))
	require.NoError(t, err)
	shares := new(fixed.Calc).Add(first.AmountOut, second.AmountOut)
	assert.Equal(t, shares, won.Shares)
	assert.Equal(t, reward, won.Reward)
	assert.Equal(t, new(fixed.Calc).Add(shares, reward), won.Payout)

	// the pool covers the redemption, so nothing is minted for it
	st := h.m.Snapshot()
	assert.Equal(t, shares, won.FromPool)
	assert.Equal(t, new(fixed.Calc).Sub(poolBefore, shares), st.Pool)
	assert.Equal(t, shares, st.Redeemed)
	assert.True(t, st.Minted.Redemptions.IsZero())

	_, err = h.m.ClaimWinnings(ctx, at(bob, 8*day))
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	_, err = h.m.ClaimWinnings(ctx, at(carol, 8*day))
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestLifecycle_SoldOutPredictorEarnsNoReward(t *testing.T) {
	h := funded(t, 1_000)
	ctx := context.Background()

	_, err := h.m.Trade(ctx, at(bob, time.Minute), buy(0, 20, 10_000))
	require.NoError(t, err)
	holder, _ := h.m.Holder(bob)
	_, err = h.m.Trade(ctx, at(bob, 2*time.Minute), amm.TradeRequest{Outcome: 0, Amount: holder.Shares[0], MaxSlippageBps: 10_000})
	require.NoError(t, err)

	holder, _ = h.m.Holder(bob)
	assert.True(t, holder.Shares[0].IsZero())
	assert.True(t, holder.Staked[0].IsZero())

	id := resolving(t, h)
	require.NoError(t, h.m.FulfillResolution(ctx, at(oracle, 7*day+2*time.Hour), id, 0))

	holder, _ = h.m.Holder(bob)
	assert.True(t, holder.Claimable.IsZero())
	assert.True(t, h.m.Snapshot().Minted.PredictorRewards.IsZero())

	_, err = h.m.ClaimWinnings(ctx, at(bob, 8*day))
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestLifecycle_PartialSellScalesReward(t *testing.T) {
	h := funded(t, 1_000)
	ctx := context.Background()

	bought, err := h.m.Trade(ctx, at(bob, time.Minute), buy(0, 100, 10_000))
	require.NoError(t, err)
	half := new(uint256.Int).Div(bought.AmountOut, uint256.NewInt(2))
	_, err = h.m.Trade(ctx, at(bob, 2*time.Minute), amm.TradeRequest{Outcome: 0, Amount: half, MaxSlippageBps: 10_000})
	require.NoError(t, err)

	holder, _ := h.m.Holder(bob)
	staked := holder.Staked[0]
	assert.False(t, staked.Lt(fixed.Units(50)), "staked %s", fixed.Format(staked))
	assert.True(t, staked.Lt(fixed.MustParse("50.000001")), "staked %s", fixed.Format(staked))

	id := resolving(t, h)
	require.NoError(t, h.m.FulfillResolution(ctx, at(oracle, 7*day+2*time.Hour), id, 0))

	// 5% of the remaining 50 staked, boosted 20% early
	stats, _ := h.m.PredictorStats(bob)
	want, err := amm.PredictorReward(staked, stats, amm.DefaultParams())
	require.NoError(t, err)
	holder, _ = h.m.Holder(bob)
	assert.Equal(t, want, holder.Claimable)
	assert.False(t, holder.Claimable.Lt(fixed.Units(3)))
	assert.True(t, holder.Claimable.Lt(fixed.MustParse("3.000001")))
}

func TestLifecycle_ClaimWinningsBeforeSettlement(t *testing.T) {
	h := funded(t, 1_000)
	_, err := h.m.ClaimWinnings(context.Background(), at(alice, time.Hour))
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)
}

func TestLifecycle_RewardAccrualStopsAtSettlement(t *testing.T) {
	h := newHarness(t)
	h.incentives.rate = fixed.MustParse("0.000001")
	ctx := context.Background()

	_, err := h.m.AddLiquidity(ctx, at(alice, 0), fixed.Units(1_000))
	require.NoError(t, err)

	id := resolving(t, h)
	require.NoError(t, h.m.FulfillResolution(ctx, at(oracle, 7*day+2*time.Hour), id, 0))

	// 1000 * 0.000001/s * 612000s * 1.1
	claimed, err := h.m.ClaimRewards(ctx, at(alice, 30*day))
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("673.2"), claimed)

	_, err = h.m.ClaimRewards(ctx, at(alice, 31*day))
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}
