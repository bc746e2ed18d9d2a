package amm_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

func defaultCurve() amm.Curve {
	p := amm.DefaultParams()
	return amm.Curve{FactorBps: p.CurveFactorBps, MinPrice: p.MinPrice, MaxPrice: p.MaxPrice}
}

func TestCurve_BalancedSpotIsHalf(t *testing.T) {
	p, err := defaultCurve().Spot(fixed.Units(1000), fixed.Units(1000))
	require.NoError(t, err)
	assert.Equal(t, fixed.HalfWAD, p)
}

func TestCurve_AdjustPushesAwayFromHalf(t *testing.T) {
	c := defaultCurve()
	assert.Equal(t, fixed.MustParse("0.6050"), c.Adjust(fixed.MustParse("0.6")))
	assert.Equal(t, fixed.MustParse("0.3950"), c.Adjust(fixed.MustParse("0.4")))
}

func TestCurve_AdjustClamps(t *testing.T) {
	c := defaultCurve()
	assert.Equal(t, fixed.MustParse("0.999"), c.Adjust(fixed.MustParse("0.9999")))
	assert.Equal(t, fixed.MustParse("0.001"), c.Adjust(fixed.MustParse("0.0001")))
	assert.Equal(t, fixed.MustParse("0.001"), c.Adjust(fixed.Zero()))
}

func TestCurve_BuyKeepsProductAndReserveBounds(t *testing.T) {
	c := defaultCurve()
	pool, reserve := fixed.Units(1000), fixed.Units(1000)
	k := new(uint256.Int).Mul(pool, reserve)

	for _, units := range []uint64{1, 10, 100, 1000, 5000} {
		in := fixed.Units(units)
		q, err := c.Buy(pool, reserve, in)
		require.NoError(t, err)

		assert.False(t, q.Out.Gt(reserve), "output exceeds reserve for %d", units)
		newPool := new(uint256.Int).Add(pool, in)
		newReserve := new(uint256.Int).Sub(new(uint256.Int).Add(reserve, in), q.Out)
		assert.False(t, new(uint256.Int).Mul(newPool, newReserve).Lt(k), "k decreased for %d", units)
		assert.True(t, q.Price.Gt(fixed.HalfWAD))
	}
}

func TestCurve_BuyScenarioNumbers(t *testing.T) {
	q, err := defaultCurve().Buy(fixed.Units(1000), fixed.Units(1000), fixed.MustParse("99.7"))
	require.NoError(t, err)

	assert.InDelta(t, 0.547376, fixed.Float(q.RawPrice), 1e-6)
	assert.InDelta(t, 0.549745, fixed.Float(q.Price), 1e-6)
	assert.InDelta(t, 181.3568, fixed.Float(q.Out), 1e-3)
	assert.True(t, q.Out.Lt(q.IdealOut))
}

func TestCurve_SellKeepsProduct(t *testing.T) {
	c := defaultCurve()
	pool, reserve := fixed.Units(1100), fixed.Units(920)
	k := new(uint256.Int).Mul(pool, reserve)

	for _, units := range []uint64{1, 50, 180, 2000} {
		in := fixed.Units(units)
		q, err := c.Sell(pool, reserve, in)
		require.NoError(t, err)

		assert.False(t, q.Out.Gt(pool))
		newPool := new(uint256.Int).Sub(pool, q.Out)
		newReserve := new(uint256.Int).Sub(new(uint256.Int).Add(reserve, in), q.Out)
		assert.False(t, new(uint256.Int).Mul(newPool, newReserve).Lt(k), "k decreased for %d", units)
	}
}

func TestCurve_EmptyPoolRejected(t *testing.T) {
	_, err := defaultCurve().Buy(fixed.Zero(), fixed.Zero(), fixed.Units(1))
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrEmptyPool)
}
