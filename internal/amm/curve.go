package amm

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// Curve prices one outcome against the shared collateral pool with a
// constant-product invariant, then pushes the resulting probability away
// from 0.5 by FactorBps and clamps it to [MinPrice, MaxPrice].
type Curve struct {
	FactorBps uint64
	MinPrice  *uint256.Int
	MaxPrice  *uint256.Int
}

// Quote is the result of pricing one trade.
type Quote struct {
	// RawPrice is pool/(pool+reserve) after the trade, before adjustment.
	RawPrice *uint256.Int
	// Price is the adjusted and clamped execution price.
	Price *uint256.Int
	// Out is the amount paid out: outcome shares for a buy, collateral
	// (before fees) for a sell.
	Out *uint256.Int
	// IdealOut is the output at RawPrice, used to measure price impact.
	IdealOut *uint256.Int
}

func emptyPool(op string) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrValidation, op, domain.ErrEmptyPool)
}

// Adjust applies the curve distortion and clamp to a raw probability.
func (c Curve) Adjust(raw *uint256.Int) *uint256.Int {
	scale := uint256.NewInt(fixed.BPS + c.FactorBps)
	denom := uint256.NewInt(fixed.BPS)

	var price *uint256.Int
	if !raw.Lt(fixed.HalfWAD) {
		dev, _ := new(uint256.Int).MulDivOverflow(new(uint256.Int).Sub(raw, fixed.HalfWAD), scale, denom)
		price = new(uint256.Int).Add(fixed.HalfWAD, dev)
	} else {
		dev, _ := new(uint256.Int).MulDivOverflow(new(uint256.Int).Sub(fixed.HalfWAD, raw), scale, denom)
		if dev.Lt(fixed.HalfWAD) {
			price = new(uint256.Int).Sub(fixed.HalfWAD, dev)
		} else {
			price = new(uint256.Int)
		}
	}
	return c.clamp(price)
}

func (c Curve) clamp(p *uint256.Int) *uint256.Int {
	if p.Lt(c.MinPrice) {
		return c.MinPrice
	}
	if p.Gt(c.MaxPrice) {
		return c.MaxPrice
	}
	return p
}

// RawSpot returns pool/(pool+reserve).
func (c Curve) RawSpot(pool, reserve *uint256.Int) (*uint256.Int, error) {
	if pool.IsZero() || reserve.IsZero() {
		return nil, emptyPool("spot")
	}
	var calc fixed.Calc
	raw := calc.MulDiv(pool, fixed.WAD, calc.Add(pool, reserve))
	return raw, calc.Err()
}

// Spot returns the adjusted price of an outcome without trading.
func (c Curve) Spot(pool, reserve *uint256.Int) (*uint256.Int, error) {
	raw, err := c.RawSpot(pool, reserve)
	if err != nil {
		return nil, err
	}
	return c.Adjust(raw), nil
}

// Buy prices spending amountIn collateral (net of fees) on shares of the
// outcome backed by reserve. The output never exceeds the reserve and
// never lets pool*reserve fall below its pre-trade value.
func (c Curve) Buy(pool, reserve, amountIn *uint256.Int) (Quote, error) {
	if pool.IsZero() || reserve.IsZero() {
		return Quote{}, emptyPool("buy")
	}
	var calc fixed.Calc
	k := calc.Mul(pool, reserve)
	newPool := calc.Add(pool, amountIn)
	newReserve := calc.DivUp(k, newPool)
	raw := calc.MulDiv(newPool, fixed.WAD, calc.Add(newPool, newReserve))
	if err := calc.Err(); err != nil {
		return Quote{}, err
	}
	price := c.Adjust(raw)

	ideal := calc.MulDiv(amountIn, fixed.WAD, raw)
	out := calc.MulDiv(amountIn, fixed.WAD, price)
	kCap := calc.SatSub(calc.Add(reserve, amountIn), newReserve)
	out = fixed.Min(fixed.Min(out, kCap), reserve)
	if err := calc.Err(); err != nil {
		return Quote{}, err
	}
	return Quote{RawPrice: raw, Price: price, Out: out, IdealOut: ideal}, nil
}

// Sell prices returning sharesIn of the outcome backed by reserve for
// collateral. The output is capped by the pool balance and by the largest
// x with (pool-x)*(reserve+sharesIn-x) >= pool*reserve.
func (c Curve) Sell(pool, reserve, sharesIn *uint256.Int) (Quote, error) {
	if pool.IsZero() || reserve.IsZero() {
		return Quote{}, emptyPool("sell")
	}
	var calc fixed.Calc
	k := calc.Mul(pool, reserve)
	newReserve := calc.Add(reserve, sharesIn)
	newPool := calc.DivUp(k, newReserve)
	raw := calc.MulDiv(newPool, fixed.WAD, calc.Add(newPool, newReserve))
	if err := calc.Err(); err != nil {
		return Quote{}, err
	}
	price := c.Adjust(raw)

	ideal := calc.MulWad(sharesIn, raw)
	out := calc.MulWad(sharesIn, price)
	kCap := sellCap(&calc, pool, newReserve, k)
	out = fixed.Min(fixed.Min(out, kCap), pool)
	if err := calc.Err(); err != nil {
		return Quote{}, err
	}
	return Quote{RawPrice: raw, Price: price, Out: out, IdealOut: ideal}, nil
}

// sellCap solves (p-x)(q-x) = k for the smaller root, rounding down.
func sellCap(calc *fixed.Calc, p, q, k *uint256.Int) *uint256.Int {
	sum := calc.Add(p, q)
	diff := fixed.AbsDiff(p, q)
	disc := calc.Add(calc.Mul(diff, diff), calc.Mul(k, uint256.NewInt(4)))
	if calc.Err() != nil {
		return fixed.Zero()
	}
	root := fixed.SqrtUp(disc)
	return calc.Div(calc.SatSub(sum, root), uint256.NewInt(2))
}
