package fixed

import (
	"github.com/holiman/uint256"
)

// Calc evaluates a sequence of checked operations and remembers the first
// failure. After a failure every further operation returns zero, so a
// formula can be written straight through and checked once with Err.
type Calc struct {
	err error
}

// Err returns the first failure, if any.
func (c *Calc) Err() error { return c.err }

func (c *Calc) fail(op string, reason error) *uint256.Int {
	if c.err == nil {
		c.err = arithmetic(op, reason)
	}
	return new(uint256.Int)
}

// Add returns x + y.
func (c *Calc) Add(x, y *uint256.Int) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return c.fail("add", ErrOverflow)
	}
	return z
}

// Sub returns x - y and fails when y > x.
func (c *Calc) Sub(x, y *uint256.Int) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	if x.Lt(y) {
		return c.fail("sub", ErrUnderflow)
	}
	return new(uint256.Int).Sub(x, y)
}

// SatSub returns x - y, or zero when y > x.
func (c *Calc) SatSub(x, y *uint256.Int) *uint256.Int {
	if c.err != nil || x.Lt(y) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

// Mul returns x * y.
func (c *Calc) Mul(x, y *uint256.Int) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return c.fail("mul", ErrOverflow)
	}
	return z
}

// Div returns floor(x / y).
func (c *Calc) Div(x, y *uint256.Int) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	if y.IsZero() {
		return c.fail("div", ErrDivisionByZero)
	}
	return new(uint256.Int).Div(x, y)
}

// DivUp returns ceil(x / y).
func (c *Calc) DivUp(x, y *uint256.Int) *uint256.Int {
	q := c.Div(x, y)
	if c.err != nil {
		return q
	}
	if !new(uint256.Int).Mod(x, y).IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}

// MulDiv returns floor(x * y / d) with a 512-bit intermediate product.
func (c *Calc) MulDiv(x, y, d *uint256.Int) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	if d.IsZero() {
		return c.fail("muldiv", ErrDivisionByZero)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return c.fail("muldiv", ErrOverflow)
	}
	return z
}

// MulDivUp returns ceil(x * y / d).
func (c *Calc) MulDivUp(x, y, d *uint256.Int) *uint256.Int {
	z := c.MulDiv(x, y, d)
	if c.err != nil {
		return z
	}
	prod := new(uint256.Int).MulMod(x, y, d)
	if !prod.IsZero() {
		return c.Add(z, uint256.NewInt(1))
	}
	return z
}

// MulWad returns x * y / 1e18.
func (c *Calc) MulWad(x, y *uint256.Int) *uint256.Int {
	return c.MulDiv(x, y, WAD)
}

// DivWad returns x * 1e18 / y.
func (c *Calc) DivWad(x, y *uint256.Int) *uint256.Int {
	return c.MulDiv(x, WAD, y)
}

// Bps returns x * bps / 10000.
func (c *Calc) Bps(x *uint256.Int, bps uint64) *uint256.Int {
	return c.MulDiv(x, uint256.NewInt(bps), bpsDenominator)
}

// RatioBps returns floor(num * 10000 / den) as a uint64, saturating at the
// maximum uint64.
func (c *Calc) RatioBps(num, den *uint256.Int) uint64 {
	z := c.MulDiv(num, bpsDenominator, den)
	if c.err != nil {
		return 0
	}
	if !z.IsUint64() {
		return ^uint64(0)
	}
	return z.Uint64()
}
