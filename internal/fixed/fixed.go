// Package fixed implements 1e18 fixed-point arithmetic on 256-bit unsigned
// integers. Amounts and prices in the engine are all expressed this way.
package fixed

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// Decimals is the number of implied decimal places.
const Decimals = 18

// BPS is the basis-point denominator.
const BPS = 10_000

var (
	// WAD is 1.0 in fixed point.
	WAD = uint256.NewInt(1_000_000_000_000_000_000)
	// HalfWAD is 0.5 in fixed point.
	HalfWAD = uint256.NewInt(500_000_000_000_000_000)

	bpsDenominator = uint256.NewInt(BPS)
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrUnderflow      = errors.New("subtraction underflow")
	ErrOverflow       = errors.New("256-bit overflow")
	ErrNegative       = errors.New("negative value")
)

func arithmetic(op string, reason error) error {
	return fmt.Errorf("%w: fixed: %s: %w", domain.ErrArithmetic, op, reason)
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Units returns n whole units (n * 1e18).
func Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), WAD)
}

// Parse converts a decimal string such as "12.5" into fixed point. Digits
// beyond the 18th decimal place are truncated.
func Parse(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("fixed: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromDecimal converts a decimal amount of units into fixed point.
func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, arithmetic("from decimal", ErrNegative)
	}
	v, overflow := uint256.FromBig(d.Shift(Decimals).BigInt())
	if overflow {
		return nil, arithmetic("from decimal", ErrOverflow)
	}
	return v, nil
}

// ToDecimal converts a fixed-point value into a decimal number of units.
func ToDecimal(x *uint256.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -Decimals)
}

// Format renders x as a decimal string of units. A nil x renders as "0".
func Format(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return ToDecimal(x).String()
}

// Float returns an approximate float64 of x in units, for caches and logs.
func Float(x *uint256.Int) float64 {
	return ToDecimal(x).InexactFloat64()
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return a
	}
	return b
}

// AbsDiff returns |a - b|.
func AbsDiff(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Sub(b, a)
	}
	return new(uint256.Int).Sub(a, b)
}

// SqrtUp returns ceil(sqrt(x)).
func SqrtUp(x *uint256.Int) *uint256.Int {
	r := new(uint256.Int).Sqrt(x)
	if new(uint256.Int).Mul(r, r).Lt(x) {
		r.AddUint64(r, 1)
	}
	return r
}
