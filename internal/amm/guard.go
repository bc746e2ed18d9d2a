package amm

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// Guard enforces slippage and price impact limits and computes the MEV
// withholding applied to trade output.
type Guard struct {
	MaxImpactBps     uint64
	WithholdShareBps uint64
	MaxWithholdBps   uint64
}

// GuardReport carries the measurements taken for one trade.
type GuardReport struct {
	SlippageBps      uint64 `json:"slippageBps"`
	ImpactBps        uint64 `json:"impactBps"`
	RollingImpactBps uint64 `json:"rollingImpactBps"`
}

func rejected(reason error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: "+format, append([]any{domain.ErrValidation, reason}, args...)...)
}

// Slippage returns |actual - expected| in bp of expected, rounded down.
func (g Guard) Slippage(expected, actual *uint256.Int) (uint64, error) {
	var calc fixed.Calc
	bps := calc.RatioBps(fixed.AbsDiff(actual, expected), expected)
	return bps, calc.Err()
}

// Impact returns the shortfall of q.Out against q.IdealOut in bp.
func (g Guard) Impact(q Quote) (uint64, error) {
	if !q.Out.Lt(q.IdealOut) {
		return 0, nil
	}
	var calc fixed.Calc
	bps := calc.RatioBps(new(uint256.Int).Sub(q.IdealOut, q.Out), q.IdealOut)
	return bps, calc.Err()
}

// Check validates a quote against the caller's slippage ceiling and the
// impact limits. The trade's impact is recorded in buf before the rolling
// average is tested.
func (g Guard) Check(expected *uint256.Int, q Quote, maxSlippageBps uint64, buf *ImpactBuffer) (GuardReport, error) {
	var rep GuardReport
	var err error

	if rep.SlippageBps, err = g.Slippage(expected, q.Price); err != nil {
		return rep, err
	}
	if rep.SlippageBps > maxSlippageBps {
		return rep, rejected(domain.ErrSlippageExceeded, "%d bp > %d bp", rep.SlippageBps, maxSlippageBps)
	}

	if rep.ImpactBps, err = g.Impact(q); err != nil {
		return rep, err
	}
	if rep.ImpactBps > g.MaxImpactBps {
		return rep, rejected(domain.ErrPriceImpactExceeded, "%d bp > %d bp", rep.ImpactBps, g.MaxImpactBps)
	}

	buf.Push(rep.ImpactBps)
	rep.RollingImpactBps = buf.Average()
	if rep.RollingImpactBps > g.MaxImpactBps {
		return rep, rejected(domain.ErrRollingImpactExceeded, "%d bp > %d bp", rep.RollingImpactBps, g.MaxImpactBps)
	}
	return rep, nil
}

// Withhold returns the part of out retained by the pool because the
// realized price deviates from the quoted spot price, and the retained
// fraction in bp.
func (g Guard) Withhold(spot, realized, out *uint256.Int) (*uint256.Int, uint64, error) {
	var calc fixed.Calc
	deviation := calc.RatioBps(fixed.AbsDiff(realized, spot), spot)
	if err := calc.Err(); err != nil {
		return nil, 0, err
	}
	bps := deviation / fixed.BPS * g.WithholdShareBps
	bps += deviation % fixed.BPS * g.WithholdShareBps / fixed.BPS
	if bps > g.MaxWithholdBps {
		bps = g.MaxWithholdBps
	}
	withheld := calc.Bps(out, bps)
	return withheld, bps, calc.Err()
}
