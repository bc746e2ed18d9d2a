package amm

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// Tier is one liquidity tier: positions holding at least MinLiquidity earn
// rewards multiplied by MultiplierBps/10000.
type Tier struct {
	MinLiquidity  *uint256.Int `json:"minLiquidity"`
	MultiplierBps uint64       `json:"multiplierBps"`
}

// Params holds every tunable of a market.
type Params struct {
	BaseFeeBps          uint64
	MaxFeeBps           uint64
	VolatilityWindow    time.Duration
	ProtocolFeeShareBps uint64

	CurveFactorBps uint64
	MinPrice       *uint256.Int
	MaxPrice       *uint256.Int

	MaxPriceImpactBps   uint64
	MEVWithholdShareBps uint64
	MaxMEVWithholdBps   uint64

	MinRevealDelay time.Duration
	LockWindow     time.Duration

	ILProtectionPeriod time.Duration
	MaxILCoverageBps   uint64
	Tiers              []Tier

	EarlyPredictorWindow  time.Duration
	StreakWindow          time.Duration
	AccuracyRewardRateBps uint64
	EarlyBonusBps         uint64
	StreakBonusBps        uint64
	MaxStreakBonusBps     uint64
}

// DefaultTiers returns the standard tier table.
func DefaultTiers() []Tier {
	return []Tier{
		{MinLiquidity: fixed.Zero(), MultiplierBps: 10_000},
		{MinLiquidity: fixed.Units(1_000), MultiplierBps: 11_000},
		{MinLiquidity: fixed.Units(10_000), MultiplierBps: 12_500},
		{MinLiquidity: fixed.Units(100_000), MultiplierBps: 15_000},
	}
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		BaseFeeBps:          30,
		MaxFeeBps:           100,
		VolatilityWindow:    time.Hour,
		ProtocolFeeShareBps: 5_000,

		CurveFactorBps: 500,
		MinPrice:       fixed.MustParse("0.001"),
		MaxPrice:       fixed.MustParse("0.999"),

		MaxPriceImpactBps:   500,
		MEVWithholdShareBps: 1_000,
		MaxMEVWithholdBps:   100,

		MinRevealDelay: time.Minute,
		LockWindow:     24 * time.Hour,

		ILProtectionPeriod: 30 * 24 * time.Hour,
		MaxILCoverageBps:   5_000,
		Tiers:              DefaultTiers(),

		EarlyPredictorWindow:  24 * time.Hour,
		StreakWindow:          24 * time.Hour,
		AccuracyRewardRateBps: 500,
		EarlyBonusBps:         2_000,
		StreakBonusBps:        500,
		MaxStreakBonusBps:     5_000,
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	var errs []string

	if p.BaseFeeBps > p.MaxFeeBps {
		errs = append(errs, "base fee exceeds max fee")
	}
	if p.MaxFeeBps >= fixed.BPS {
		errs = append(errs, "max fee must be below 100%")
	}
	if p.VolatilityWindow <= 0 {
		errs = append(errs, "volatility window must be positive")
	}
	if p.ProtocolFeeShareBps > fixed.BPS {
		errs = append(errs, "protocol fee share exceeds 100%")
	}
	if p.MinPrice == nil || p.MaxPrice == nil || p.MinPrice.IsZero() ||
		!p.MinPrice.Lt(p.MaxPrice) || !p.MaxPrice.Lt(fixed.WAD) {
		errs = append(errs, "price clamp must satisfy 0 < min < max < 1")
	}
	if p.MaxPriceImpactBps == 0 || p.MaxPriceImpactBps > fixed.BPS {
		errs = append(errs, "max price impact out of range")
	}
	if p.MaxMEVWithholdBps > fixed.BPS || p.MEVWithholdShareBps > fixed.BPS {
		errs = append(errs, "MEV withholding out of range")
	}
	if p.MinRevealDelay < 0 || p.LockWindow < 0 {
		errs = append(errs, "reveal delay and lock window must not be negative")
	}
	if p.ILProtectionPeriod <= 0 {
		errs = append(errs, "IL protection period must be positive")
	}
	if p.MaxILCoverageBps > fixed.BPS {
		errs = append(errs, "IL coverage exceeds 100%")
	}
	if len(p.Tiers) == 0 || !p.Tiers[0].MinLiquidity.IsZero() {
		errs = append(errs, "tier table must start at zero liquidity")
	}
	for i := 1; i < len(p.Tiers); i++ {
		if !p.Tiers[i-1].MinLiquidity.Lt(p.Tiers[i].MinLiquidity) {
			errs = append(errs, "tier thresholds must be strictly increasing")
			break
		}
	}
	if p.StreakBonusBps > p.MaxStreakBonusBps {
		errs = append(errs, "streak bonus exceeds its cap")
	}

	if len(errs) > 0 {
		return fmt.Errorf("amm: invalid params: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (p Params) feeModel() FeeModel {
	return FeeModel{BaseBps: p.BaseFeeBps, MaxBps: p.MaxFeeBps, Window: p.VolatilityWindow}
}

func (p Params) curve() Curve {
	return Curve{FactorBps: p.CurveFactorBps, MinPrice: p.MinPrice, MaxPrice: p.MaxPrice}
}

func (p Params) guard() Guard {
	return Guard{
		MaxImpactBps:     p.MaxPriceImpactBps,
		WithholdShareBps: p.MEVWithholdShareBps,
		MaxWithholdBps:   p.MaxMEVWithholdBps,
	}
}
