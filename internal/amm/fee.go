package amm

import (
	"time"

	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// maxVolatility is the ceiling of the cumulative volatility score.
const maxVolatility = fixed.BPS

// VolatilityState is the cumulative volatility score of a market and the
// time of the last trade that contributed to it.
type VolatilityState struct {
	Cumulative uint64    `json:"cumulative"`
	LastTrade  time.Time `json:"lastTrade"`
}

// FeeModel derives the trading fee from recent volatility. Volatility
// decays linearly to zero over Window and is reset once Window has passed
// without a trade.
type FeeModel struct {
	BaseBps uint64
	MaxBps  uint64
	Window  time.Duration
}

// Decayed returns the volatility score as of now.
func (f FeeModel) Decayed(v VolatilityState, now time.Time) uint64 {
	if v.LastTrade.IsZero() || v.Cumulative == 0 {
		return 0
	}
	elapsed := now.Sub(v.LastTrade)
	if elapsed <= 0 {
		return v.Cumulative
	}
	if elapsed > f.Window {
		return 0
	}
	remaining := f.Window - elapsed
	return v.Cumulative * uint64(remaining) / uint64(f.Window)
}

// FeeBps returns the fee for a volatility score.
func (f FeeModel) FeeBps(volatility uint64) uint64 {
	fee := f.BaseBps + volatility*(f.MaxBps-f.BaseBps)/fixed.BPS
	if fee > f.MaxBps {
		fee = f.MaxBps
	}
	return fee
}

// Current returns the fee a trade executing at now pays.
func (f FeeModel) Current(v VolatilityState, now time.Time) uint64 {
	return f.FeeBps(f.Decayed(v, now))
}

// Observe folds a price move (in bp) into the volatility score.
func (f FeeModel) Observe(v VolatilityState, now time.Time, moveBps uint64) VolatilityState {
	next := f.Decayed(v, now) + moveBps
	if next > maxVolatility {
		next = maxVolatility
	}
	return VolatilityState{Cumulative: next, LastTrade: now}
}
