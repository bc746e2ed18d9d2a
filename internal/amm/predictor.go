package amm

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// PredictorStats is a trader's prediction record in one market.
type PredictorStats struct {
	TotalPredictions   uint64       `json:"totalPredictions"`
	CorrectPredictions uint64       `json:"correctPredictions"`
	TotalStaked        *uint256.Int `json:"totalStaked"`
	LastPrediction     time.Time    `json:"lastPrediction"`
	EarlyPredictor     bool         `json:"earlyPredictor"`
	EarlySince         time.Time    `json:"earlySince,omitempty"`
	CurrentStreak      uint64       `json:"currentStreak"`
	BestStreak         uint64       `json:"bestStreak"`
}

// record counts one buy. Buys within StreakWindow of the previous one
// extend the streak; the first buy within EarlyPredictorWindow of market
// creation makes the trader an early predictor and is kept as EarlySince.
func (p *PredictorStats) record(amount *uint256.Int, now, createdAt time.Time, params Params) {
	p.TotalPredictions++
	p.TotalStaked = new(uint256.Int).Add(p.TotalStaked, amount)
	if now.Sub(createdAt) <= params.EarlyPredictorWindow && !p.EarlyPredictor {
		p.EarlyPredictor = true
		p.EarlySince = now
	}
	if !p.LastPrediction.IsZero() && now.Sub(p.LastPrediction) <= params.StreakWindow {
		p.CurrentStreak++
	} else {
		p.CurrentStreak = 1
	}
	if p.CurrentStreak > p.BestStreak {
		p.BestStreak = p.CurrentStreak
	}
	p.LastPrediction = now
}

// AccuracyBps returns correct predictions as a share of all predictions.
func (p PredictorStats) AccuracyBps() uint64 {
	if p.TotalPredictions == 0 {
		return 0
	}
	return p.CorrectPredictions * fixed.BPS / p.TotalPredictions
}

// BonusBps returns the reward boost for early participation and the
// current streak.
func (p PredictorStats) BonusBps(params Params) uint64 {
	var bonus uint64
	if p.EarlyPredictor {
		bonus += params.EarlyBonusBps
	}
	if p.CurrentStreak > 1 {
		streak := (p.CurrentStreak - 1) * params.StreakBonusBps
		if streak > params.MaxStreakBonusBps {
			streak = params.MaxStreakBonusBps
		}
		bonus += streak
	}
	return bonus
}

// PredictorReward returns the settlement reward for a winning stake.
func PredictorReward(stake *uint256.Int, stats PredictorStats, params Params) (*uint256.Int, error) {
	var calc fixed.Calc
	base := calc.Bps(stake, params.AccuracyRewardRateBps)
	reward := calc.Bps(base, fixed.BPS+stats.BonusBps(params))
	return reward, calc.Err()
}
