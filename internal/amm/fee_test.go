package amm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
)

func feeModel() amm.FeeModel {
	return amm.FeeModel{BaseBps: 30, MaxBps: 100, Window: time.Hour}
}

func TestFeeModel_BaseFeeWithoutVolatility(t *testing.T) {
	f := feeModel()
	assert.Equal(t, uint64(30), f.Current(amm.VolatilityState{}, t0))
}

func TestFeeModel_ScalesWithVolatility(t *testing.T) {
	f := feeModel()
	assert.Equal(t, uint64(65), f.FeeBps(5_000))
	assert.Equal(t, uint64(100), f.FeeBps(10_000))
	assert.Equal(t, uint64(100), f.FeeBps(50_000))
}

func TestFeeModel_DecaysLinearly(t *testing.T) {
	f := feeModel()
	v := amm.VolatilityState{Cumulative: 8_000, LastTrade: t0}

	assert.Equal(t, uint64(8_000), f.Decayed(v, t0))
	assert.Equal(t, uint64(4_000), f.Decayed(v, t0.Add(30*time.Minute)))
	assert.Equal(t, uint64(2_000), f.Decayed(v, t0.Add(45*time.Minute)))
}

func TestFeeModel_ResetsAfterWindow(t *testing.T) {
	f := feeModel()
	v := amm.VolatilityState{Cumulative: 8_000, LastTrade: t0}

	assert.Equal(t, uint64(0), f.Decayed(v, t0.Add(61*time.Minute)))
	assert.Equal(t, uint64(30), f.Current(v, t0.Add(2*time.Hour)))
}

func TestFeeModel_ObserveCapsVolatility(t *testing.T) {
	f := feeModel()
	v := f.Observe(amm.VolatilityState{Cumulative: 9_500, LastTrade: t0}, t0, 900)

	assert.Equal(t, uint64(10_000), v.Cumulative)
	assert.Equal(t, t0, v.LastTrade)
}

func TestFeeModel_ObserveAddsToDecayedValue(t *testing.T) {
	f := feeModel()
	v := f.Observe(amm.VolatilityState{Cumulative: 1_000, LastTrade: t0}, t0.Add(30*time.Minute), 200)

	assert.Equal(t, uint64(700), v.Cumulative)
}
