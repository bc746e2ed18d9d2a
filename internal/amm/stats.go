package amm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

const (
	// ImpactBufferSize is the number of recent price impacts averaged per
	// outcome.
	ImpactBufferSize = 10
	// TWAPCapacity is the number of price observations kept per outcome.
	TWAPCapacity = 24
)

// ImpactBuffer is a fixed-size ring of recent price impacts (in bp) with
// a running sum.
type ImpactBuffer struct {
	values [ImpactBufferSize]uint64
	next   int
	count  int
	sum    uint64
}

// Push records v, overwriting the oldest value once the buffer is full.
func (b *ImpactBuffer) Push(v uint64) {
	if b.count == ImpactBufferSize {
		b.sum -= b.values[b.next]
	} else {
		b.count++
	}
	b.values[b.next] = v
	b.sum += v
	b.next = (b.next + 1) % ImpactBufferSize
}

// Len returns the number of recorded values.
func (b *ImpactBuffer) Len() int { return b.count }

// Sum returns the running sum of recorded values.
func (b *ImpactBuffer) Sum() uint64 { return b.sum }

// Average returns the mean of the recorded values, or 0 when empty.
func (b *ImpactBuffer) Average() uint64 {
	if b.count == 0 {
		return 0
	}
	return b.sum / uint64(b.count)
}

// Values returns the recorded values oldest first.
func (b *ImpactBuffer) Values() []uint64 {
	out := make([]uint64, 0, b.count)
	start := (b.next - b.count + ImpactBufferSize) % ImpactBufferSize
	for i := 0; i < b.count; i++ {
		out = append(out, b.values[(start+i)%ImpactBufferSize])
	}
	return out
}

// MarshalJSON encodes the buffer as its values, oldest first.
func (b ImpactBuffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Values())
}

// UnmarshalJSON rebuilds the buffer by replaying values.
func (b *ImpactBuffer) UnmarshalJSON(data []byte) error {
	var values []uint64
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("amm: impact buffer: %w", err)
	}
	*b = ImpactBuffer{}
	for _, v := range values {
		b.Push(v)
	}
	return nil
}

// Observation is one recorded price.
type Observation struct {
	Price *uint256.Int `json:"price"`
	At    time.Time    `json:"at"`
}

// TWAPLog keeps the most recent TWAPCapacity observations of one outcome.
type TWAPLog struct {
	obs []Observation
}

// Record appends an observation, evicting the oldest when full.
func (l *TWAPLog) Record(price *uint256.Int, at time.Time) {
	if len(l.obs) == TWAPCapacity {
		copy(l.obs, l.obs[1:])
		l.obs = l.obs[:TWAPCapacity-1]
	}
	l.obs = append(l.obs, Observation{Price: price, At: at})
}

// Len returns the number of observations held.
func (l *TWAPLog) Len() int { return len(l.obs) }

// Observations returns a copy of the log, oldest first.
func (l *TWAPLog) Observations() []Observation {
	return append([]Observation(nil), l.obs...)
}

// Average returns the time-weighted average price as of now. Each
// observation is weighted by the time until the next one; the newest is
// weighted by the time until now.
func (l *TWAPLog) Average(now time.Time) (*uint256.Int, error) {
	if len(l.obs) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrArithmetic, domain.ErrNoObservations)
	}

	var calc fixed.Calc
	weighted := fixed.Zero()
	total := fixed.Zero()
	for i, o := range l.obs {
		end := now
		if i+1 < len(l.obs) {
			end = l.obs[i+1].At
		}
		dt := end.Sub(o.At)
		if dt <= 0 {
			continue
		}
		secs := uint256.NewInt(uint64(dt / time.Second))
		weighted = calc.Add(weighted, calc.Mul(o.Price, secs))
		total = calc.Add(total, secs)
	}
	if err := calc.Err(); err != nil {
		return nil, err
	}
	if total.IsZero() {
		return l.obs[len(l.obs)-1].Price, nil
	}
	return calc.Div(weighted, total), calc.Err()
}

// MarshalJSON encodes the log as its observations.
func (l TWAPLog) MarshalJSON() ([]byte, error) {
	if l.obs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.obs)
}

// UnmarshalJSON restores the log, keeping only the newest observations.
func (l *TWAPLog) UnmarshalJSON(data []byte) error {
	var obs []Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return fmt.Errorf("amm: twap log: %w", err)
	}
	if len(obs) > TWAPCapacity {
		obs = obs[len(obs)-TWAPCapacity:]
	}
	l.obs = obs
	return nil
}

func (l TWAPLog) clone() TWAPLog {
	return TWAPLog{obs: append(make([]Observation, 0, TWAPCapacity), l.obs...)}
}
