package amm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// stateVersion is bumped whenever the exported layout changes.
const stateVersion = 1

// Holder is one account's outcome-share balances and prediction history.
type Holder struct {
	Shares    []*uint256.Int `json:"shares"`
	Staked    []*uint256.Int `json:"staked"`
	Picks     []uint64       `json:"picks"`
	Claimable *uint256.Int   `json:"claimable"`
}

func newHolder(outcomes int) *Holder {
	h := &Holder{
		Shares:    make([]*uint256.Int, outcomes),
		Staked:    make([]*uint256.Int, outcomes),
		Picks:     make([]uint64, outcomes),
		Claimable: fixed.Zero(),
	}
	for i := range h.Shares {
		h.Shares[i] = fixed.Zero()
		h.Staked[i] = fixed.Zero()
	}
	return h
}

func (h *Holder) clone() *Holder {
	c := *h
	c.Shares = append([]*uint256.Int(nil), h.Shares...)
	c.Staked = append([]*uint256.Int(nil), h.Staked...)
	c.Picks = append([]uint64(nil), h.Picks...)
	return &c
}

// Resolution tracks the oracle request and the settled outcome.
type Resolution struct {
	RequestID   string    `json:"requestId,omitempty"`
	Pending     bool      `json:"pending"`
	RequestedAt time.Time `json:"requestedAt,omitempty"`
	Winner      *int      `json:"winner,omitempty"`
	SettledAt   time.Time `json:"settledAt,omitempty"`
}

// Minted totals what the engine has promised to pay out beyond pool
// collateral: LP rewards, IL protection, predictor rewards and the part of
// winning-share redemptions the pool could not cover.
type Minted struct {
	LPRewards        *uint256.Int `json:"lpRewards"`
	ILProtection     *uint256.Int `json:"ilProtection"`
	PredictorRewards *uint256.Int `json:"predictorRewards"`
	Redemptions      *uint256.Int `json:"redemptions"`
}

// State is the complete state of one market. Values of type *uint256.Int
// are never mutated in place once stored, so copies may share them.
type State struct {
	Version   int          `json:"version"`
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Outcomes  []string     `json:"outcomes"`
	CreatedAt time.Time    `json:"createdAt"`
	EndTime   time.Time    `json:"endTime"`
	Phase     domain.Phase `json:"phase"`

	Pool         *uint256.Int    `json:"pool"`
	Reserves     []*uint256.Int  `json:"reserves"`
	TotalShares  *uint256.Int    `json:"totalShares"`
	ProtocolFees *uint256.Int    `json:"protocolFees"`
	Volume       *uint256.Int    `json:"volume"`
	Volatility   VolatilityState `json:"volatility"`
	Impact       []ImpactBuffer  `json:"impact"`
	TWAP         []TWAPLog       `json:"twap"`

	Holders     map[common.Address]*Holder         `json:"holders"`
	Positions   map[common.Address]*Position       `json:"positions"`
	Predictors  map[common.Address]*PredictorStats `json:"predictors"`
	Commitments map[common.Hash]*Commitment        `json:"commitments"`

	Resolution Resolution `json:"resolution"`
	// Redeemed is the collateral paid for winning shares so far.
	Redeemed *uint256.Int `json:"redeemed"`
	Minted   Minted       `json:"minted"`
}

func newState(id string, draft domain.MarketDraft, createdAt time.Time) *State {
	n := len(draft.Outcomes)
	st := &State{
		Version:      stateVersion,
		ID:           id,
		Name:         draft.Name,
		Outcomes:     append([]string(nil), draft.Outcomes...),
		CreatedAt:    createdAt,
		EndTime:      draft.EndTime,
		Phase:        domain.PhaseActive,
		Pool:         fixed.Zero(),
		Reserves:     make([]*uint256.Int, n),
		TotalShares:  fixed.Zero(),
		ProtocolFees: fixed.Zero(),
		Volume:       fixed.Zero(),
		Impact:       make([]ImpactBuffer, n),
		TWAP:         make([]TWAPLog, n),
		Holders:      make(map[common.Address]*Holder),
		Positions:    make(map[common.Address]*Position),
		Predictors:   make(map[common.Address]*PredictorStats),
		Commitments:  make(map[common.Hash]*Commitment),
		Redeemed:     fixed.Zero(),
		Minted: Minted{
			LPRewards:        fixed.Zero(),
			ILProtection:     fixed.Zero(),
			PredictorRewards: fixed.Zero(),
			Redemptions:      fixed.Zero(),
		},
	}
	for i := range st.Reserves {
		st.Reserves[i] = fixed.Zero()
	}
	return st
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	c.Outcomes = append([]string(nil), s.Outcomes...)
	c.Reserves = append([]*uint256.Int(nil), s.Reserves...)
	c.Impact = append([]ImpactBuffer(nil), s.Impact...)
	c.TWAP = make([]TWAPLog, len(s.TWAP))
	for i, l := range s.TWAP {
		c.TWAP[i] = l.clone()
	}

	c.Holders = make(map[common.Address]*Holder, len(s.Holders))
	for k, v := range s.Holders {
		c.Holders[k] = v.clone()
	}
	c.Positions = make(map[common.Address]*Position, len(s.Positions))
	for k, v := range s.Positions {
		p := *v
		c.Positions[k] = &p
	}
	c.Predictors = make(map[common.Address]*PredictorStats, len(s.Predictors))
	for k, v := range s.Predictors {
		p := *v
		c.Predictors[k] = &p
	}
	c.Commitments = make(map[common.Hash]*Commitment, len(s.Commitments))
	for k, v := range s.Commitments {
		cm := *v
		c.Commitments[k] = &cm
	}
	if s.Resolution.Winner != nil {
		w := *s.Resolution.Winner
		c.Resolution.Winner = &w
	}
	return &c
}

func (s *State) holder(addr common.Address) *Holder {
	h, ok := s.Holders[addr]
	if !ok {
		h = newHolder(len(s.Outcomes))
		s.Holders[addr] = h
	}
	return h
}

func (s *State) predictor(addr common.Address) *PredictorStats {
	p, ok := s.Predictors[addr]
	if !ok {
		p = &PredictorStats{TotalStaked: fixed.Zero()}
		s.Predictors[addr] = p
	}
	return p
}

func (s *State) checkOutcome(i int) error {
	if i < 0 || i >= len(s.Outcomes) {
		return fmt.Errorf("%w: %w: %d of %d", domain.ErrValidation, domain.ErrInvalidOutcome, i, len(s.Outcomes))
	}
	return nil
}

func (s *State) requirePhase(phases ...domain.Phase) error {
	for _, p := range phases {
		if s.Phase == p {
			return nil
		}
	}
	return fmt.Errorf("%w: %w: market is %s", domain.ErrPhaseViolation, domain.ErrWrongPhase, s.Phase)
}

// rewardHorizon caps reward accrual at settlement time.
func (s *State) rewardHorizon(now time.Time) time.Time {
	if s.Phase == domain.PhaseSettled && !s.Resolution.SettledAt.IsZero() && s.Resolution.SettledAt.Before(now) {
		return s.Resolution.SettledAt
	}
	return now
}

// decodeState parses an exported state and checks its shape.
func decodeState(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("amm: decode state: %w", err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("amm: decode state: unsupported version %d", st.Version)
	}
	n := len(st.Outcomes)
	if n < 2 || len(st.Reserves) != n || len(st.Impact) != n || len(st.TWAP) != n {
		return nil, fmt.Errorf("amm: decode state: inconsistent outcome count")
	}
	if st.Holders == nil {
		st.Holders = make(map[common.Address]*Holder)
	}
	if st.Positions == nil {
		st.Positions = make(map[common.Address]*Position)
	}
	if st.Predictors == nil {
		st.Predictors = make(map[common.Address]*PredictorStats)
	}
	if st.Commitments == nil {
		st.Commitments = make(map[common.Hash]*Commitment)
	}
	// totals added after the first snapshots were written
	for _, v := range []**uint256.Int{&st.Redeemed, &st.Minted.Redemptions} {
		if *v == nil {
			*v = fixed.Zero()
		}
	}
	return &st, nil
}
