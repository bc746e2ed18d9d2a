package domain

import "time"

// Phase is the lifecycle state of a market.
type Phase string

const (
	PhaseActive     Phase = "active"
	PhaseLocked     Phase = "locked"
	PhaseResolution Phase = "resolution"
	PhaseSettled    Phase = "settled"
)

// Market is the persisted record of one market. State carries the full
// engine snapshot as JSON; the other fields are denormalised for queries.
type Market struct {
	ID        string
	Name      string
	Outcomes  []string
	Phase     Phase
	EndTime   time.Time
	Winner    *int
	Version   int64
	State     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarketDraft describes a market to register with the engine.
type MarketDraft struct {
	Name     string
	Outcomes []string
	EndTime  time.Time
}
