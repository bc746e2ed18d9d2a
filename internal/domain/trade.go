package domain

import "time"

// Trade is one executed trade as recorded in the trade log. Amounts are
// base-10 integers in 1e18 units.
type Trade struct {
	ID          string
	MarketID    string
	Trader      string
	Outcome     int
	IsBuy       bool
	AmountIn    string
	AmountOut   string
	Fee         string
	Withheld    string
	Price       string
	SlippageBps uint64
	ImpactBps   uint64
	Revealed    bool
	Timestamp   time.Time
}
