package domain

import "time"

// Event types published on the signal bus after a committed operation.
const (
	EventTrade             = "trade"
	EventCommit            = "commit"
	EventLiquidityAdded    = "liquidity_added"
	EventLiquidityRemoved  = "liquidity_removed"
	EventRewardsClaimed    = "rewards_claimed"
	EventWinningsClaimed   = "winnings_claimed"
	EventMarketCreated     = "market_created"
	EventMarketLocked      = "market_locked"
	EventResolutionStarted = "resolution_started"
	EventResolutionRequest = "resolution_requested"
	EventMarketSettled     = "market_settled"
	EventOracleFulfillment = "oracle_fulfillment"
)

// MarketEvent is the JSON envelope sent to subscribers.
type MarketEvent struct {
	Type     string    `json:"type"`
	MarketID string    `json:"marketId"`
	Actor    string    `json:"actor,omitempty"`
	Data     any       `json:"data,omitempty"`
	At       time.Time `json:"at"`
}

// OracleFulfillment is the message an oracle publishes to answer a
// resolution request.
type OracleFulfillment struct {
	MarketID  string `json:"marketId"`
	RequestID string `json:"requestId"`
	Outcome   int    `json:"outcome"`
}
