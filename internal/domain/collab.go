package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// IncentiveManager supplies the liquidity incentive rate and receives
// per-trade metric history. The rate is 1e18-scaled reward per second per
// unit of liquidity.
type IncentiveManager interface {
	LiquidityIncentiveRate(ctx context.Context, marketID string) (*uint256.Int, error)
	NotifyMetricHistory(ctx context.Context, marketID string, volume *uint256.Int, volatilityBps uint64) error
}

// ReputationUpdate is the delta reported for one user.
type ReputationUpdate struct {
	LiquidityAdded   *uint256.Int `json:"liquidityAdded,omitempty"`
	LiquidityRemoved *uint256.Int `json:"liquidityRemoved,omitempty"`
	AccuracyDelta    int64        `json:"accuracyDelta"`
	Participation    uint64       `json:"participation"`
}

// ReputationSystem records user reputation changes.
type ReputationSystem interface {
	UpdateReputation(ctx context.Context, user common.Address, update ReputationUpdate) error
}

// OutcomeOracle answers resolution requests asynchronously.
type OutcomeOracle interface {
	RequestOutcome(ctx context.Context, marketID string) (requestID string, err error)
}

// Treasury receives protocol fees. Calls are fire-and-forget.
type Treasury interface {
	CollectFees(ctx context.Context, marketID string, amount *uint256.Int) error
}

// ReferralProgram receives trade volume attribution. Calls are
// fire-and-forget.
type ReferralProgram interface {
	RecordVolume(ctx context.Context, marketID string, trader common.Address, volume *uint256.Int) error
}
