package amm

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// PriceReader exposes read-only market data.
type PriceReader interface {
	ID() string
	Phase() domain.Phase
	Summary(now time.Time) Summary
	CurrentPrice(outcome int) (*uint256.Int, error)
	TWAP(outcome int, now time.Time) (*uint256.Int, error)
	PredictorStats(user common.Address) (PredictorStats, bool)
	Holder(user common.Address) (Holder, bool)
}

// Trader exposes trading and redemption.
type Trader interface {
	Trade(ctx context.Context, call Call, req TradeRequest) (TradeResult, error)
	QuoteTrade(call Call, req TradeRequest) (TradeResult, error)
	CommitTrade(ctx context.Context, call Call, hash common.Hash) error
	RevealTrade(ctx context.Context, call Call, intent domain.TradeIntent, sig []byte) (TradeResult, error)
	ClaimWinnings(ctx context.Context, call Call) (Winnings, error)
}

// LiquidityProvider exposes liquidity provision.
type LiquidityProvider interface {
	AddLiquidity(ctx context.Context, call Call, amount *uint256.Int) (Position, error)
	RemoveLiquidity(ctx context.Context, call Call, shares *uint256.Int) (Removal, error)
	ClaimRewards(ctx context.Context, call Call) (*uint256.Int, error)
	Position(user common.Address) (Position, bool)
}

// Lifecycle exposes phase transitions.
type Lifecycle interface {
	LockMarket(ctx context.Context, call Call) error
	StartResolution(ctx context.Context, call Call) error
	RequestResolution(ctx context.Context, call Call) (string, error)
	FulfillResolution(ctx context.Context, call Call, requestID string, outcome int) error
}

var (
	_ PriceReader       = (*Market)(nil)
	_ Trader            = (*Market)(nil)
	_ LiquidityProvider = (*Market)(nil)
	_ Lifecycle         = (*Market)(nil)
)
