package collab

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

var (
	_ domain.IncentiveManager = (*StaticIncentives)(nil)
	_ domain.OutcomeOracle    = (*ManualOracle)(nil)
	_ domain.ReputationSystem = Noop{}
	_ domain.Treasury         = Noop{}
	_ domain.ReferralProgram  = Noop{}
)

// StaticIncentives serves a fixed incentive rate for every market and logs
// metric history at debug level.
type StaticIncentives struct {
	rate   *uint256.Int
	logger *slog.Logger
}

// NewStaticIncentives returns an incentive manager with a constant rate.
// A nil rate means no rewards.
func NewStaticIncentives(rate *uint256.Int, logger *slog.Logger) *StaticIncentives {
	if rate == nil {
		rate = new(uint256.Int)
	}
	return &StaticIncentives{
		rate:   rate.Clone(),
		logger: logger.With(slog.String("component", "static_incentives")),
	}
}

func (s *StaticIncentives) LiquidityIncentiveRate(_ context.Context, _ string) (*uint256.Int, error) {
	return s.rate.Clone(), nil
}

func (s *StaticIncentives) NotifyMetricHistory(_ context.Context, marketID string, volume *uint256.Int, volatilityBps uint64) error {
	s.logger.Debug("collab: metric history",
		slog.String("market", marketID),
		slog.String("volume", dec(volume)),
		slog.Uint64("volatility_bps", volatilityBps),
	)
	return nil
}

// Noop discards reputation updates, fee collections and referral volume.
type Noop struct{}

func (Noop) UpdateReputation(context.Context, common.Address, domain.ReputationUpdate) error {
	return nil
}

func (Noop) CollectFees(context.Context, string, *uint256.Int) error { return nil }

func (Noop) RecordVolume(context.Context, string, common.Address, *uint256.Int) error {
	return nil
}

// ManualOracle hands out request ids for resolution requests and remembers
// them until an operator answers. The answer itself arrives through the
// oracle fulfillment route, not through this type.
type ManualOracle struct {
	mu      sync.Mutex
	pending map[string]string // request id -> market id
	logger  *slog.Logger
}

// NewManualOracle creates an empty manual oracle.
func NewManualOracle(logger *slog.Logger) *ManualOracle {
	return &ManualOracle{
		pending: make(map[string]string),
		logger:  logger.With(slog.String("component", "manual_oracle")),
	}
}

// RequestOutcome records a new request and returns its id.
func (o *ManualOracle) RequestOutcome(_ context.Context, marketID string) (string, error) {
	id := uuid.NewString()
	o.mu.Lock()
	o.pending[id] = marketID
	o.mu.Unlock()
	o.logger.Info("collab: resolution requested",
		slog.String("market", marketID),
		slog.String("request_id", id),
	)
	return id, nil
}

// PendingRequest is an unanswered resolution request.
type PendingRequest struct {
	RequestID string `json:"requestId"`
	MarketID  string `json:"marketId"`
}

// Pending lists open requests ordered by market id.
func (o *ManualOracle) Pending() []PendingRequest {
	o.mu.Lock()
	out := make([]PendingRequest, 0, len(o.pending))
	for id, m := range o.pending {
		out = append(out, PendingRequest{RequestID: id, MarketID: m})
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

// Resolve forgets a request once it has been fulfilled.
func (o *ManualOracle) Resolve(requestID string) {
	o.mu.Lock()
	delete(o.pending, requestID)
	o.mu.Unlock()
}
