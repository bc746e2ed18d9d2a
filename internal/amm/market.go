// Package amm implements a multi-outcome prediction market maker: a
// distorted constant-product curve per outcome with a volatility-driven
// fee, slippage and impact guards, commit-reveal trading, liquidity
// provision with impermanent-loss protection, predictor rewards and an
// oracle-resolved lifecycle.
package amm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// Call identifies who performs an operation and when. When Hooks is set,
// side effects that must not outlive a rolled-back operation (fee
// forwarding, referral volume) are queued there instead of running at
// commit; the caller runs them once the new state is durable.
type Call struct {
	Sender common.Address
	Now    time.Time
	Hooks  *Hooks
}

// Hooks queues post-commit side effects for the caller.
type Hooks struct {
	fns []func()
}

// Run executes and clears the queued side effects.
func (h *Hooks) Run() {
	fns := h.fns
	h.fns = nil
	for _, f := range fns {
		f()
	}
}

// Len reports how many side effects are queued.
func (h *Hooks) Len() int { return len(h.fns) }

// Roles names the privileged accounts of a market.
type Roles struct {
	Admin  common.Address
	Oracle common.Address
}

// Collaborators are the external systems a market talks to. Incentives,
// Reputation, Treasury and Referral may be nil; Oracle is required to
// request resolution.
type Collaborators struct {
	Incentives domain.IncentiveManager
	Reputation domain.ReputationSystem
	Oracle     domain.OutcomeOracle
	Treasury   domain.Treasury
	Referral   domain.ReferralProgram
}

// Config holds everything shared by the markets of one deployment.
type Config struct {
	Params        Params
	Roles         Roles
	Collaborators Collaborators
	Verifier      IntentVerifier
	Logger        *slog.Logger
}

// Market is one prediction market. Mutating operations are applied to a
// copy of the state and committed only when they succeed; a second
// mutation started while one is running fails with ErrReentrantCall.
type Market struct {
	params   Params
	roles    Roles
	collab   Collaborators
	verifier IntentVerifier
	logger   *slog.Logger

	fees  FeeModel
	curve Curve
	guard Guard

	inFlight atomic.Bool
	mu       sync.RWMutex
	state    *State

	// sentRequest is the oracle request issued for this market. It
	// survives Rollback so a retried RequestResolution reuses it instead
	// of asking the oracle twice. Only touched while inFlight is held.
	sentRequest string
}

// New registers a market with no liquidity.
func New(cfg Config, id string, draft domain.MarketDraft, createdAt time.Time) (*Market, error) {
	if len(draft.Outcomes) < 2 {
		return nil, fmt.Errorf("amm: new market: %w: at least two outcomes required", domain.ErrValidation)
	}
	if !draft.EndTime.After(createdAt) {
		return nil, fmt.Errorf("amm: new market: %w: end time must be in the future", domain.ErrValidation)
	}
	return newMarket(cfg, newState(id, draft, createdAt))
}

// Restore rebuilds a market from an Export snapshot.
func Restore(cfg Config, data []byte) (*Market, error) {
	st, err := decodeState(data)
	if err != nil {
		return nil, err
	}
	return newMarket(cfg, st)
}

func newMarket(cfg Config, st *State) (*Market, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("amm: new market: intent verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Market{
		params:   cfg.Params,
		roles:    cfg.Roles,
		collab:   cfg.Collaborators,
		verifier: cfg.Verifier,
		logger:   logger.With(slog.String("component", "amm"), slog.String("market", st.ID)),
		fees:     cfg.Params.feeModel(),
		curve:    cfg.Params.curve(),
		guard:    cfg.Params.guard(),
		state:    st,
	}, nil
}

// txn is one in-progress mutation.
type txn struct {
	ctx   context.Context
	call  Call
	st    *State
	after []func()
}

// onCommit schedules fn to run once the mutation has been committed.
func (tx *txn) onCommit(fn func()) { tx.after = append(tx.after, fn) }

func (m *Market) apply(ctx context.Context, call Call, op string, fn func(tx *txn) error) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return fmt.Errorf("amm: %s: %w", op, domain.ErrReentrantCall)
	}
	defer m.inFlight.Store(false)

	m.mu.RLock()
	tx := &txn{ctx: ctx, call: call, st: m.state.Clone()}
	m.mu.RUnlock()

	if err := fn(tx); err != nil {
		m.logger.Info("amm: operation rejected",
			slog.String("op", op),
			slog.String("caller", call.Sender.Hex()),
			slog.String("kind", domain.KindOf(err)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("amm: %s: %w", op, err)
	}

	m.mu.Lock()
	m.state = tx.st
	m.mu.Unlock()

	if call.Hooks != nil {
		call.Hooks.fns = append(call.Hooks.fns, tx.after...)
		return nil
	}
	for _, f := range tx.after {
		f()
	}
	return nil
}

// Rollback replaces the committed state with an earlier Export, for
// callers whose persistence of a committed operation failed.
func (m *Market) Rollback(data []byte) error {
	st, err := decodeState(data)
	if err != nil {
		return err
	}
	if st.ID != m.read().ID {
		return fmt.Errorf("amm: rollback: snapshot of market %q", st.ID)
	}
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	return nil
}

func (m *Market) read() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Market) requireRole(call Call, role common.Address, name string) error {
	if call.Sender != role {
		return fmt.Errorf("%w: %w: %s", domain.ErrAuthorization, domain.ErrMissingRole, name)
	}
	return nil
}

// ID returns the market identifier.
func (m *Market) ID() string { return m.read().ID }

// Phase returns the current lifecycle phase.
func (m *Market) Phase() domain.Phase { return m.read().Phase }

// Snapshot returns a deep copy of the committed state.
func (m *Market) Snapshot() *State { return m.read().Clone() }

// Export serialises the committed state.
func (m *Market) Export() ([]byte, error) {
	data, err := json.Marshal(m.read())
	if err != nil {
		return nil, fmt.Errorf("amm: export: %w", err)
	}
	return data, nil
}

// Summary is a read-only overview of a market.
type Summary struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Outcomes    []string       `json:"outcomes"`
	Phase       domain.Phase   `json:"phase"`
	CreatedAt   time.Time      `json:"createdAt"`
	EndTime     time.Time      `json:"endTime"`
	Pool        *uint256.Int   `json:"pool"`
	Reserves    []*uint256.Int `json:"reserves"`
	Prices      []*uint256.Int `json:"prices,omitempty"`
	TotalShares *uint256.Int   `json:"totalShares"`
	FeeBps      uint64         `json:"feeBps"`
	Volume      *uint256.Int   `json:"volume"`
	Winner      *int           `json:"winner,omitempty"`
	RequestID   string         `json:"requestId,omitempty"`
}

// Summary describes the market as of now.
func (m *Market) Summary(now time.Time) Summary {
	st := m.read()
	s := Summary{
		ID:          st.ID,
		Name:        st.Name,
		Outcomes:    append([]string(nil), st.Outcomes...),
		Phase:       st.Phase,
		CreatedAt:   st.CreatedAt,
		EndTime:     st.EndTime,
		Pool:        st.Pool,
		Reserves:    append([]*uint256.Int(nil), st.Reserves...),
		TotalShares: st.TotalShares,
		FeeBps:      m.fees.Current(st.Volatility, now),
		Volume:      st.Volume,
		Winner:      st.Resolution.Winner,
		RequestID:   st.Resolution.RequestID,
	}
	if !st.Pool.IsZero() {
		for i := range st.Reserves {
			if p, err := m.curve.Spot(st.Pool, st.Reserves[i]); err == nil {
				s.Prices = append(s.Prices, p)
			}
		}
	}
	return s
}

// CurrentPrice returns the adjusted spot price of an outcome.
func (m *Market) CurrentPrice(outcome int) (*uint256.Int, error) {
	st := m.read()
	if err := st.checkOutcome(outcome); err != nil {
		return nil, fmt.Errorf("amm: price: %w", err)
	}
	p, err := m.curve.Spot(st.Pool, st.Reserves[outcome])
	if err != nil {
		return nil, fmt.Errorf("amm: price: %w", err)
	}
	return p, nil
}

// TWAP returns the time-weighted average price of an outcome as of now.
func (m *Market) TWAP(outcome int, now time.Time) (*uint256.Int, error) {
	st := m.read()
	if err := st.checkOutcome(outcome); err != nil {
		return nil, fmt.Errorf("amm: twap: %w", err)
	}
	twap := st.TWAP[outcome]
	p, err := twap.Average(now)
	if err != nil {
		return nil, fmt.Errorf("amm: twap: %w", err)
	}
	return p, nil
}

// PredictorStats returns the prediction record of user.
func (m *Market) PredictorStats(user common.Address) (PredictorStats, bool) {
	p, ok := m.read().Predictors[user]
	if !ok {
		return PredictorStats{TotalStaked: new(uint256.Int)}, false
	}
	return *p, true
}

// Position returns the liquidity position of user.
func (m *Market) Position(user common.Address) (Position, bool) {
	p, ok := m.read().Positions[user]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Holder returns the share balances of user.
func (m *Market) Holder(user common.Address) (Holder, bool) {
	h, ok := m.read().Holders[user]
	if !ok {
		return Holder{}, false
	}
	return *h.clone(), true
}
