package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// Channels and streams used for market events.
const (
	EventStream         = "market-events"
	FulfillmentChannel  = "oracle:fulfillments"
	marketChannelPrefix = "market:"
	lockKeyPrefix       = "market:"
	loadPageSize        = 500
)

// MarketChannel returns the pub/sub channel of one market.
func MarketChannel(id string) string { return marketChannelPrefix + id }

// EventNotifier receives committed market events for operator alerts.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.MarketEvent) error
}

// oracleTracker is implemented by oracles that keep local request state.
type oracleTracker interface {
	Resolve(requestID string)
}

// MarketDeps are the collaborators of a MarketService. Markets and Trades
// are required; the rest may be nil.
type MarketDeps struct {
	Engine   amm.Config
	Markets  domain.MarketStore
	Trades   domain.TradeStore
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Prices   domain.PriceCache
	Locks    domain.LockManager
	Archiver domain.Archiver
	Notifier EventNotifier
	LockTTL  time.Duration
	Clock    func() time.Time
	Logger   *slog.Logger
}

// entry is one registered market. mu serialises operations within this
// process; the distributed lock serialises them across processes.
type entry struct {
	mu       sync.Mutex
	market   atomic.Pointer[amm.Market]
	version  int64
	archived bool
}

func newEntry(m *amm.Market, version int64) *entry {
	e := &entry{version: version}
	e.market.Store(m)
	return e
}

// MarketService runs engine operations against registered markets and
// takes care of everything around them: persistence with rollback,
// the trade log, audit, events, the price cache, archiving and
// notifications.
type MarketService struct {
	engine   amm.Config
	markets  domain.MarketStore
	trades   domain.TradeStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	prices   domain.PriceCache
	locks    domain.LockManager
	archiver domain.Archiver
	notifier EventNotifier
	lockTTL  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	registry map[string]*entry
}

// NewMarketService creates a MarketService with an empty registry. Call
// Load to restore persisted markets.
func NewMarketService(deps MarketDeps) *MarketService {
	if deps.LockTTL <= 0 {
		deps.LockTTL = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &MarketService{
		engine:   deps.Engine,
		markets:  deps.Markets,
		trades:   deps.Trades,
		audit:    deps.Audit,
		bus:      deps.Bus,
		prices:   deps.Prices,
		locks:    deps.Locks,
		archiver: deps.Archiver,
		notifier: deps.Notifier,
		lockTTL:  deps.LockTTL,
		now:      deps.Clock,
		logger:   deps.Logger.With(slog.String("component", "market_service")),
		registry: make(map[string]*entry),
	}
}

// Params returns the engine parameters shared by every market.
func (s *MarketService) Params() amm.Params { return s.engine.Params }

// Roles returns the privileged accounts.
func (s *MarketService) Roles() amm.Roles { return s.engine.Roles }

// Load restores every persisted market into the registry. Markets already
// registered are replaced when the store holds a newer version, so Load
// also picks up changes made by other processes.
func (s *MarketService) Load(ctx context.Context) error {
	loaded, refreshed := 0, 0
	for offset := 0; ; offset += loadPageSize {
		page, err := s.markets.List(ctx, domain.ListOpts{Limit: loadPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("market_service: load: %w", err)
		}
		for _, rec := range page {
			s.mu.RLock()
			e, ok := s.registry[rec.ID]
			s.mu.RUnlock()
			if ok {
				updated, err := s.sync(e, rec)
				if err != nil {
					return err
				}
				if updated {
					refreshed++
				}
				continue
			}
			m, err := amm.Restore(s.engine, rec.State)
			if err != nil {
				return fmt.Errorf("market_service: restore %s: %w", rec.ID, err)
			}
			s.mu.Lock()
			if _, ok := s.registry[rec.ID]; !ok {
				s.registry[rec.ID] = newEntry(m, rec.Version)
				loaded++
			}
			s.mu.Unlock()
		}
		if len(page) < loadPageSize {
			break
		}
	}
	if loaded > 0 || refreshed > 0 {
		s.logger.InfoContext(ctx, "market_service: markets loaded",
			slog.Int("loaded", loaded),
			slog.Int("refreshed", refreshed),
		)
	}
	return nil
}

// sync replaces e's state with rec when rec is newer.
func (s *MarketService) sync(e *entry, rec domain.Market) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec.Version <= e.version {
		return false, nil
	}
	m, err := amm.Restore(s.engine, rec.State)
	if err != nil {
		return false, fmt.Errorf("market_service: restore %s: %w", rec.ID, err)
	}
	e.market.Store(m)
	e.version = rec.Version
	return true, nil
}

// CreateMarket registers a new market and seeds it with initial liquidity
// from the admin. Only the admin may register markets.
func (s *MarketService) CreateMarket(ctx context.Context, sender common.Address, draft domain.MarketDraft, liquidity *uint256.Int) (amm.Summary, error) {
	if sender != s.engine.Roles.Admin {
		return amm.Summary{}, fmt.Errorf("market_service: create: %w: %w: admin", domain.ErrAuthorization, domain.ErrMissingRole)
	}
	now := s.now()
	id := uuid.NewString()
	m, err := amm.New(s.engine, id, draft, now)
	if err != nil {
		return amm.Summary{}, fmt.Errorf("market_service: create: %w", err)
	}
	if liquidity != nil && !liquidity.IsZero() {
		if _, err := m.AddLiquidity(ctx, amm.Call{Sender: sender, Now: now}, liquidity); err != nil {
			return amm.Summary{}, fmt.Errorf("market_service: create: seed liquidity: %w", err)
		}
	}

	rec, err := s.record(m, 1)
	if err != nil {
		return amm.Summary{}, err
	}
	rec.CreatedAt = now
	if err := s.markets.Create(ctx, rec); err != nil {
		return amm.Summary{}, fmt.Errorf("market_service: create: %w", err)
	}

	e := newEntry(m, 1)
	s.mu.Lock()
	s.registry[id] = e
	s.mu.Unlock()

	sum := m.Summary(now)
	s.afterCommit(ctx, e, domain.MarketEvent{
		Type:     domain.EventMarketCreated,
		MarketID: id,
		Actor:    sender.Hex(),
		Data:     sum,
		At:       now,
	})
	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market", id),
		slog.String("name", draft.Name),
		slog.Int("outcomes", len(draft.Outcomes)),
	)
	return sum, nil
}

// Market returns the read-only view of a registered market.
func (s *MarketService) Market(id string) (amm.PriceReader, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.market.Load(), nil
}

// Summaries returns every registered market ordered by end time.
func (s *MarketService) Summaries() []amm.Summary {
	now := s.now()
	s.mu.RLock()
	out := make([]amm.Summary, 0, len(s.registry))
	for _, e := range s.registry {
		out = append(out, e.market.Load().Summary(now))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].EndTime.Before(out[j].EndTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Summary returns one market's summary.
func (s *MarketService) Summary(id string) (amm.Summary, error) {
	e, err := s.lookup(id)
	if err != nil {
		return amm.Summary{}, err
	}
	return e.market.Load().Summary(s.now()), nil
}

// Account is everything a market knows about one address.
type Account struct {
	Address   string              `json:"address"`
	Holder    *amm.Holder         `json:"holder,omitempty"`
	Liquidity *amm.Position       `json:"liquidity,omitempty"`
	Predictor *amm.PredictorStats `json:"predictor,omitempty"`
}

// Account returns the balances, liquidity position and prediction record
// of user in a market.
func (s *MarketService) Account(id string, user common.Address) (Account, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Account{}, err
	}
	acct := Account{Address: user.Hex()}
	if h, ok := e.market.Load().Holder(user); ok {
		acct.Holder = &h
	}
	if p, ok := e.market.Load().Position(user); ok {
		acct.Liquidity = &p
	}
	if p, ok := e.market.Load().PredictorStats(user); ok {
		acct.Predictor = &p
	}
	return acct, nil
}

// Prices returns cached spot prices, falling back to the engine.
func (s *MarketService) Prices(ctx context.Context, id string) ([]string, time.Time, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, time.Time{}, err
	}
	if s.prices != nil {
		prices, ts, err := s.prices.GetPrices(ctx, id)
		if err == nil {
			return prices, ts, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market_service: price cache read failed",
				slog.String("market", id),
				slog.String("error", err.Error()),
			)
		}
	}
	now := s.now()
	return decStrings(e.market.Load().Summary(now).Prices), now, nil
}

// Trades lists the trade log of a market, newest first.
func (s *MarketService) Trades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	trades, err := s.trades.ListByMarket(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: trades %s: %w", id, err)
	}
	return trades, nil
}

// Events replays the market event stream after lastID.
func (s *MarketService) Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, nil
	}
	msgs, err := s.bus.StreamRead(ctx, EventStream, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("market_service: events: %w", err)
	}
	return msgs, nil
}

// Quote prices a trade without executing it.
func (s *MarketService) Quote(id string, sender common.Address, req amm.TradeRequest) (amm.TradeResult, error) {
	e, err := s.lookup(id)
	if err != nil {
		return amm.TradeResult{}, err
	}
	return e.market.Load().QuoteTrade(amm.Call{Sender: sender, Now: s.now()}, req)
}

// Trade executes a trade immediately.
func (s *MarketService) Trade(ctx context.Context, id string, sender common.Address, req amm.TradeRequest) (amm.TradeResult, error) {
	var (
		res  amm.TradeResult
		when time.Time
	)
	err := s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		var err error
		if res, err = m.Trade(ctx, call, req); err != nil {
			return nil, err
		}
		when = call.Now
		return &domain.MarketEvent{Type: domain.EventTrade, Data: res}, nil
	})
	if err != nil {
		return res, err
	}
	s.logTrade(ctx, id, sender, when, res, false)
	return res, nil
}

// Commit records a trade commitment.
func (s *MarketService) Commit(ctx context.Context, id string, sender common.Address, hash common.Hash) error {
	return s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		if err := m.CommitTrade(ctx, call, hash); err != nil {
			return nil, err
		}
		return &domain.MarketEvent{Type: domain.EventCommit, Data: map[string]string{"hash": hash.Hex()}}, nil
	})
}

// Reveal executes a previously committed trade.
func (s *MarketService) Reveal(ctx context.Context, id string, sender common.Address, intent domain.TradeIntent, sig []byte) (amm.TradeResult, error) {
	var (
		res  amm.TradeResult
		when time.Time
	)
	err := s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		var err error
		if res, err = m.RevealTrade(ctx, call, intent, sig); err != nil {
			return nil, err
		}
		when = call.Now
		return &domain.MarketEvent{Type: domain.EventTrade, Data: res}, nil
	})
	if err != nil {
		return res, err
	}
	s.logTrade(ctx, id, sender, when, res, true)
	return res, nil
}

// AddLiquidity deposits collateral into a market.
func (s *MarketService) AddLiquidity(ctx context.Context, id string, sender common.Address, amount *uint256.Int) (amm.Position, error) {
	var pos amm.Position
	err := s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		var err error
		if pos, err = m.AddLiquidity(ctx, call, amount); err != nil {
			return nil, err
		}
		return &domain.MarketEvent{Type: domain.EventLiquidityAdded, Data: map[string]any{"amount": amount, "position": pos}}, nil
	})
	return pos, err
}

// RemoveLiquidity burns liquidity shares.
func (s *MarketService) RemoveLiquidity(ctx context.Context, id string, sender common.Address, shares *uint256.Int) (amm.Removal, error) {
	var out amm.Removal
	err := s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		var err error
		if out, err = m.RemoveLiquidity(ctx, call, shares); err != nil {
			return nil, err
		}
		return &domain.MarketEvent{Type: domain.EventLiquidityRemoved, Data: out}, nil
	})
	return out, err
}

// ClaimRewards pays accrued liquidity rewards.
func (s *MarketService) ClaimRewards(ctx context.Context, id string, sender common.Address) (*uint256.Int, error) {
	var reward *uint256.Int
	err := s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		var err error
		if reward, err = m.ClaimRewards(ctx, call); err != nil {
			return nil, err
		}
		return &domain.MarketEvent{Type: domain.EventRewardsClaimed, Data: map[string]any{"reward": reward}}, nil
	})
	return reward, err
}

// ClaimWinnings redeems winning shares on a settled market.
func (s *MarketService) ClaimWinnings(ctx context.Context, id string, sender common.Address) (amm.Winnings, error) {
	var w amm.Winnings
	err := s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		var err error
		if w, err = m.ClaimWinnings(ctx, call); err != nil {
			return nil, err
		}
		return &domain.MarketEvent{Type: domain.EventWinningsClaimed, Data: w}, nil
	})
	return w, err
}

// LockMarket stops trading on a market.
func (s *MarketService) LockMarket(ctx context.Context, id string, sender common.Address) error {
	return s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		if err := m.LockMarket(ctx, call); err != nil {
			return nil, err
		}
		return &domain.MarketEvent{Type: domain.EventMarketLocked}, nil
	})
}

// StartResolution moves an ended market into resolution.
func (s *MarketService) StartResolution(ctx context.Context, id string, sender common.Address) error {
	return s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		if err := m.StartResolution(ctx, call); err != nil {
			return nil, err
		}
		return &domain.MarketEvent{Type: domain.EventResolutionStarted}, nil
	})
}

// RequestResolution asks the oracle for the outcome.
func (s *MarketService) RequestResolution(ctx context.Context, id string, sender common.Address) (string, error) {
	var requestID string
	err := s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		var err error
		if requestID, err = m.RequestResolution(ctx, call); err != nil {
			return nil, err
		}
		return &domain.MarketEvent{Type: domain.EventResolutionRequest, Data: requestID}, nil
	})
	return requestID, err
}

// FulfillResolution settles a market with the oracle's answer.
func (s *MarketService) FulfillResolution(ctx context.Context, id string, sender common.Address, requestID string, outcome int) error {
	err := s.mutate(ctx, id, sender, func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error) {
		if err := m.FulfillResolution(ctx, call, requestID, outcome); err != nil {
			return nil, err
		}
		sum := m.Summary(call.Now)
		return &domain.MarketEvent{Type: domain.EventMarketSettled, Data: map[string]any{
			"requestId": requestID,
			"winner":    outcome,
			"outcome":   sum.Outcomes[outcome],
		}}, nil
	})
	if err != nil {
		return err
	}
	if t, ok := s.engine.Collaborators.Oracle.(oracleTracker); ok {
		t.Resolve(requestID)
	}
	return nil
}

// ArchiveSettled archives every settled market not yet archived by this
// process. It returns how many markets were newly written.
func (s *MarketService) ArchiveSettled(ctx context.Context) (int, error) {
	if s.archiver == nil {
		return 0, nil
	}
	s.mu.RLock()
	pending := make([]*entry, 0)
	for _, e := range s.registry {
		pending = append(pending, e)
	}
	s.mu.RUnlock()

	written := 0
	var errs []error
	for _, e := range pending {
		e.mu.Lock()
		if e.archived || e.market.Load().Phase() != domain.PhaseSettled {
			e.mu.Unlock()
			continue
		}
		ok, err := s.archive(ctx, e)
		e.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			written++
		}
	}
	return written, errors.Join(errs...)
}

// mutate runs op on a market while holding its local and distributed
// locks, persists the new state and runs the post-commit side effects.
// A persistence failure restores the previous state and drops the queued
// collaborator side effects.
func (s *MarketService) mutate(
	ctx context.Context,
	id string,
	sender common.Address,
	op func(m *amm.Market, call amm.Call) (*domain.MarketEvent, error),
) error {
	e, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, lockKeyPrefix+id, s.lockTTL)
		if err != nil {
			return fmt.Errorf("market_service: %s: %w", id, err)
		}
		defer unlock()
	}

	before, err := e.market.Load().Export()
	if err != nil {
		return fmt.Errorf("market_service: %s: %w", id, err)
	}

	// Fee forwarding and referral updates wait for the save below.
	var hooks amm.Hooks
	call := amm.Call{Sender: sender, Now: s.now(), Hooks: &hooks}
	ev, err := op(e.market.Load(), call)
	if err != nil {
		return err
	}

	rec, err := s.record(e.market.Load(), e.version+1)
	if err == nil {
		err = s.markets.Save(ctx, rec)
	}
	if err != nil {
		if rerr := e.market.Load().Rollback(before); rerr != nil {
			s.logger.ErrorContext(ctx, "market_service: rollback failed",
				slog.String("market", id),
				slog.String("error", rerr.Error()),
			)
		}
		if hooks.Len() > 0 {
			s.logger.InfoContext(ctx, "market_service: dropped side effects of rolled back operation",
				slog.String("market", id),
				slog.Int("hooks", hooks.Len()),
			)
		}
		if errors.Is(err, domain.ErrStaleVersion) {
			s.refresh(ctx, e, id)
		}
		return fmt.Errorf("market_service: persist %s: %w", id, err)
	}
	e.version = rec.Version
	hooks.Run()

	if ev != nil {
		ev.MarketID = id
		ev.Actor = sender.Hex()
		ev.At = call.Now
		s.afterCommit(ctx, e, *ev)
	}
	return nil
}

// afterCommit publishes the event and refreshes derived data. Failures
// are logged and never undo the operation.
func (s *MarketService) afterCommit(ctx context.Context, e *entry, ev domain.MarketEvent) {
	s.publish(ctx, ev)
	s.cachePrices(ctx, e.market.Load(), ev.At)
	s.auditLog(ctx, "market."+ev.Type, map[string]any{"market": ev.MarketID, "actor": ev.Actor})

	if s.notifier != nil {
		if err := s.notifier.NotifyEvent(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "market_service: notify failed",
				slog.String("market", ev.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	if ev.Type == domain.EventMarketSettled {
		if _, err := s.archive(ctx, e); err != nil {
			s.logger.WarnContext(ctx, "market_service: archive failed, will retry",
				slog.String("market", ev.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *MarketService) publish(ctx context.Context, ev domain.MarketEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.WarnContext(ctx, "market_service: marshal event failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, MarketChannel(ev.MarketID), payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish failed",
			slog.String("market", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: stream append failed",
			slog.String("market", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) cachePrices(ctx context.Context, m *amm.Market, at time.Time) {
	if s.prices == nil {
		return
	}
	sum := m.Summary(at)
	if len(sum.Prices) == 0 {
		return
	}
	if err := s.prices.SetPrices(ctx, sum.ID, decStrings(sum.Prices), at); err != nil {
		s.logger.WarnContext(ctx, "market_service: price cache write failed",
			slog.String("market", sum.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// archive must be called with e.mu held.
func (s *MarketService) archive(ctx context.Context, e *entry) (bool, error) {
	if s.archiver == nil || e.archived {
		return false, nil
	}
	rec, err := s.record(e.market.Load(), e.version)
	if err != nil {
		return false, err
	}
	ok, err := s.archiver.ArchiveMarket(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("market_service: archive %s: %w", rec.ID, err)
	}
	e.archived = true
	return ok, nil
}

// logTrade appends a committed trade to the trade log. The engine state
// is already persisted, so a failed insert is only logged.
func (s *MarketService) logTrade(ctx context.Context, id string, trader common.Address, at time.Time, res amm.TradeResult, revealed bool) {
	t := domain.Trade{
		ID:          uuid.NewString(),
		MarketID:    id,
		Trader:      trader.Hex(),
		Outcome:     res.Outcome,
		IsBuy:       res.IsBuy,
		AmountIn:    dec(res.AmountIn),
		AmountOut:   dec(res.AmountOut),
		Fee:         dec(res.Fee),
		Withheld:    dec(res.Withheld),
		Price:       dec(res.ExecutionPrice),
		SlippageBps: res.SlippageBps,
		ImpactBps:   res.ImpactBps,
		Revealed:    revealed,
		Timestamp:   at,
	}
	if err := s.trades.Insert(ctx, t); err != nil {
		s.logger.WarnContext(ctx, "market_service: trade log insert failed",
			slog.String("market", id),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "market_service: trade recorded",
		slog.String("market", id),
		slog.String("trade_id", t.ID),
		slog.String("trader", t.Trader),
		slog.Bool("buy", t.IsBuy),
	)
}

func (s *MarketService) record(m *amm.Market, version int64) (domain.Market, error) {
	data, err := m.Export()
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: export: %w", err)
	}
	st := m.Snapshot()
	return domain.Market{
		ID:        st.ID,
		Name:      st.Name,
		Outcomes:  st.Outcomes,
		Phase:     st.Phase,
		EndTime:   st.EndTime,
		Winner:    st.Resolution.Winner,
		Version:   version,
		State:     data,
		CreatedAt: st.CreatedAt,
		UpdatedAt: s.now(),
	}, nil
}

// refresh reloads a market another process has advanced. The caller holds
// e.mu.
func (s *MarketService) refresh(ctx context.Context, e *entry, id string) {
	rec, err := s.markets.GetByID(ctx, id)
	if err == nil {
		var m *amm.Market
		if m, err = amm.Restore(s.engine, rec.State); err == nil {
			e.market.Store(m)
			e.version = rec.Version
			return
		}
	}
	s.logger.WarnContext(ctx, "market_service: refresh failed",
		slog.String("market", id),
		slog.String("error", err.Error()),
	)
}

// resolve is lookup with a store fallback for markets registered by another
// process.
func (s *MarketService) resolve(ctx context.Context, id string) (*entry, error) {
	e, err := s.lookup(id)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return e, err
	}
	rec, gerr := s.markets.GetByID(ctx, id)
	if gerr != nil {
		if errors.Is(gerr, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("market_service: get %s: %w", id, gerr)
	}
	m, rerr := amm.Restore(s.engine, rec.State)
	if rerr != nil {
		return nil, fmt.Errorf("market_service: restore %s: %w", id, rerr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.registry[id]; ok {
		return cur, nil
	}
	e = newEntry(m, rec.Version)
	s.registry[id] = e
	return e, nil
}

func (s *MarketService) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.registry[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("market_service: market %q: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func decStrings(xs []*uint256.Int) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = dec(x)
	}
	return out
}
