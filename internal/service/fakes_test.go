package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/service"
)

var (
	t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	admin  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	oracle = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type memMarkets struct {
	mu      sync.Mutex
	rows    map[string]domain.Market
	saveErr error
	saves   int
}

func newMemMarkets() *memMarkets { return &memMarkets{rows: make(map[string]domain.Market)} }

func (s *memMarkets) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[m.ID] = m
	return nil
}

func (s *memMarkets) Save(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cur, ok := s.rows[m.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != m.Version-1 {
		return domain.ErrStaleVersion
	}
	s.rows[m.ID] = m
	s.saves++
	return nil
}

func (s *memMarkets) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarkets) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.rows))
	for _, m := range s.rows {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memMarkets) ListByPhase(_ context.Context, phases ...domain.Phase) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.rows {
		for _, p := range phases {
			if m.Phase == p {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

type memTrades struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *memTrades) Insert(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memTrades) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].MarketID == marketID {
			out = append(out, s.trades[i])
		}
	}
	return out, nil
}

func (s *memTrades) ListByTrader(_ context.Context, trader string, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Trader == trader {
			out = append(out, t)
		}
	}
	return out, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    []domain.StreamMessage
	subs      map[string]chan []byte
}

func newMemBus() *memBus {
	return &memBus{published: make(map[string][][]byte), subs: make(map[string]chan []byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	if ch, ok := b.subs[channel]; ok {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = ch
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, domain.StreamMessage{ID: fmt.Sprintf("%d-0", len(b.stream)+1), Payload: payload})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	past := lastID == "0" || lastID == ""
	for _, m := range b.stream {
		if past {
			out = append(out, m)
			if count > 0 && len(out) == count {
				break
			}
		}
		if m.ID == lastID {
			past = true
		}
	}
	return out, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

type memPrices struct {
	mu     sync.Mutex
	prices map[string][]string
}

func (p *memPrices) SetPrices(_ context.Context, marketID string, prices []string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prices == nil {
		p.prices = make(map[string][]string)
	}
	p.prices[marketID] = prices
	return nil
}

func (p *memPrices) GetPrices(_ context.Context, marketID string) ([]string, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.prices[marketID]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return v, t0, nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type memArchiver struct {
	mu       sync.Mutex
	archived []string
	err      error
}

func (a *memArchiver) ArchiveMarket(_ context.Context, m domain.Market) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return false, a.err
	}
	if m.Phase != domain.PhaseSettled {
		return false, errors.New("not settled")
	}
	a.archived = append(a.archived, m.ID)
	return true, nil
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) NotifyEvent(_ context.Context, ev domain.MarketEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev.Type)
	return nil
}

type seqOracle struct {
	mu       sync.Mutex
	n        int
	resolved []string
}

func (o *seqOracle) RequestOutcome(_ context.Context, marketID string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.n++
	return fmt.Sprintf("req-%d", o.n), nil
}

func (o *seqOracle) Resolve(requestID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolved = append(o.resolved, requestID)
}

type failingTreasury struct{}

func (failingTreasury) CollectFees(context.Context, string, *uint256.Int) error {
	return errors.New("treasury offline")
}

type countingTreasury struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTreasury) CollectFees(context.Context, string, *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingTreasury) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type env struct {
	svc      *service.MarketService
	clock    *clock
	markets  *memMarkets
	trades   *memTrades
	audit    *memAudit
	bus      *memBus
	prices   *memPrices
	locks    *memLocks
	archiver *memArchiver
	notifier *memNotifier
	oracle   *seqOracle
	engine   amm.Config
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock:    &clock{now: t0},
		markets:  newMemMarkets(),
		trades:   &memTrades{},
		audit:    &memAudit{},
		bus:      newMemBus(),
		prices:   &memPrices{},
		locks:    &memLocks{},
		archiver: &memArchiver{},
		notifier: &memNotifier{},
		oracle:   &seqOracle{},
	}
	e.engine = amm.Config{
		Params: amm.DefaultParams(),
		Roles:  amm.Roles{Admin: admin, Oracle: oracle},
		Collaborators: amm.Collaborators{
			Oracle:   e.oracle,
			Treasury: failingTreasury{},
		},
		Verifier: crypto.NewIntentVerifier("outcome-amm", "1", 137),
		Logger:   quiet(),
	}
	e.svc = e.build()
	return e
}

// build creates a fresh service over the env's stores.
func (e *env) build() *service.MarketService {
	return service.NewMarketService(service.MarketDeps{
		Engine:   e.engine,
		Markets:  e.markets,
		Trades:   e.trades,
		Audit:    e.audit,
		Bus:      e.bus,
		Prices:   e.prices,
		Locks:    e.locks,
		Archiver: e.archiver,
		Notifier: e.notifier,
		Clock:    e.clock.Now,
		Logger:   quiet(),
	})
}

func (b *memBus) subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[channel]
	return ok
}
