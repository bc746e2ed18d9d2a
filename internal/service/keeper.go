package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// Keeper drives time-based lifecycle transitions on behalf of the admin
// and relays oracle fulfillments from the signal bus.
type Keeper struct {
	svc      *MarketService
	bus      domain.SignalBus
	admin    common.Address
	oracle   common.Address
	interval time.Duration
	logger   *slog.Logger
}

// NewKeeper creates a Keeper. bus may be nil, in which case fulfillments
// must arrive through the HTTP API.
func NewKeeper(svc *MarketService, bus domain.SignalBus, interval time.Duration, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	roles := svc.Roles()
	return &Keeper{
		svc:      svc,
		bus:      bus,
		admin:    roles.Admin,
		oracle:   roles.Oracle,
		interval: interval,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks until ctx is cancelled and, when a bus is configured, consumes
// oracle fulfillments concurrently.
func (k *Keeper) Run(ctx context.Context) error {
	if k.bus != nil {
		msgs, err := k.bus.Subscribe(ctx, FulfillmentChannel)
		if err != nil {
			return fmt.Errorf("keeper: subscribe: %w", err)
		}
		go k.consume(ctx, msgs)
	}

	k.Tick(ctx, time.Now())
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			k.Tick(ctx, now)
		}
	}
}

// TickReport counts the transitions performed by one tick.
type TickReport struct {
	Locked    int
	Started   int
	Requested int
	Archived  int
	Failed    int
}

// Tick advances every market whose clock allows it: Active markets inside
// the lock window are locked, ended Locked markets enter resolution, and
// markets in resolution without a request get one.
func (k *Keeper) Tick(ctx context.Context, now time.Time) TickReport {
	var rep TickReport
	lockWindow := k.svc.Params().LockWindow

	if err := k.svc.Load(ctx); err != nil {
		k.logger.WarnContext(ctx, "keeper: reload failed", slog.String("error", err.Error()))
	}

	for _, m := range k.svc.Summaries() {
		var err error
		switch {
		case m.Phase == domain.PhaseActive && !now.Before(m.EndTime.Add(-lockWindow)):
			if err = k.svc.LockMarket(ctx, m.ID, k.admin); err == nil {
				rep.Locked++
			}
		case m.Phase == domain.PhaseLocked && !now.Before(m.EndTime):
			if err = k.svc.StartResolution(ctx, m.ID, k.admin); err == nil {
				rep.Started++
			}
		case m.Phase == domain.PhaseResolution && m.RequestID == "":
			if _, err = k.svc.RequestResolution(ctx, m.ID, k.admin); err == nil {
				rep.Requested++
			}
		}
		if err != nil {
			rep.Failed++
			level := slog.LevelWarn
			if errors.Is(err, domain.ErrLockHeld) {
				level = slog.LevelDebug
			}
			k.logger.Log(ctx, level, "keeper: transition failed",
				slog.String("market", m.ID),
				slog.String("phase", string(m.Phase)),
				slog.String("error", err.Error()),
			)
		}
	}

	n, err := k.svc.ArchiveSettled(ctx)
	rep.Archived = n
	if err != nil {
		k.logger.WarnContext(ctx, "keeper: archive failed", slog.String("error", err.Error()))
	}

	if rep != (TickReport{}) {
		k.logger.InfoContext(ctx, "keeper: tick",
			slog.Int("locked", rep.Locked),
			slog.Int("started", rep.Started),
			slog.Int("requested", rep.Requested),
			slog.Int("archived", rep.Archived),
			slog.Int("failed", rep.Failed),
		)
	}
	return rep
}

func (k *Keeper) consume(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			if err := k.HandleFulfillment(ctx, payload); err != nil {
				k.logger.WarnContext(ctx, "keeper: fulfillment rejected", slog.String("error", err.Error()))
			}
		}
	}
}

// HandleFulfillment applies one oracle fulfillment message.
func (k *Keeper) HandleFulfillment(ctx context.Context, payload []byte) error {
	var f domain.OracleFulfillment
	if err := json.Unmarshal(payload, &f); err != nil {
		return fmt.Errorf("keeper: decode fulfillment: %w", err)
	}
	if err := k.svc.FulfillResolution(ctx, f.MarketID, k.oracle, f.RequestID, f.Outcome); err != nil {
		return fmt.Errorf("keeper: fulfill %s: %w", f.MarketID, err)
	}
	k.logger.InfoContext(ctx, "keeper: fulfillment applied",
		slog.String("market", f.MarketID),
		slog.String("request_id", f.RequestID),
		slog.Int("outcome", f.Outcome),
	)
	return nil
}
