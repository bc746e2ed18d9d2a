// Package notify pushes market lifecycle alerts (locked, resolution
// requested, settled) to operator channels such as Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders, filtered by
// event type.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends a notification to all senders if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyEvent renders a market event and sends it. Events without an
// operator-facing rendering are ignored.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.MarketEvent) error {
	title, message, ok := Render(ev)
	if !ok {
		return nil
	}
	return n.Notify(ctx, ev.Type, title, message)
}

// Render formats the lifecycle events operators are alerted about.
func Render(ev domain.MarketEvent) (title, message string, ok bool) {
	when := ev.At.UTC().Format("2006-01-02 15:04 MST")
	switch ev.Type {
	case domain.EventMarketLocked:
		return "Market locked", fmt.Sprintf("%s locked for trading at %s", ev.MarketID, when), true
	case domain.EventResolutionStarted:
		return "Resolution started", fmt.Sprintf("%s entered resolution at %s", ev.MarketID, when), true
	case domain.EventResolutionRequest:
		return "Resolution requested", fmt.Sprintf("%s asked the oracle for an outcome at %s (request %v)",
			ev.MarketID, when, ev.Data), true
	case domain.EventMarketSettled:
		return "Market settled", fmt.Sprintf("%s settled at %s: %v", ev.MarketID, when, ev.Data), true
	}
	return "", "", false
}

// dispatch sends to every sender. One sender failing does not stop
// delivery to the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
