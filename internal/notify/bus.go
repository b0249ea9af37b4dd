// Package notify delivers bot lifecycle events to operators. Events flow
// through a bounded in-process bus so that a slow or failing channel
// (Telegram, Discord) can never stall the trading path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Bus is a bounded, drop-oldest event bus that fans events out to the
// configured senders. Publish never blocks: when the buffer is full the
// oldest undelivered event is dropped and counted, because a fresh TRADE_CLOSED
// matters more than a stale SIGNAL_GENERATED.
type Bus struct {
	ch      chan domain.Event
	senders []Sender
	allowed map[domain.EventKind]bool
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewBus creates a bus with the given buffer size. Only event kinds listed in
// events are forwarded to senders; an empty list forwards everything. Events
// are always logged regardless of the filter.
func NewBus(size int, senders []Sender, events []string, logger *slog.Logger) *Bus {
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		allowed[domain.EventKind(strings.TrimSpace(e))] = true
	}
	return &Bus{
		ch:      make(chan domain.Event, size),
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "event_bus")),
	}
}

// Publish enqueues an event without blocking. It implements
// domain.EventPublisher.
func (b *Bus) Publish(ev domain.Event) {
	for {
		select {
		case b.ch <- ev:
			return
		default:
		}
		// Buffer full: evict the oldest event and retry.
		select {
		case old := <-b.ch:
			b.logger.Warn("event dropped, bus full",
				slog.String("kind", string(old.Kind)),
				slog.Int64("total_dropped", b.dropped.Add(1)),
			)
		default:
		}
	}
}

// Run dispatches queued events until ctx is canceled. Sender failures are
// logged and never retried; notifications are best-effort.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.ch:
			b.dispatch(ctx, ev)
		}
	}
}

// Flush dispatches every queued event and returns once the buffer is empty.
// Called on shutdown after Run has stopped, so the final TRADE_CLOSED and
// state-change events still reach the senders.
func (b *Bus) Flush(ctx context.Context) {
	for {
		select {
		case ev := <-b.ch:
			b.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev domain.Event) {
	b.logger.Info("event",
		slog.String("kind", string(ev.Kind)),
		slog.String("symbol", ev.Symbol),
		slog.String("reason", ev.Reason),
		slog.String("message", ev.Message),
	)

	if len(b.allowed) > 0 && !b.allowed[ev.Kind] {
		return
	}

	title, message := format(ev)
	for _, s := range b.senders {
		if err := s.Send(ctx, title, message); err != nil {
			b.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// format renders an event as a short operator-facing notification.
func format(ev domain.Event) (title, message string) {
	var b strings.Builder
	switch ev.Kind {
	case domain.EventSignalGenerated:
		title = fmt.Sprintf("Signal: %s", ev.Symbol)
	case domain.EventTradeOpened:
		title = fmt.Sprintf("Trade opened: %s", ev.Symbol)
	case domain.EventTradeClosed:
		title = fmt.Sprintf("Trade closed: %s (%s)", ev.Symbol, ev.Reason)
		fmt.Fprintf(&b, "PnL: %+.2f\n", ev.PnL)
	case domain.EventTradeRejected:
		title = fmt.Sprintf("Trade rejected: %s", ev.Reason)
	case domain.EventBotStateChanged:
		title = "Bot state changed"
	case domain.EventReconciliationAction:
		title = fmt.Sprintf("Reconciliation: %s", ev.Symbol)
	default:
		title = string(ev.Kind)
	}
	if ev.Message != "" {
		b.WriteString(ev.Message)
	}
	return title, b.String()
}
