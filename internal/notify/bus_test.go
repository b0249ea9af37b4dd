package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

type recordedSend struct {
	title   string
	message string
}

type fakeSender struct {
	mu    sync.Mutex
	name  string
	err   error
	sends []recordedSend
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sends = append(s.sends, recordedSend{title: title, message: message})
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func (s *fakeSender) recorded() []recordedSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedSend, len(s.sends))
	copy(out, s.sends)
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestBusDeliversToAllSenders(t *testing.T) {
	t.Parallel()
	a := &fakeSender{name: "a"}
	b := &fakeSender{name: "b"}
	bus := NewBus(8, []Sender{a, b}, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	bus.Publish(domain.Event{
		Kind:   domain.EventTradeClosed,
		Symbol: "R_25",
		Reason: "TAKE_PROFIT",
		PnL:    4.2,
		At:     time.Now(),
	})

	waitFor(t, func() bool { return len(a.recorded()) == 1 && len(b.recorded()) == 1 })
	got := a.recorded()[0]
	assert.Equal(t, "Trade closed: R_25 (TAKE_PROFIT)", got.title)
	assert.True(t, strings.HasPrefix(got.message, "PnL: +4.20"))
}

func TestBusFiltersEventKinds(t *testing.T) {
	t.Parallel()
	s := &fakeSender{name: "a"}
	bus := NewBus(8, []Sender{s}, []string{"TRADE_OPENED", "TRADE_CLOSED"}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	bus.Publish(domain.Event{Kind: domain.EventSignalGenerated, Symbol: "R_25"})
	bus.Publish(domain.Event{Kind: domain.EventTradeOpened, Symbol: "R_25"})

	waitFor(t, func() bool { return len(s.recorded()) == 1 })
	assert.Equal(t, "Trade opened: R_25", s.recorded()[0].title)
}

func TestBusPublishNeverBlocksWhenFull(t *testing.T) {
	t.Parallel()
	// No Run loop draining: a buffer of 2 must still absorb any number of
	// events by evicting the oldest.
	bus := NewBus(2, nil, nil, discard())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(domain.Event{Kind: domain.EventSignalGenerated})
		}
		bus.Publish(domain.Event{Kind: domain.EventTradeClosed, Symbol: "last"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full bus")
	}
	assert.Greater(t, bus.dropped.Load(), int64(0))

	// The newest event survived the evictions.
	var last domain.Event
	for {
		select {
		case ev := <-bus.ch:
			last = ev
			continue
		default:
		}
		break
	}
	assert.Equal(t, "last", last.Symbol)
}

func TestBusSenderFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	failing := &fakeSender{name: "bad", err: errors.New("http 500")}
	healthy := &fakeSender{name: "good"}
	bus := NewBus(8, []Sender{failing, healthy}, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	bus.Publish(domain.Event{Kind: domain.EventTradeOpened, Symbol: "R_25"})
	waitFor(t, func() bool { return len(healthy.recorded()) == 1 })
}

func TestBusFlushDeliversQueuedEvents(t *testing.T) {
	t.Parallel()
	s := &fakeSender{name: "a"}
	// No Run loop: events published after the dispatch loop has stopped
	// stay queued until Flush drains them.
	bus := NewBus(8, []Sender{s}, nil, discard())

	bus.Publish(domain.Event{Kind: domain.EventTradeClosed, Symbol: "R_25", Reason: "TAKE_PROFIT"})
	bus.Publish(domain.Event{Kind: domain.EventBotStateChanged, Message: "RUNNING -> STOPPED"})
	require.Empty(t, s.recorded())

	bus.Flush(context.Background())

	got := s.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, "Trade closed: R_25 (TAKE_PROFIT)", got[0].title)
	assert.Equal(t, "Bot state changed", got[1].title)

	// Flush on an empty bus returns immediately.
	bus.Flush(context.Background())
	assert.Len(t, s.recorded(), 2)
}

func TestBusRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	bus := NewBus(8, nil, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- bus.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("bus did not stop on cancel")
	}
}

func TestFormatRejection(t *testing.T) {
	t.Parallel()
	title, message := format(domain.Event{
		Kind:    domain.EventTradeRejected,
		Symbol:  "R_25",
		Reason:  "COOLDOWN_ACTIVE",
		Message: "12m30s remaining",
	})
	assert.Equal(t, "Trade rejected: COOLDOWN_ACTIVE", title)
	assert.Equal(t, "12m30s remaining", message)
}
