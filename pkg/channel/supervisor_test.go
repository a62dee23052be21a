package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/health"
)

type flakyChannel struct {
	mu       sync.Mutex
	failures int
	calls    int
	onLast   func()
}

func (c *flakyChannel) Name() string { return "flaky" }

func (c *flakyChannel) Send(context.Context, bus.SendMessage) error { return nil }

func (c *flakyChannel) HealthCheck(context.Context) bool { return true }

func (c *flakyChannel) Listen(ctx context.Context, _ Sink) error {
	c.mu.Lock()
	c.calls++
	calls := c.calls
	c.mu.Unlock()

	if calls > c.failures {
		c.onLast()
		return nil
	}
	return errors.New("connection reset")
}

func TestSupervisorBackoffDoublesToCeiling(t *testing.T) {
	b := bus.New(1)
	ch := &flakyChannel{failures: 6, onLast: b.Close}
	registry := health.NewRegistry()

	var delays []time.Duration
	s := &Supervisor{
		Initial: 2 * time.Second,
		Max:     10 * time.Second,
		Health:  registry,
		sleep: func(_ context.Context, _ <-chan struct{}, d time.Duration) bool {
			delays = append(delays, d)
			return true
		},
	}

	s.Run(context.Background(), ch, b)

	require.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}, delays)

	component := registry.Snapshot().Components["channel:flaky"]
	require.EqualValues(t, 6, component.RestartCount)
	require.Equal(t, 7, ch.calls)
}

func TestSupervisorReturnsWhenContextCancelled(t *testing.T) {
	b := bus.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := &flakyChannel{failures: 0, onLast: cancel}

	done := make(chan struct{})
	go func() {
		(&Supervisor{Initial: time.Hour, Max: time.Hour}).Run(ctx, ch, b)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not return after cancel")
	}
	require.Equal(t, 1, ch.calls)
}

func TestSupervisorSleepAbandonedOnSinkClose(t *testing.T) {
	b := bus.New(1)
	ch := &flakyChannel{failures: 100, onLast: func() {}}

	done := make(chan struct{})
	go func() {
		(&Supervisor{Initial: time.Hour, Max: time.Hour}).Run(context.Background(), ch, b)
		close(done)
	}()

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.calls == 1
	}, time.Second, 10*time.Millisecond)
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not return after sink closed")
	}
}

type panickyChannel struct {
	calls  int
	onLast func()
}

func (c *panickyChannel) Name() string { return "panicky" }

func (c *panickyChannel) Send(context.Context, bus.SendMessage) error { return nil }

func (c *panickyChannel) HealthCheck(context.Context) bool { return true }

func (c *panickyChannel) Listen(context.Context, Sink) error {
	c.calls++
	if c.calls == 1 {
		panic("nil map write")
	}
	c.onLast()
	return nil
}

func TestSupervisorRestartsPanickingListener(t *testing.T) {
	b := bus.New(1)
	ch := &panickyChannel{onLast: b.Close}
	registry := health.NewRegistry()

	var lastError string
	s := &Supervisor{
		Initial: time.Second,
		Max:     time.Second,
		Health:  registry,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep: func(context.Context, <-chan struct{}, time.Duration) bool {
			lastError = registry.Snapshot().Components["channel:panicky"].LastError
			return true
		},
	}

	require.NotPanics(t, func() { s.Run(context.Background(), ch, b) })
	require.Equal(t, 2, ch.calls)
	require.Contains(t, lastError, "listener panicked: nil map write")
	require.EqualValues(t, 1, registry.Snapshot().Components["channel:panicky"].RestartCount)
}
