package channel

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"

	"zeroclaw/pkg/health"
)

// Supervisor restarts a channel listener with exponential backoff until the
// sink closes or ctx is done.
type Supervisor struct {
	Initial time.Duration
	Max     time.Duration
	Health  *health.Registry
	Log     *slog.Logger

	// sleep waits for d and reports false when waiting was abandoned.
	sleep func(ctx context.Context, done <-chan struct{}, d time.Duration) bool
}

// HealthName is the component name a supervised channel reports under.
func HealthName(ch Channel) string {
	return "channel:" + ch.Name()
}

// Run blocks until ch's listener should stop for good. The delay doubles after
// every failure up to Max and is never reset while the process runs.
func (s *Supervisor) Run(ctx context.Context, ch Channel, sink Sink) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "channel.supervisor", "channel", ch.Name())

	sleep := s.sleep
	if sleep == nil {
		sleep = sleepOrDone
	}

	delays := &backoff.ExponentialBackOff{
		InitialInterval:     s.Initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max(s.Max, s.Initial),
	}
	delays.Reset()

	name := HealthName(ch)
	for {
		s.Health.MarkOK(name)
		err := listen(ctx, ch, sink, log)

		if stopped(ctx, sink) {
			return
		}

		if err != nil {
			log.Error("Channel listener failed", "error", err)
			s.Health.MarkError(name, err.Error())
		} else {
			log.Warn("Channel listener exited unexpectedly; restarting")
			s.Health.MarkError(name, "listener exited unexpectedly")
		}
		s.Health.BumpRestart(name)

		delay := delays.NextBackOff()
		log.Debug("Restarting channel listener", "delay", delay)
		if !sleep(ctx, sink.Done(), delay) {
			return
		}
	}
}

// listen runs one Listen call and turns a panic into an error so the
// listener goes through the normal restart path.
func listen(ctx context.Context, ch Channel, sink Sink, log *slog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Channel listener panicked", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("listener panicked: %v", rec)
		}
	}()
	return ch.Listen(ctx, sink)
}

func stopped(ctx context.Context, sink Sink) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-sink.Done():
		return true
	default:
		return false
	}
}

func sleepOrDone(ctx context.Context, done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case <-timer.C:
		return true
	}
}
