package gateway

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/dedupe"
)

// ProcessFunc handles one message. Cancelling ctx supersedes the message.
type ProcessFunc func(ctx context.Context, msg bus.ChannelMessage)

// inFlightTask tracks the worker that currently owns an interruption scope.
type inFlightTask struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatcher pulls messages off the bus and runs each on its own worker,
// with at most maxInFlight workers at a time.
type Dispatcher struct {
	bus         *bus.MessageBus
	process     ProcessFunc
	interrupt   func(channel string) bool
	seen        *dedupe.Cache
	sem         *semaphore.Weighted
	maxInFlight int
	log         *slog.Logger

	seq atomic.Uint64
	wg  sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]*inFlightTask
}

// DispatcherOptions configures a Dispatcher. Interrupt and Seen are optional.
type DispatcherOptions struct {
	Bus         *bus.MessageBus
	Process     ProcessFunc
	Interrupt   func(channel string) bool
	Seen        *dedupe.Cache
	MaxInFlight int
	Log         *slog.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	interrupt := opts.Interrupt
	if interrupt == nil {
		interrupt = func(string) bool { return false }
	}
	limit := max(opts.MaxInFlight, 1)

	return &Dispatcher{
		bus:         opts.Bus,
		process:     opts.Process,
		interrupt:   interrupt,
		seen:        opts.Seen,
		sem:         semaphore.NewWeighted(int64(limit)),
		maxInFlight: limit,
		log:         log.With("component", "gateway.dispatch"),
		inFlight:    make(map[string]*inFlightTask),
	}
}

// NewRuntimeDispatcher dispatches into rc.ProcessMessage, honoring rc's
// interruption settings.
func NewRuntimeDispatcher(rc *RuntimeContext, mb *bus.MessageBus, seen *dedupe.Cache, maxInFlight int, log *slog.Logger) *Dispatcher {
	return NewDispatcher(DispatcherOptions{
		Bus:         mb,
		Process:     rc.ProcessMessage,
		Interrupt:   rc.InterruptEnabled,
		Seen:        seen,
		MaxInFlight: maxInFlight,
		Log:         log,
	})
}

// MaxInFlight reports the worker limit.
func (d *Dispatcher) MaxInFlight() int {
	return d.maxInFlight
}

// Run dispatches until the bus closes or ctx is done, then waits for every
// worker to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("Dispatch loop started", "max_in_flight", d.maxInFlight)
	defer d.log.Info("Dispatch loop stopped")

	for {
		msg, ok := d.bus.Consume(ctx)
		if !ok {
			break
		}
		if d.duplicate(msg) {
			d.log.Debug("Dropping duplicate inbound message", "channel", msg.Channel, "message_id", msg.ID)
			continue
		}

		if err := d.sem.Acquire(ctx, 1); err != nil {
			break
		}
		d.wg.Add(1)
		go d.work(ctx, msg)
	}

	d.wg.Wait()
}

// duplicate reports a redelivery of a source-supplied message id.
func (d *Dispatcher) duplicate(msg bus.ChannelMessage) bool {
	if d.seen == nil || msg.IDSynthesized {
		return false
	}
	return d.seen.Seen(msg.Channel + ":" + msg.ID)
}

func (d *Dispatcher) work(parent context.Context, msg bus.ChannelMessage) {
	defer d.wg.Done()
	defer d.sem.Release(1)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if !d.interrupt(msg.Channel) {
		d.safeProcess(ctx, msg)
		return
	}

	key := scopeKey(msg)
	task := &inFlightTask{id: d.seq.Add(1), cancel: cancel, done: make(chan struct{})}

	d.mu.Lock()
	previous := d.inFlight[key]
	d.inFlight[key] = task
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if current, ok := d.inFlight[key]; ok && current.id == task.id {
			delete(d.inFlight, key)
		}
		d.mu.Unlock()
		close(task.done)
	}()

	if previous != nil {
		d.log.Info("Interrupting previous in-flight request for sender",
			"channel", msg.Channel, "sender", msg.Sender, "scope", key, "previous_task", previous.id)
		previous.cancel()
		<-previous.done
	}

	d.safeProcess(ctx, msg)
}

// safeProcess keeps a panicking handler from taking the gateway down. The
// worker's deferred cleanup still runs.
func (d *Dispatcher) safeProcess(ctx context.Context, msg bus.ChannelMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("Message worker panicked",
				"channel", msg.Channel, "sender", msg.Sender, "message_id", msg.ID,
				"panic", rec, "stack", string(debug.Stack()))
		}
	}()
	d.process(ctx, msg)
}
