package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultCapacity bounds the shared inbound queue. A full queue blocks
// publishers, which is the only backpressure between channels and workers.
const DefaultCapacity = 100

// ErrClosed is returned by Publish once the bus has been closed.
var ErrClosed = errors.New("message bus closed")

// MessageBus is the single bounded FIFO shared by every channel listener.
type MessageBus struct {
	inbound chan ChannelMessage

	eventSubscribers      map[uint64]*eventSubscriber
	nextEventSubscriberID uint64
	droppedEvents         atomic.Uint64

	producers int
	attached  bool

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

// New creates a bus with the given capacity; non-positive values use DefaultCapacity.
func New(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &MessageBus{
		inbound:          make(chan ChannelMessage, capacity),
		eventSubscribers: make(map[uint64]*eventSubscriber),
		done:             make(chan struct{}),
	}
}

// Cap reports the configured queue capacity.
func (mb *MessageBus) Cap() int {
	return cap(mb.inbound)
}

// Publish enqueues msg, blocking while the queue is full.
func (mb *MessageBus) Publish(ctx context.Context, msg ChannelMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	case mb.inbound <- msg:
		return nil
	}
}

// Consume returns the next message. After Close, messages still buffered are
// drained before Consume reports false.
func (mb *MessageBus) Consume(ctx context.Context) (ChannelMessage, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return ChannelMessage{}, false
	case msg := <-mb.inbound:
		return msg, true
	case <-mb.done:
		select {
		case msg := <-mb.inbound:
			return msg, true
		default:
			return ChannelMessage{}, false
		}
	}
}

// Done is closed when the bus stops accepting messages.
func (mb *MessageBus) Done() <-chan struct{} {
	return mb.done
}

// Attach registers one producer. The returned release func is idempotent;
// when the last attached producer releases, the bus closes.
func (mb *MessageBus) Attach() func() {
	mb.mu.Lock()
	mb.producers++
	mb.attached = true
	mb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			mb.mu.Lock()
			mb.producers--
			last := mb.attached && mb.producers == 0
			mb.mu.Unlock()

			if last {
				mb.Close()
			}
		})
	}
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, sub := range mb.eventSubscribers {
			close(sub.ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
