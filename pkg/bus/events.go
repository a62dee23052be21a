package bus

import (
	"context"
	"slices"
	"sync"
	"time"
)

type EventType string

// Lifecycle of one channel message. Every inbound event is followed by
// exactly one of the other four.
const (
	EventMessageInbound   EventType = "channel_message_inbound"
	EventMessageOutbound  EventType = "channel_message_outbound"
	EventMessageCancelled EventType = "channel_message_cancelled"
	EventMessageError     EventType = "channel_message_error"
	EventMessageTimeout   EventType = "channel_message_timeout"
)

// Terminal reports whether t closes a message lifecycle.
func (t EventType) Terminal() bool {
	switch t {
	case EventMessageOutbound, EventMessageCancelled, EventMessageError, EventMessageTimeout:
		return true
	default:
		return false
	}
}

type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Channel   string            `json:"channel,omitempty"`
	Sender    string            `json:"sender,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Model     string            `json:"model,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type eventSubscriber struct {
	ch    chan Event
	types []EventType
}

func (s *eventSubscriber) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// PublishEvent fans event out to every subscriber without blocking. Events a
// full subscriber cannot take are dropped and counted. It reports false once
// ctx is done or the bus is closed.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	// Held across the sends so Close and unsubscribe cannot close a channel
	// mid-send.
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, sub := range mb.eventSubscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			mb.droppedEvents.Add(1)
		}
	}
	return true
}

// DroppedEvents counts events discarded because a subscriber was full.
func (mb *MessageBus) DroppedEvents() uint64 {
	return mb.droppedEvents.Load()
}

// SubscribeEvents returns a channel receiving events of the given types, or
// every event when types is empty. The channel closes on unsubscribe, when
// ctx is done, or when the bus closes.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int, types ...EventType) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = DefaultCapacity
	}

	sub := &eventSubscriber{ch: make(chan Event, buffer), types: slices.Clone(types)}

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	default:
	}
	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = sub
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if s, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(s.ch)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-mb.done:
		}
		unsubscribe()
	}()

	return sub.ch, unsubscribe
}
