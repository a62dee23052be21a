package channel

import (
	"context"
	"errors"
	"sort"
	"sync"

	"zeroclaw/pkg/bus"
)

// ErrNotSupported is returned by capability helpers when a channel lacks the capability.
var ErrNotSupported = errors.New("not supported by channel")

// Sink receives inbound messages from a channel listener. Done closes when the
// sink stops accepting messages and listeners should return.
type Sink interface {
	Publish(context.Context, bus.ChannelMessage) error
	Done() <-chan struct{}
}

// Channel is one connector to an external chat network.
type Channel interface {
	Name() string
	Send(context.Context, bus.SendMessage) error
	// Listen blocks until the connection ends, ctx is done, or the sink closes.
	Listen(context.Context, Sink) error
	HealthCheck(context.Context) bool
}

// DraftStreamer is implemented by channels that can edit a message in place.
type DraftStreamer interface {
	SupportsDraftUpdates() bool
	// SendDraft posts a placeholder and returns its id, or "" when no draft was created.
	SendDraft(ctx context.Context, msg bus.SendMessage) (string, error)
	UpdateDraft(ctx context.Context, recipient, draftID, text string) error
	FinalizeDraft(ctx context.Context, recipient, draftID, text string) error
	CancelDraft(ctx context.Context, recipient, draftID string) error
}

// Reactor is implemented by channels that support emoji reactions.
type Reactor interface {
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error
}

// Typer is implemented by channels that can show a typing indicator.
type Typer interface {
	StartTyping(ctx context.Context, recipient string) error
	StopTyping(ctx context.Context, recipient string) error
}

// SupportsDrafts reports whether ch can stream drafts.
func SupportsDrafts(ch Channel) bool {
	ds, ok := ch.(DraftStreamer)
	return ok && ds.SupportsDraftUpdates()
}

// AddReaction adds emoji when ch supports reactions.
func AddReaction(ctx context.Context, ch Channel, channelID, messageID, emoji string) error {
	r, ok := ch.(Reactor)
	if !ok {
		return ErrNotSupported
	}
	return r.AddReaction(ctx, channelID, messageID, emoji)
}

// RemoveReaction removes emoji when ch supports reactions.
func RemoveReaction(ctx context.Context, ch Channel, channelID, messageID, emoji string) error {
	r, ok := ch.(Reactor)
	if !ok {
		return ErrNotSupported
	}
	return r.RemoveReaction(ctx, channelID, messageID, emoji)
}

// StartTyping starts the typing indicator when ch supports it.
func StartTyping(ctx context.Context, ch Channel, recipient string) error {
	t, ok := ch.(Typer)
	if !ok {
		return nil
	}
	return t.StartTyping(ctx, recipient)
}

// StopTyping stops the typing indicator when ch supports it.
func StopTyping(ctx context.Context, ch Channel, recipient string) error {
	t, ok := ch.(Typer)
	if !ok {
		return nil
	}
	return t.StopTyping(ctx, recipient)
}

// Registry maps channel names to channels. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel, len(channels))}
	for _, ch := range channels {
		r.Add(ch)
	}
	return r
}

// Add registers ch under its name, replacing any previous channel with that name.
func (r *Registry) Add(ch Channel) {
	if ch == nil {
		return
	}
	r.mu.Lock()
	r.channels[ch.Name()] = ch
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Names returns the registered channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the channels sorted by name.
func (r *Registry) All() []Channel {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(names))
	for _, name := range names {
		out = append(out, r.channels[name])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
