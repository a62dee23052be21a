package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/config"
	"zeroclaw/pkg/provider"
	providertypes "zeroclaw/pkg/provider/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type channelCall struct {
	op        string
	recipient string
	id        string
	text      string
}

// fakeChannel records every outbound call. It supports reactions but not drafts.
type fakeChannel struct {
	name string
	// inbox is published once when Listen starts.
	inbox []bus.ChannelMessage

	mu    sync.Mutex
	calls []channelCall
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name}
}

func (c *fakeChannel) record(call channelCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(_ context.Context, msg bus.SendMessage) error {
	c.record(channelCall{op: "send", recipient: msg.Recipient, text: msg.Content})
	return nil
}

func (c *fakeChannel) Listen(ctx context.Context, sink channel.Sink) error {
	c.mu.Lock()
	pending := c.inbox
	c.inbox = nil
	c.mu.Unlock()

	for _, msg := range pending {
		if err := sink.Publish(ctx, msg); err != nil {
			return err
		}
	}
	select {
	case <-ctx.Done():
	case <-sink.Done():
	}
	return nil
}

func (c *fakeChannel) HealthCheck(context.Context) bool { return true }

func (c *fakeChannel) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	c.record(channelCall{op: "react_add", recipient: channelID, id: messageID, text: emoji})
	return nil
}

func (c *fakeChannel) RemoveReaction(_ context.Context, channelID, messageID, emoji string) error {
	c.record(channelCall{op: "react_remove", recipient: channelID, id: messageID, text: emoji})
	return nil
}

func (c *fakeChannel) snapshot() []channelCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channelCall(nil), c.calls...)
}

func (c *fakeChannel) ops(op string) []channelCall {
	var out []channelCall
	for _, call := range c.snapshot() {
		if call.op == op {
			out = append(out, call)
		}
	}
	return out
}

func (c *fakeChannel) opNames() []string {
	var out []string
	for _, call := range c.snapshot() {
		out = append(out, call.op)
	}
	return out
}

// draftChannel adds draft streaming to fakeChannel.
type draftChannel struct {
	*fakeChannel
	finalizeErr error
}

func newDraftChannel(name string) *draftChannel {
	return &draftChannel{fakeChannel: newFakeChannel(name)}
}

func (c *draftChannel) SupportsDraftUpdates() bool { return true }

func (c *draftChannel) SendDraft(_ context.Context, msg bus.SendMessage) (string, error) {
	c.record(channelCall{op: "send_draft", recipient: msg.Recipient, id: "draft-1", text: msg.Content})
	return "draft-1", nil
}

func (c *draftChannel) UpdateDraft(_ context.Context, recipient, draftID, text string) error {
	c.record(channelCall{op: "update_draft", recipient: recipient, id: draftID, text: text})
	return nil
}

func (c *draftChannel) FinalizeDraft(_ context.Context, recipient, draftID, text string) error {
	c.record(channelCall{op: "finalize_draft", recipient: recipient, id: draftID, text: text})
	return c.finalizeErr
}

func (c *draftChannel) CancelDraft(_ context.Context, recipient, draftID string) error {
	c.record(channelCall{op: "cancel_draft", recipient: recipient, id: draftID})
	return nil
}

// fakeProvider answers with chat and records every request it receives.
type fakeProvider struct {
	name string
	chat func(ctx context.Context, req providertypes.Request) (providertypes.Response, error)

	mu       sync.Mutex
	requests [][]providertypes.ChatMessage
}

func replyProvider(text string) *fakeProvider {
	return &fakeProvider{
		name: "fake",
		chat: func(context.Context, providertypes.Request) (providertypes.Response, error) {
			return providertypes.Response{Text: text}, nil
		},
	}
}

func failingProvider(err error) *fakeProvider {
	return &fakeProvider{
		name: "fake",
		chat: func(context.Context, providertypes.Request) (providertypes.Response, error) {
			return providertypes.Response{}, err
		},
	}
}

// hangingProvider blocks until the request is cancelled. started receives one
// value per call.
func hangingProvider(started chan<- struct{}) *fakeProvider {
	return &fakeProvider{
		name: "fake",
		chat: func(ctx context.Context, _ providertypes.Request) (providertypes.Response, error) {
			if started != nil {
				started <- struct{}{}
			}
			<-ctx.Done()
			return providertypes.Response{}, ctx.Err()
		},
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Warmup(context.Context) error { return nil }

func (p *fakeProvider) Chat(ctx context.Context, req providertypes.Request) (providertypes.Response, error) {
	p.mu.Lock()
	p.requests = append(p.requests, append([]providertypes.ChatMessage(nil), req.Messages...))
	p.mu.Unlock()
	return p.chat(ctx, req)
}

func (p *fakeProvider) lastRequest(t *testing.T) []providertypes.ChatMessage {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		t.Fatal("provider received no requests")
	}
	return p.requests[len(p.requests)-1]
}

func newTestRuntime(ch channel.Channel, p *fakeProvider, mutate func(*RuntimeOptions)) *RuntimeContext {
	opts := RuntimeOptions{
		Channels: channel.NewRegistry(ch),
		ProviderFactory: func(name string) (provider.Provider, error) {
			if p != nil && name == p.name {
				return p, nil
			}
			return nil, fmt.Errorf("unsupported provider: %s", name)
		},
		Defaults:          config.RuntimeDefaults{Provider: "fake", Model: "fake-model", Temperature: 0.2},
		SystemPrompt:      "You are a test assistant.",
		MessageTimeout:    5 * time.Second,
		MaxToolIterations: 2,
		Log:               discardLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRuntimeContext(opts)
}

func inbound(channelName, sender, id, content string) bus.ChannelMessage {
	return bus.ChannelMessage{
		ID:          id,
		Sender:      sender,
		ReplyTarget: "chat-" + sender,
		Content:     content,
		Channel:     channelName,
		Timestamp:   uint64(time.Now().Unix()),
	}
}
