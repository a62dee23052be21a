package hooks

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/config"
)

type funcHook struct {
	name     string
	received func(bus.ChannelMessage) Outcome[bus.ChannelMessage]
	sending  func(Outgoing) Outcome[Outgoing]
	calls    *[]string
}

func (h funcHook) Name() string { return h.name }

func (h funcHook) OnMessageReceived(_ context.Context, msg bus.ChannelMessage) Outcome[bus.ChannelMessage] {
	*h.calls = append(*h.calls, h.name)
	if h.received == nil {
		return Continue(msg)
	}
	return h.received(msg)
}

func (h funcHook) OnMessageSending(_ context.Context, out Outgoing) Outcome[Outgoing] {
	*h.calls = append(*h.calls, h.name)
	if h.sending == nil {
		return Continue(out)
	}
	return h.sending(out)
}

func TestRunnerChainsRewrites(t *testing.T) {
	var calls []string
	upper := funcHook{name: "upper", calls: &calls, received: func(m bus.ChannelMessage) Outcome[bus.ChannelMessage] {
		m.Content = strings.ToUpper(m.Content)
		return Continue(m)
	}}
	suffix := funcHook{name: "suffix", calls: &calls, received: func(m bus.ChannelMessage) Outcome[bus.ChannelMessage] {
		m.Content += "!"
		return Continue(m)
	}}

	r := NewRunner(nil, upper, suffix)
	out := r.RunMessageReceived(context.Background(), bus.ChannelMessage{Content: "hi"})
	require.False(t, out.Cancelled)
	require.Equal(t, "HI!", out.Value.Content)
	require.Equal(t, []string{"upper", "suffix"}, calls)
}

func TestRunnerFirstCancelWins(t *testing.T) {
	var calls []string
	veto := funcHook{name: "veto", calls: &calls, sending: func(Outgoing) Outcome[Outgoing] {
		return Cancel[Outgoing]("blocked")
	}}
	never := funcHook{name: "never", calls: &calls}

	r := NewRunner(nil, veto, never)
	out := r.RunMessageSending(context.Background(), Outgoing{Content: "x"})
	require.True(t, out.Cancelled)
	require.Equal(t, "blocked", out.Reason)
	require.Equal(t, []string{"veto"}, calls)
}

func TestNilRunnerPassesThrough(t *testing.T) {
	var r *Runner
	msg := bus.ChannelMessage{ID: "1", Content: "hi"}
	require.Equal(t, msg, r.RunMessageReceived(context.Background(), msg).Value)
	require.Equal(t, "x", r.RunMessageSending(context.Background(), Outgoing{Content: "x"}).Value.Content)
	require.Zero(t, r.Len())
}

func TestFromConfig(t *testing.T) {
	require.Nil(t, FromConfig(config.HooksConfig{Builtin: config.BuiltinHooksConfig{MessageLogger: true}}, nil))

	r := FromConfig(config.HooksConfig{Enabled: true, Builtin: config.BuiltinHooksConfig{MessageLogger: true}}, nil)
	require.NotNil(t, r)
	require.Equal(t, 1, r.Len())
}

func TestMessageLoggerLogsBothDirections(t *testing.T) {
	var buf bytes.Buffer
	h := NewMessageLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	in := bus.ChannelMessage{ID: "m1", Channel: "telegram", Sender: "u1", Content: strings.Repeat("a", 100)}
	require.Equal(t, in, h.OnMessageReceived(context.Background(), in).Value)
	h.OnMessageSending(context.Background(), Outgoing{Channel: "telegram", Recipient: "42", Content: "reply"})

	logged := buf.String()
	require.Contains(t, logged, "message received")
	require.Contains(t, logged, strings.Repeat("a", 80)+"...")
	require.Contains(t, logged, "message sending")
	require.Contains(t, logged, "recipient=42")
}
