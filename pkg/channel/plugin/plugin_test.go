package plugin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	plugins "zeroclaw/pkg/plugin"
)

// script answers by operation and appends every request to $LOG.
const script = `req=$(cat)
printf '%s\n' "$req" >> "$LOG"
case "$req" in
  *'"operation":"listen"'*) echo '{"ok":true,"data":[{"sender":"u1","content":"hello"},{"id":"m2","sender":"u2","reply_target":"room","content":"hey","timestamp":42}]}' ;;
  *'"operation":"health_check"'*) echo '{"ok":true,"data":true}' ;;
  *'"operation":"send_draft"'*) echo '{"ok":true,"data":"draft-1"}' ;;
  *'"operation":"update_draft"'*|*'"operation":"finalize_draft"'*) echo '{"ok":true,"data":null}' ;;
  *'"operation":"send"'*) echo '{"ok":true,"data":null}' ;;
  *) echo '{"ok":false,"error":"unsupported"}' ;;
esac`

func newScriptChannel(t *testing.T) (*Channel, string) {
	t.Helper()
	return newScriptChannelWith(t, nil)
}

func newScriptChannelWith(t *testing.T, mutate func(*plugins.Plugin)) (*Channel, string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	log := filepath.Join(t.TempDir(), "requests.log")
	p := plugins.Plugin{
		ID:          "sms",
		Kind:        plugins.KindChannel,
		Command:     "sh",
		Args:        []string{"-c", script},
		Env:         map[string]string{"LOG": log},
		TimeoutSecs: 5,
	}
	if mutate != nil {
		mutate(&p)
	}
	return New(p, nil), log
}

func TestListenPublishesWithDefaults(t *testing.T) {
	ch, _ := newScriptChannel(t)
	ch.pollInterval = time.Hour
	require.Equal(t, "plugin:sms", ch.Name())

	b := bus.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ch.Listen(ctx, b) }()

	first, ok := b.Consume(ctx)
	require.True(t, ok)
	require.Equal(t, "u1", first.Sender)
	require.Equal(t, "u1", first.ReplyTarget)
	require.Equal(t, "plugin:sms", first.Channel)
	require.True(t, strings.HasPrefix(first.ID, "plugin:sms:"))

	second, ok := b.Consume(ctx)
	require.True(t, ok)
	require.Equal(t, "m2", second.ID)
	require.Equal(t, "room", second.ReplyTarget)
	require.EqualValues(t, 42, second.Timestamp)

	b.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after sink closed")
	}
}

func TestOperationsUseProtocolPayloads(t *testing.T) {
	ch, log := newScriptChannel(t)
	ctx := context.Background()

	require.True(t, ch.HealthCheck(ctx))
	require.NoError(t, ch.Send(ctx, bus.NewSendMessage("hi", "u1").InThread("t1")))

	id, err := ch.SendDraft(ctx, bus.NewSendMessage("...", "u1"))
	require.NoError(t, err)
	require.Equal(t, "draft-1", id)

	err = ch.AddReaction(ctx, "c1", "m1", "👀")
	require.ErrorContains(t, err, "channel plugin 'sms' failed 'add_reaction': unsupported")

	raw, err := os.ReadFile(log)
	require.NoError(t, err)
	requests := string(raw)
	require.Contains(t, requests, `"protocol":"zeroclaw-plugin-v1"`)
	require.Contains(t, requests, `"subsystem":"channel"`)
	require.Contains(t, requests, `"payload":{"content":"hi","recipient":"u1","subject":null,"thread_ts":"t1"}`)
	require.Contains(t, requests, `"payload":{"channel_id":"c1","message_id":"m1","emoji":"👀"}`)
}

func TestHealthCheckFalseOnFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ch := New(plugins.Plugin{ID: "down", Command: "sh", Args: []string{"-c", "cat >/dev/null; exit 1"}, TimeoutSecs: 5}, nil)
	require.False(t, ch.HealthCheck(context.Background()))
}

func TestInboundDefaults(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	msg := inboundItem{Sender: "u1", Content: "x", ID: "  "}.toChannelMessage("plugin:sms", now)
	require.Equal(t, "plugin:sms:1700000000", msg.ID)
	require.Equal(t, "u1", msg.ReplyTarget)
	require.EqualValues(t, 1_700_000_000, msg.Timestamp)
	require.True(t, msg.IDSynthesized)

	supplied := inboundItem{ID: "m9", Sender: "u1", Content: "x"}.toChannelMessage("plugin:sms", now)
	require.Equal(t, "m9", supplied.ID)
	require.False(t, supplied.IDSynthesized)
}

func TestDraftUpdatesAreOptIn(t *testing.T) {
	ch, _ := newScriptChannel(t)
	require.False(t, ch.SupportsDraftUpdates())

	opted, _ := newScriptChannelWith(t, func(p *plugins.Plugin) { p.DraftUpdates = true })
	require.True(t, opted.SupportsDraftUpdates())
}

func TestUpdateDraftIsThrottled(t *testing.T) {
	ch, log := newScriptChannelWith(t, func(p *plugins.Plugin) { p.DraftUpdates = true })
	ctx := context.Background()

	// A burst of streamed fragments right after the placeholder spawns nothing.
	for i := range 10 {
		require.NoError(t, ch.UpdateDraft(ctx, "u1", "draft-1", strings.Repeat("x", i+1)))
	}
	require.Zero(t, countOperations(t, log, "update_draft"))

	ch.drafts = channel.NewDraftThrottle(10 * time.Millisecond)
	require.NoError(t, ch.UpdateDraft(ctx, "u1", "draft-2", "a"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.UpdateDraft(ctx, "u1", "draft-2", "ab"))
	require.NoError(t, ch.UpdateDraft(ctx, "u1", "draft-2", "abc"))
	require.Equal(t, 1, countOperations(t, log, "update_draft"))

	require.NoError(t, ch.FinalizeDraft(ctx, "u1", "draft-2", "abcd"))
	require.Equal(t, 1, countOperations(t, log, "finalize_draft"))
}

func countOperations(t *testing.T, log, operation string) int {
	t.Helper()
	raw, err := os.ReadFile(log)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(raw), `"operation":"`+operation+`"`)
}
