package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/config"
	"zeroclaw/pkg/health"
)

func newTestService(t *testing.T, ch *fakeChannel, p *fakeProvider) (*Service, *RuntimeContext) {
	t.Helper()

	mb := bus.New(bus.DefaultCapacity)
	rc := newTestRuntime(ch, p, func(o *RuntimeOptions) { o.Bus = mb })
	svc, err := NewService(config.Default(), rc, channel.NewRegistry(ch), mb, discardLogger())
	require.NoError(t, err)
	svc.serveStatus = false
	return svc, rc
}

func TestNewServiceValidatesInputs(t *testing.T) {
	t.Parallel()

	mb := bus.New(bus.DefaultCapacity)
	rc := newTestRuntime(newFakeChannel("slack"), nil, nil)

	_, err := NewService(nil, rc, channel.NewRegistry(newFakeChannel("slack")), mb, nil)
	require.EqualError(t, err, "config is required")

	_, err = NewService(config.Default(), rc, channel.NewRegistry(), mb, nil)
	require.EqualError(t, err, "at least one channel is required")
}

func TestReadyzWaitsForEveryChannel(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, newFakeChannel("slack"), replyProvider("ok"))
	handler := svc.statusHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body readyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, readyResponse{Status: "not_ready", Pending: []string{"channel:slack"}}, body)

	svc.Health().MarkOK("channel:slack")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHealthzReportsComponents(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, newFakeChannel("slack"), replyProvider("ok"))
	svc.Health().MarkError("channel:slack", "socket closed")
	svc.Health().BumpRestart("channel:slack")

	rec := httptest.NewRecorder()
	svc.statusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap health.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	component := snap.Components["channel:slack"]
	require.Equal(t, "error", component.Status)
	require.Equal(t, "socket closed", component.LastError)
	require.EqualValues(t, 1, component.RestartCount)
}

func TestServiceRunAnswersInboundMessages(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel("slack")
	ch.inbox = []bus.ChannelMessage{inbound("slack", "alice", "1", "hello")}
	svc, rc := newTestService(t, ch, replyProvider("hi alice"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ch.ops("send")) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "hi alice", ch.ops("send")[0].text)
	require.Len(t, rc.History("slack_alice"), 2)

	snap := svc.Health().Snapshot()
	require.Equal(t, "ok", snap.Components["channel:slack"].Status)
	require.Equal(t, "ok", snap.Components["provider:fake"].Status)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestServiceRecordsUnavailableProvider(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, newFakeChannel("slack"), nil)

	svc.checkProvider(context.Background())

	component := svc.Health().Snapshot().Components["provider:fake"]
	require.Equal(t, "error", component.Status)
	require.Equal(t, "unsupported provider: fake", component.LastError)
}
