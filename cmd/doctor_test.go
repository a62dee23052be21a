package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/health"
)

type stubChannel struct {
	name  string
	ok    bool
	delay time.Duration
}

func (c stubChannel) Name() string                                { return c.name }
func (c stubChannel) Send(context.Context, bus.SendMessage) error { return nil }
func (c stubChannel) Listen(context.Context, channel.Sink) error  { return nil }
func (c stubChannel) HealthCheck(context.Context) bool {
	time.Sleep(c.delay)
	return c.ok
}

func TestRunDoctorClassifiesEveryChannel(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	summary := runDoctor(context.Background(), &out, []channel.Channel{
		stubChannel{name: "discord", ok: true},
		stubChannel{name: "slack", ok: false},
		stubChannel{name: "telegram", ok: true, delay: 500 * time.Millisecond},
	}, 50*time.Millisecond)

	require.Equal(t, health.Summary{Healthy: 1, Unhealthy: 1, TimedOut: 1}, summary)

	text := out.String()
	require.Contains(t, text, "discord")
	require.Contains(t, text, "healthy")
	require.Contains(t, text, "unhealthy")
	require.Contains(t, text, "timeout")
	require.Contains(t, text, "Summary: 1 healthy, 1 unhealthy, 1 timed out")
}

func TestRunDoctorWithoutChannels(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	summary := runDoctor(context.Background(), &out, nil, time.Second)

	require.Equal(t, health.Summary{}, summary)
	require.Contains(t, out.String(), "No channels configured.")
	require.Contains(t, out.String(), "Summary: 0 healthy, 0 unhealthy, 0 timed out")
}
