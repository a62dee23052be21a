package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/bus"
)

type plainChannel struct{ name string }

func (c plainChannel) Name() string                                { return c.name }
func (c plainChannel) Send(context.Context, bus.SendMessage) error { return nil }
func (c plainChannel) Listen(context.Context, Sink) error          { return nil }
func (c plainChannel) HealthCheck(context.Context) bool            { return true }

type reactingChannel struct {
	plainChannel
	added []string
}

func (c *reactingChannel) AddReaction(_ context.Context, _, _, emoji string) error {
	c.added = append(c.added, emoji)
	return nil
}

func (c *reactingChannel) RemoveReaction(context.Context, string, string, string) error { return nil }

func TestCapabilityHelpersNoopWithoutSupport(t *testing.T) {
	ctx := context.Background()
	ch := plainChannel{name: "cli"}

	require.False(t, SupportsDrafts(ch))
	require.ErrorIs(t, AddReaction(ctx, ch, "c", "m", "👀"), ErrNotSupported)
	require.NoError(t, StartTyping(ctx, ch, "r"))
	require.NoError(t, StopTyping(ctx, ch, "r"))

	reacting := &reactingChannel{plainChannel: plainChannel{name: "r"}}
	require.NoError(t, AddReaction(ctx, reacting, "c", "m", "👀"))
	require.Equal(t, []string{"👀"}, reacting.added)
}

func TestRegistrySortedNames(t *testing.T) {
	r := NewRegistry(plainChannel{name: "telegram"}, plainChannel{name: "discord"}, nil)
	r.Add(plainChannel{name: "plugin:sms"})

	require.Equal(t, []string{"discord", "plugin:sms", "telegram"}, r.Names())
	require.Equal(t, 3, r.Len())

	ch, ok := r.Get("telegram")
	require.True(t, ok)
	require.Equal(t, "telegram", ch.Name())

	_, ok = r.Get("slack")
	require.False(t, ok)
}
