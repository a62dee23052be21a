package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/config"
)

func newTestChannel(t *testing.T, cfg config.DiscordConfig) *Channel {
	t.Helper()
	cfg.Token = "token"
	ch, err := New(cfg, nil)
	require.NoError(t, err)
	ch.botUserID = "bot"
	return ch
}

func create(authorID string, bot bool, guildID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Bot: bot},
		Timestamp: time.Unix(1_700_000_000, 0),
	}}
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(config.DiscordConfig{}, nil)
	require.Error(t, err)
}

func TestToChannelMessage(t *testing.T) {
	ch := newTestChannel(t, config.DiscordConfig{})

	msg, ok := ch.toChannelMessage(create("u1", false, "", " hi "))
	require.True(t, ok)
	require.Equal(t, "discord_m1", msg.ID)
	require.Equal(t, "u1", msg.Sender)
	require.Equal(t, "c1", msg.ReplyTarget)
	require.Equal(t, "hi", msg.Content)
	require.EqualValues(t, 1_700_000_000, msg.Timestamp)

	_, ok = ch.toChannelMessage(create("bot", false, "", "echo"))
	require.False(t, ok, "own messages are ignored")
	_, ok = ch.toChannelMessage(create("u2", true, "", "beep"))
	require.False(t, ok, "other bots are ignored by default")
}

func TestToChannelMessageFilters(t *testing.T) {
	ch := newTestChannel(t, config.DiscordConfig{GuildID: "g1", MentionOnly: true, AllowFrom: []string{"u1"}, ListenToBots: true})

	_, ok := ch.toChannelMessage(create("u1", false, "g2", "<@bot> hi"))
	require.False(t, ok, "other guilds are ignored")

	_, ok = ch.toChannelMessage(create("u1", false, "g1", "no mention"))
	require.False(t, ok)

	msg, ok := ch.toChannelMessage(create("u1", false, "g1", "<@bot> hi"))
	require.True(t, ok)
	require.Equal(t, "hi", msg.Content)

	_, ok = ch.toChannelMessage(create("u9", false, "g1", "<@bot> hi"))
	require.False(t, ok, "sender outside allow list")

	msg, ok = ch.toChannelMessage(create("u1", false, "", "dm without mention"))
	require.True(t, ok)
	require.Equal(t, "dm without mention", msg.Content)
}
