package telegram

import (
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/config"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := New(config.TelegramConfig{}, nil)
	require.Error(t, err)

	ch, err := New(config.TelegramConfig{Token: "123:abc", StreamDrafts: true}, nil)
	require.NoError(t, err)
	require.Equal(t, "telegram", ch.Name())
	require.True(t, channel.SupportsDrafts(ch))
}

func TestSenderAllowed(t *testing.T) {
	ch := &Channel{allowFrom: channel.NewAllowList([]string{"1", "@alice"})}
	require.True(t, ch.senderAllowed("1", ""))
	require.True(t, ch.senderAllowed("2", "alice"))
	require.False(t, ch.senderAllowed("3", "bob"))

	ch.allowFrom = nil
	require.True(t, ch.senderAllowed("any", ""))
}

func TestToChannelMessage(t *testing.T) {
	ch, err := New(config.TelegramConfig{Token: "123:abc"}, nil)
	require.NoError(t, err)

	msg, ok := ch.toChannelMessage(&telego.Message{
		MessageID:       77,
		MessageThreadID: 5,
		Date:            1_700_000_000,
		Text:            "  hello  ",
		From:            &telego.User{ID: 42},
		Chat:            telego.Chat{ID: -100123},
	})
	require.True(t, ok)
	require.Equal(t, "telegram_-100123_77", msg.ID)
	require.Equal(t, "42", msg.Sender)
	require.Equal(t, "-100123", msg.ReplyTarget)
	require.Equal(t, "hello", msg.Content)
	require.Equal(t, "5", msg.ThreadTS)
	require.EqualValues(t, 1_700_000_000, msg.Timestamp)

	_, ok = ch.toChannelMessage(&telego.Message{Text: " ", From: &telego.User{ID: 1}})
	require.False(t, ok)
	_, ok = ch.toChannelMessage(&telego.Message{Text: "hi"})
	require.False(t, ok)
	_, ok = ch.toChannelMessage(nil)
	require.False(t, ok)
}

func TestParseMessageID(t *testing.T) {
	id, ok := parseMessageID(messageID("-100123", 77))
	require.True(t, ok)
	require.Equal(t, 77, id)

	_, ok = parseMessageID("telegram_x_y")
	require.False(t, ok)
}

func TestParseChatIDAndThread(t *testing.T) {
	id, err := parseChatID(" 42 ")
	require.NoError(t, err)
	require.EqualValues(t, 42, id)

	_, err = parseChatID("abc")
	require.Error(t, err)

	require.Equal(t, 7, threadID("7"))
	require.Zero(t, threadID(""))
}
