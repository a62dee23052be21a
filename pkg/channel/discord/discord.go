package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/config"
)

const channelName = "discord"
const messageLimit = 2000
const defaultDraftInterval = 1200 * time.Millisecond

// Channel connects to Discord through the gateway websocket.
type Channel struct {
	cfg       config.DiscordConfig
	allowFrom channel.AllowList
	log       *slog.Logger
	drafts    *channel.DraftThrottle

	mu        sync.Mutex
	session   *discordgo.Session
	botUserID string
}

func New(cfg config.DiscordConfig, log *slog.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channels.discord.token is required")
	}
	if log == nil {
		log = slog.Default()
	}

	interval := time.Duration(cfg.DraftUpdateIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = defaultDraftInterval
	}

	return &Channel{
		cfg:       cfg,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		log:       log.With("component", "channel.discord"),
		drafts:    channel.NewDraftThrottle(interval),
	}, nil
}

func (c *Channel) Name() string {
	return channelName
}

func (c *Channel) client() (*discordgo.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	session, err := discordgo.New("Bot " + strings.TrimSpace(c.cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	c.session = session
	return session, nil
}

// Listen opens the gateway connection and forwards messages until ctx is
// done, the sink closes, or the connection drops.
func (c *Channel) Listen(ctx context.Context, sink channel.Sink) error {
	session, err := c.client()
	if err != nil {
		return err
	}

	publishErr := make(chan error, 1)
	remove := session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		inbound, ok := c.toChannelMessage(m)
		if !ok {
			return
		}
		c.log.Info("Received message", "channel_id", inbound.ReplyTarget, "sender", inbound.Sender, "content", channel.PreviewText(inbound.Content))
		if err := sink.Publish(ctx, inbound); err != nil && !errors.Is(err, bus.ErrClosed) && ctx.Err() == nil {
			select {
			case publishErr <- err:
			default:
			}
		}
	})
	defer remove()

	disconnected := make(chan struct{}, 1)
	removeDisconnect := session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	})
	defer removeDisconnect()

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer session.Close()

	user, err := session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.mu.Lock()
	c.botUserID = user.ID
	c.mu.Unlock()
	c.log.Info("Discord channel listening", "username", user.Username, "id", user.ID)

	select {
	case <-ctx.Done():
		return nil
	case <-sink.Done():
		return nil
	case err := <-publishErr:
		return fmt.Errorf("publish discord message: %w", err)
	case <-disconnected:
		return errors.New("discord gateway disconnected")
	}
}

func (c *Channel) toChannelMessage(m *discordgo.MessageCreate) (bus.ChannelMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return bus.ChannelMessage{}, false
	}

	c.mu.Lock()
	botUserID := c.botUserID
	c.mu.Unlock()

	if m.Author.ID == botUserID {
		return bus.ChannelMessage{}, false
	}
	if m.Author.Bot && !c.cfg.ListenToBots {
		return bus.ChannelMessage{}, false
	}
	if guild := strings.TrimSpace(c.cfg.GuildID); guild != "" && m.GuildID != "" && m.GuildID != guild {
		return bus.ChannelMessage{}, false
	}
	if !c.allowFrom.Allows(m.Author.ID) {
		c.log.Debug("Ignoring message from unauthorized sender", "sender_id", m.Author.ID)
		return bus.ChannelMessage{}, false
	}

	content := m.Content
	if c.cfg.MentionOnly && m.GuildID != "" {
		mention := "<@" + botUserID + ">"
		if botUserID == "" || !strings.Contains(content, mention) {
			return bus.ChannelMessage{}, false
		}
		content = strings.ReplaceAll(content, mention, "")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return bus.ChannelMessage{}, false
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return bus.ChannelMessage{
		ID:          "discord_" + m.ID,
		Sender:      m.Author.ID,
		ReplyTarget: m.ChannelID,
		Content:     content,
		Channel:     channelName,
		Timestamp:   uint64(ts.Unix()),
	}, true
}

func (c *Channel) Send(ctx context.Context, msg bus.SendMessage) error {
	session, err := c.client()
	if err != nil {
		return err
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		return errors.New("empty channel id for discord send")
	}

	for _, chunk := range channel.SplitMessage(msg.Content, messageLimit) {
		if _, err := session.ChannelMessageSend(msg.Recipient, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// HealthCheck fetches the bot user over REST.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	session, err := c.client()
	if err != nil {
		return false
	}
	_, err = session.User("@me", discordgo.WithContext(ctx))
	return err == nil
}

func (c *Channel) SupportsDraftUpdates() bool {
	return c.cfg.StreamDrafts
}

func (c *Channel) SendDraft(ctx context.Context, msg bus.SendMessage) (string, error) {
	session, err := c.client()
	if err != nil {
		return "", err
	}
	sent, err := session.ChannelMessageSend(msg.Recipient, msg.Content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send discord draft: %w", err)
	}
	return sent.ID, nil
}

func (c *Channel) UpdateDraft(ctx context.Context, recipient, draftID, text string) error {
	if !c.drafts.Allow(draftID) {
		return nil
	}
	if len(text) > messageLimit {
		text = text[:messageLimit]
	}
	return c.edit(ctx, recipient, draftID, text)
}

func (c *Channel) FinalizeDraft(ctx context.Context, recipient, draftID, text string) error {
	c.drafts.Forget(draftID)

	chunks := channel.SplitMessage(text, messageLimit)
	if len(chunks) == 0 {
		return c.CancelDraft(ctx, recipient, draftID)
	}
	if err := c.edit(ctx, recipient, draftID, chunks[0]); err != nil {
		return err
	}
	for _, chunk := range chunks[1:] {
		if err := c.Send(ctx, bus.NewSendMessage(chunk, recipient)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) CancelDraft(ctx context.Context, recipient, draftID string) error {
	c.drafts.Forget(draftID)
	session, err := c.client()
	if err != nil {
		return err
	}
	return session.ChannelMessageDelete(recipient, draftID, discordgo.WithContext(ctx))
}

func (c *Channel) edit(ctx context.Context, recipient, draftID, text string) error {
	session, err := c.client()
	if err != nil {
		return err
	}
	if _, err := session.ChannelMessageEdit(recipient, draftID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit discord message: %w", err)
	}
	return nil
}

func (c *Channel) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	session, err := c.client()
	if err != nil {
		return err
	}
	return session.MessageReactionAdd(channelID, strings.TrimPrefix(messageID, "discord_"), emoji, discordgo.WithContext(ctx))
}

func (c *Channel) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	session, err := c.client()
	if err != nil {
		return err
	}
	return session.MessageReactionRemove(channelID, strings.TrimPrefix(messageID, "discord_"), emoji, "@me", discordgo.WithContext(ctx))
}

// StartTyping triggers Discord's typing indicator, which lasts about ten seconds.
func (c *Channel) StartTyping(ctx context.Context, recipient string) error {
	session, err := c.client()
	if err != nil {
		return err
	}
	return session.ChannelTyping(recipient, discordgo.WithContext(ctx))
}

func (c *Channel) StopTyping(context.Context, string) error {
	return nil
}
