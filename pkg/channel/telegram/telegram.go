package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messageLimit = 4096
const typingRefreshInterval = 4 * time.Second
const defaultDraftInterval = time.Second

// Channel bridges Telegram long polling into the message bus and delivers replies.
type Channel struct {
	cfg       config.TelegramConfig
	allowFrom channel.AllowList
	log       *slog.Logger
	drafts    *channel.DraftThrottle

	mu     sync.Mutex
	bot    *telego.Bot
	typing map[string]context.CancelFunc
}

// New validates Telegram configuration and constructs a channel instance.
func New(cfg config.TelegramConfig, log *slog.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channels.telegram.token is required")
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
		log:       log.With("component", "channel.telegram"),
		drafts:    channel.NewDraftThrottle(interval),
		typing:    make(map[string]context.CancelFunc),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (c *Channel) Name() string {
	return channelName
}

func (c *Channel) client() (*telego.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot != nil {
		return c.bot, nil
	}

	bot, err := telego.NewBot(strings.TrimSpace(c.cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	c.bot = bot
	return bot, nil
}

// Listen starts Telegram long polling and publishes text messages to sink.
func (c *Channel) Listen(ctx context.Context, sink channel.Sink) error {
	bot, err := c.client()
	if err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	c.log.Info("Telegram channel listening")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sink.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			inbound, ok := c.toChannelMessage(update.Message)
			if !ok {
				continue
			}
			c.log.Info("Received message", "chat_id", inbound.ReplyTarget, "sender", inbound.Sender, "content", channel.PreviewText(inbound.Content))

			if err := sink.Publish(ctx, inbound); err != nil {
				if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("publish telegram message: %w", err)
			}
		}
	}
}

// toChannelMessage converts a Telegram message; non-text and unauthorized
// messages are skipped.
func (c *Channel) toChannelMessage(message *telego.Message) (bus.ChannelMessage, bool) {
	if message == nil {
		return bus.ChannelMessage{}, false
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		return bus.ChannelMessage{}, false
	}
	if message.From == nil {
		c.log.Debug("Ignoring message without sender")
		return bus.ChannelMessage{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !c.senderAllowed(senderID, message.From.Username) {
		c.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.ChannelMessage{}, false
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	inbound := bus.ChannelMessage{
		ID:          messageID(chatID, message.MessageID),
		Sender:      senderID,
		ReplyTarget: chatID,
		Content:     content,
		Channel:     channelName,
		Timestamp:   uint64(max(message.Date, 0)),
	}
	if message.MessageThreadID != 0 {
		inbound.ThreadTS = strconv.Itoa(message.MessageThreadID)
	}
	return inbound, true
}

// Send delivers msg, splitting it at Telegram's message size limit.
func (c *Channel) Send(ctx context.Context, msg bus.SendMessage) error {
	bot, err := c.client()
	if err != nil {
		return err
	}
	chatID, err := parseChatID(msg.Recipient)
	if err != nil {
		return err
	}

	c.log.Info("Sending message", "chat_id", msg.Recipient, "content", channel.PreviewText(msg.Content))
	for _, chunk := range channel.SplitMessage(msg.Content, messageLimit) {
		params := tu.Message(tu.ID(chatID), chunk)
		params.MessageThreadID = threadID(msg.ThreadTS)
		if _, err := bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// HealthCheck verifies the token with getMe.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	bot, err := c.client()
	if err != nil {
		return false
	}
	_, err = bot.GetMe(ctx)
	return err == nil
}

// SupportsDraftUpdates reports whether replies stream into an edited message.
func (c *Channel) SupportsDraftUpdates() bool {
	return c.cfg.StreamDrafts
}

func (c *Channel) SendDraft(ctx context.Context, msg bus.SendMessage) (string, error) {
	bot, err := c.client()
	if err != nil {
		return "", err
	}
	chatID, err := parseChatID(msg.Recipient)
	if err != nil {
		return "", err
	}

	params := tu.Message(tu.ID(chatID), msg.Content)
	params.MessageThreadID = threadID(msg.ThreadTS)
	sent, err := bot.SendMessage(ctx, params)
	if err != nil {
		return "", fmt.Errorf("send telegram draft: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// UpdateDraft edits the draft when the per-draft throttle allows it.
func (c *Channel) UpdateDraft(ctx context.Context, recipient, draftID, text string) error {
	if !c.drafts.Allow(draftID) {
		return nil
	}
	if len(text) > messageLimit {
		text = text[:messageLimit]
	}
	return c.editMessage(ctx, recipient, draftID, text)
}

// FinalizeDraft writes the full reply into the draft, sending overflow as new messages.
func (c *Channel) FinalizeDraft(ctx context.Context, recipient, draftID, text string) error {
	c.drafts.Forget(draftID)

	chunks := channel.SplitMessage(text, messageLimit)
	if len(chunks) == 0 {
		return c.CancelDraft(ctx, recipient, draftID)
	}
	if err := c.editMessage(ctx, recipient, draftID, chunks[0]); err != nil {
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

	bot, err := c.client()
	if err != nil {
		return err
	}
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(draftID)
	if err != nil {
		return fmt.Errorf("invalid telegram draft id %q", draftID)
	}
	return bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(chatID), MessageID: msgID})
}

func (c *Channel) editMessage(ctx context.Context, recipient, draftID, text string) error {
	bot, err := c.client()
	if err != nil {
		return err
	}
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(draftID)
	if err != nil {
		return fmt.Errorf("invalid telegram draft id %q", draftID)
	}
	_, err = bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: msgID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("edit telegram message: %w", err)
	}
	return nil
}

// AddReaction sets emoji as the bot's reaction on the message.
func (c *Channel) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return c.setReaction(ctx, channelID, messageID, []telego.ReactionType{
		&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
	})
}

// RemoveReaction clears the bot's reaction; Telegram keeps one reaction per bot.
func (c *Channel) RemoveReaction(ctx context.Context, channelID, messageID, _ string) error {
	return c.setReaction(ctx, channelID, messageID, []telego.ReactionType{})
}

func (c *Channel) setReaction(ctx context.Context, channelID, messageID string, reaction []telego.ReactionType) error {
	bot, err := c.client()
	if err != nil {
		return err
	}
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	msgID, ok := parseMessageID(messageID)
	if !ok {
		return fmt.Errorf("invalid telegram message id %q", messageID)
	}
	return bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(chatID),
		MessageID: msgID,
		Reaction:  reaction,
	})
}

// StartTyping sends a typing action now and refreshes it until StopTyping.
func (c *Channel) StartTyping(ctx context.Context, recipient string) error {
	bot, err := c.client()
	if err != nil {
		return err
	}
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}

	typingCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	if previous, ok := c.typing[recipient]; ok {
		previous()
	}
	c.typing[recipient] = cancel
	c.mu.Unlock()

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			c.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return nil
}

func (c *Channel) StopTyping(_ context.Context, recipient string) error {
	c.mu.Lock()
	cancel, ok := c.typing[recipient]
	delete(c.typing, recipient)
	c.mu.Unlock()

	if ok {
		cancel()
	}
	return nil
}

// senderAllowed checks the numeric id and the @username against allow_from.
func (c *Channel) senderAllowed(senderID, username string) bool {
	if c.allowFrom.Allows(senderID) {
		return true
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	return username != "" && (c.allowFrom.Allows(username) || c.allowFrom.Allows("@"+username))
}

// messageID builds the bus id; the Telegram message id is the last segment.
func messageID(chatID string, msgID int) string {
	return fmt.Sprintf("%s_%s_%d", channelName, chatID, msgID)
}

func parseMessageID(id string) (int, bool) {
	idx := strings.LastIndexByte(id, '_')
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseChatID(recipient string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipient), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q", recipient)
	}
	return chatID, nil
}

func threadID(ts string) int {
	n, err := strconv.Atoi(strings.TrimSpace(ts))
	if err != nil {
		return 0
	}
	return n
}
