package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/config"
)

const channelName = "slack"
const messageLimit = 39000
const defaultDraftInterval = time.Second

// reactionNames maps emoji to Slack reaction names.
var reactionNames = map[string]string{
	"👀":  "eyes",
	"✅":  "white_check_mark",
	"⚠️": "warning",
	"⚠":  "warning",
}

// Channel receives Slack events over socket mode and replies via the Web API.
type Channel struct {
	cfg       config.SlackConfig
	allowFrom channel.AllowList
	log       *slog.Logger
	drafts    *channel.DraftThrottle
	api       *slack.Client

	mu        sync.Mutex
	botUserID string
}

func New(cfg config.SlackConfig, log *slog.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("channels.slack.bot_token is required")
	}
	if strings.TrimSpace(cfg.AppToken) == "" {
		return nil, errors.New("channels.slack.app_token is required")
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
		log:       log.With("component", "channel.slack"),
		drafts:    channel.NewDraftThrottle(interval),
		api:       slack.New(strings.TrimSpace(cfg.BotToken), slack.OptionAppLevelToken(strings.TrimSpace(cfg.AppToken))),
	}, nil
}

func (c *Channel) Name() string {
	return channelName
}

// Listen runs a socket-mode connection and forwards message events.
func (c *Channel) Listen(ctx context.Context, sink channel.Sink) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.mu.Lock()
	c.botUserID = auth.UserID
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := socketmode.New(c.api)
	runErr := make(chan error, 1)
	go func() {
		runErr <- client.RunContext(runCtx)
	}()

	c.log.Info("Slack channel listening", "bot_user_id", auth.UserID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sink.Done():
			return nil
		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("socket mode connection closed")
			}
			return fmt.Errorf("slack socket mode: %w", err)
		case evt, ok := <-client.Events:
			if !ok {
				return errors.New("slack event stream closed")
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			if evt.Request != nil {
				client.Ack(*evt.Request)
			}

			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			message, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok {
				continue
			}
			inbound, ok := c.toChannelMessage(message)
			if !ok {
				continue
			}
			c.log.Info("Received message", "channel_id", inbound.ReplyTarget, "sender", inbound.Sender, "content", channel.PreviewText(inbound.Content))

			if err := sink.Publish(ctx, inbound); err != nil {
				if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("publish slack message: %w", err)
			}
		}
	}
}

func (c *Channel) toChannelMessage(ev *slackevents.MessageEvent) (bus.ChannelMessage, bool) {
	if ev == nil || ev.SubType != "" || ev.BotID != "" || ev.User == "" {
		return bus.ChannelMessage{}, false
	}

	c.mu.Lock()
	botUserID := c.botUserID
	c.mu.Unlock()
	if ev.User == botUserID {
		return bus.ChannelMessage{}, false
	}
	if only := strings.TrimSpace(c.cfg.ChannelID); only != "" && ev.Channel != only {
		return bus.ChannelMessage{}, false
	}
	if !c.allowFrom.Allows(ev.User) {
		c.log.Debug("Ignoring message from unauthorized sender", "sender_id", ev.User)
		return bus.ChannelMessage{}, false
	}

	content := strings.TrimSpace(ev.Text)
	if botUserID != "" {
		content = strings.TrimSpace(strings.ReplaceAll(content, "<@"+botUserID+">", ""))
	}
	if content == "" {
		return bus.ChannelMessage{}, false
	}

	return bus.ChannelMessage{
		ID:          fmt.Sprintf("%s_%s_%s", channelName, ev.Channel, ev.TimeStamp),
		Sender:      ev.User,
		ReplyTarget: ev.Channel,
		Content:     content,
		Channel:     channelName,
		Timestamp:   parseTS(ev.TimeStamp),
		ThreadTS:    ev.ThreadTimeStamp,
	}, true
}

func (c *Channel) Send(ctx context.Context, msg bus.SendMessage) error {
	for _, chunk := range channel.SplitMessage(msg.Content, messageLimit) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if msg.ThreadTS != "" {
			opts = append(opts, slack.MsgOptionTS(msg.ThreadTS))
		}
		if _, _, err := c.api.PostMessageContext(ctx, msg.Recipient, opts...); err != nil {
			return fmt.Errorf("post slack message: %w", err)
		}
	}
	return nil
}

// HealthCheck validates the bot token with auth.test.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	_, err := c.api.AuthTestContext(ctx)
	return err == nil
}

func (c *Channel) SupportsDraftUpdates() bool {
	return c.cfg.StreamDrafts
}

func (c *Channel) SendDraft(ctx context.Context, msg bus.SendMessage) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if msg.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadTS))
	}
	_, ts, err := c.api.PostMessageContext(ctx, msg.Recipient, opts...)
	if err != nil {
		return "", fmt.Errorf("post slack draft: %w", err)
	}
	return ts, nil
}

func (c *Channel) UpdateDraft(ctx context.Context, recipient, draftID, text string) error {
	if !c.drafts.Allow(draftID) {
		return nil
	}
	return c.update(ctx, recipient, draftID, text)
}

func (c *Channel) FinalizeDraft(ctx context.Context, recipient, draftID, text string) error {
	c.drafts.Forget(draftID)
	if strings.TrimSpace(text) == "" {
		return c.CancelDraft(ctx, recipient, draftID)
	}
	return c.update(ctx, recipient, draftID, text)
}

func (c *Channel) CancelDraft(ctx context.Context, recipient, draftID string) error {
	c.drafts.Forget(draftID)
	if _, _, err := c.api.DeleteMessageContext(ctx, recipient, draftID); err != nil {
		return fmt.Errorf("delete slack draft: %w", err)
	}
	return nil
}

func (c *Channel) update(ctx context.Context, recipient, ts, text string) error {
	if _, _, _, err := c.api.UpdateMessageContext(ctx, recipient, ts, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("update slack message: %w", err)
	}
	return nil
}

func (c *Channel) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return c.api.AddReactionContext(ctx, reactionName(emoji), slack.NewRefToMessage(channelID, messageTS(messageID)))
}

func (c *Channel) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return c.api.RemoveReactionContext(ctx, reactionName(emoji), slack.NewRefToMessage(channelID, messageTS(messageID)))
}

func reactionName(emoji string) string {
	if name, ok := reactionNames[emoji]; ok {
		return name
	}
	return strings.Trim(emoji, ":")
}

// messageTS extracts the Slack ts from a bus message id.
func messageTS(id string) string {
	return id[strings.LastIndexByte(id, '_')+1:]
}

func parseTS(ts string) uint64 {
	secs, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseUint(secs, 10, 64)
	if err != nil {
		return uint64(time.Now().Unix())
	}
	return n
}
