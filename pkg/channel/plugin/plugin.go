package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	plugins "zeroclaw/pkg/plugin"
)

const (
	defaultPollInterval  = 750 * time.Millisecond
	defaultDraftInterval = time.Second
)

// Channel drives a channel plugin through the subprocess protocol. Every
// operation, including each listen poll, is one plugin invocation.
type Channel struct {
	plugin       plugins.Plugin
	name         string
	pollInterval time.Duration
	drafts       *channel.DraftThrottle
	log          *slog.Logger
}

type inboundItem struct {
	ID          string  `json:"id"`
	Sender      string  `json:"sender"`
	ReplyTarget string  `json:"reply_target"`
	Content     string  `json:"content"`
	Channel     string  `json:"channel"`
	Timestamp   *uint64 `json:"timestamp"`
	ThreadTS    string  `json:"thread_ts"`
}

type sendPayload struct {
	Content   string  `json:"content"`
	Recipient string  `json:"recipient"`
	Subject   *string `json:"subject"`
	ThreadTS  *string `json:"thread_ts"`
}

type recipientPayload struct {
	Recipient string `json:"recipient"`
}

type draftPayload struct {
	Recipient string `json:"recipient"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type reactionPayload struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

func New(p plugins.Plugin, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	name := "plugin:" + p.ID
	return &Channel{
		plugin:       p,
		name:         name,
		pollInterval: defaultPollInterval,
		drafts:       channel.NewDraftThrottle(defaultDraftInterval),
		log:          log.With("component", "channel.plugin", "channel", name),
	}
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) invoke(ctx context.Context, operation string, payload any, out any) error {
	return plugins.Invoke(ctx, c.plugin, plugins.KindChannel, operation, payload, out)
}

func (c *Channel) Send(ctx context.Context, msg bus.SendMessage) error {
	return c.invoke(ctx, "send", toSendPayload(msg), nil)
}

// Listen polls the plugin for new messages until the sink closes. A failed
// poll ends the listener so the supervisor can back off.
func (c *Channel) Listen(ctx context.Context, sink channel.Sink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sink.Done():
			return nil
		default:
		}

		var items []inboundItem
		if err := c.invoke(ctx, "listen", plugins.Empty{}, &items); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, item := range items {
			msg := item.toChannelMessage(c.name, time.Now())
			if err := sink.Publish(ctx, msg); err != nil {
				if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("dispatch plugin channel message: %w", err)
			}
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-sink.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// HealthCheck is false on any invocation failure or missing data.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	var ok bool
	if err := c.invoke(ctx, "health_check", plugins.Empty{}, &ok); err != nil {
		c.log.Debug("Plugin health check failed", "error", err)
		return false
	}
	return ok
}

func (c *Channel) StartTyping(ctx context.Context, recipient string) error {
	return c.invoke(ctx, "start_typing", recipientPayload{Recipient: recipient}, nil)
}

func (c *Channel) StopTyping(ctx context.Context, recipient string) error {
	return c.invoke(ctx, "stop_typing", recipientPayload{Recipient: recipient}, nil)
}

// SupportsDraftUpdates is true only for plugins declaring draft_updates.
// Every edit costs a process spawn, so edits are throttled per draft.
func (c *Channel) SupportsDraftUpdates() bool {
	return c.plugin.DraftUpdates
}

func (c *Channel) SendDraft(ctx context.Context, msg bus.SendMessage) (string, error) {
	var id *string
	if err := c.invoke(ctx, "send_draft", toSendPayload(msg), &id); err != nil {
		return "", err
	}
	if id == nil {
		return "", nil
	}
	return *id, nil
}

func (c *Channel) UpdateDraft(ctx context.Context, recipient, draftID, text string) error {
	if !c.drafts.Allow(draftID) {
		return nil
	}
	return c.invoke(ctx, "update_draft", draftPayload{Recipient: recipient, MessageID: draftID, Text: text}, nil)
}

func (c *Channel) FinalizeDraft(ctx context.Context, recipient, draftID, text string) error {
	c.drafts.Forget(draftID)
	return c.invoke(ctx, "finalize_draft", draftPayload{Recipient: recipient, MessageID: draftID, Text: text}, nil)
}

func (c *Channel) CancelDraft(ctx context.Context, recipient, draftID string) error {
	c.drafts.Forget(draftID)
	return c.invoke(ctx, "cancel_draft", draftPayload{Recipient: recipient, MessageID: draftID}, nil)
}

func (c *Channel) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return c.invoke(ctx, "add_reaction", reactionPayload{ChannelID: channelID, MessageID: messageID, Emoji: emoji}, nil)
}

func (c *Channel) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return c.invoke(ctx, "remove_reaction", reactionPayload{ChannelID: channelID, MessageID: messageID, Emoji: emoji}, nil)
}

func toSendPayload(msg bus.SendMessage) sendPayload {
	payload := sendPayload{Content: msg.Content, Recipient: msg.Recipient}
	if msg.Subject != "" {
		payload.Subject = &msg.Subject
	}
	if msg.ThreadTS != "" {
		payload.ThreadTS = &msg.ThreadTS
	}
	return payload
}

// toChannelMessage fills the fields plugins may omit.
func (item inboundItem) toChannelMessage(fallbackChannel string, now time.Time) bus.ChannelMessage {
	ts := uint64(now.Unix())
	if item.Timestamp != nil {
		ts = *item.Timestamp
	}
	ch := item.Channel
	if ch == "" {
		ch = fallbackChannel
	}
	replyTarget := item.ReplyTarget
	if replyTarget == "" {
		replyTarget = item.Sender
	}
	id := item.ID
	synthesized := strings.TrimSpace(id) == ""
	if synthesized {
		id = fmt.Sprintf("%s:%d", ch, ts)
	}

	return bus.ChannelMessage{
		ID:            id,
		IDSynthesized: synthesized,
		Sender:        item.Sender,
		ReplyTarget:   replyTarget,
		Content:       item.Content,
		Channel:       ch,
		Timestamp:     ts,
		ThreadTS:      item.ThreadTS,
	}
}
