package hooks

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"zeroclaw/pkg/bus"
)

const loggerPreviewRunes = 80

// MessageLogger logs every message in both directions and never alters them.
type MessageLogger struct {
	log *slog.Logger
}

func NewMessageLogger(log *slog.Logger) *MessageLogger {
	if log == nil {
		log = slog.Default()
	}
	return &MessageLogger{log: log.With("component", "hooks", "hook", "message_logger")}
}

func (h *MessageLogger) Name() string {
	return "message_logger"
}

func (h *MessageLogger) OnMessageReceived(_ context.Context, msg bus.ChannelMessage) Outcome[bus.ChannelMessage] {
	h.log.Info("message received",
		"channel", msg.Channel,
		"sender", msg.Sender,
		"message_id", msg.ID,
		"content", preview(msg.Content),
	)
	return Continue(msg)
}

func (h *MessageLogger) OnMessageSending(_ context.Context, out Outgoing) Outcome[Outgoing] {
	h.log.Info("message sending",
		"channel", out.Channel,
		"recipient", out.Recipient,
		"content", preview(out.Content),
	)
	return Continue(out)
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= loggerPreviewRunes {
		return s
	}
	return string([]rune(s)[:loggerPreviewRunes]) + "..."
}
