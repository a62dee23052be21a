package gateway

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"zeroclaw/pkg/bus"
	providertypes "zeroclaw/pkg/provider/types"
)

const (
	usageInputTokensKey     = "usage_input_tokens"
	usageOutputTokensKey    = "usage_output_tokens"
	usageTotalTokensKey     = "usage_total_tokens"
	usageReasoningTokensKey = "usage_reasoning_tokens"
	usageCacheReadTokensKey = "usage_cache_read_tokens"
)

// ObserveEvents logs every lifecycle event published on mb until ctx is done
// or the bus closes.
func ObserveEvents(ctx context.Context, mb *bus.MessageBus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")
	events, unsubscribe := mb.SubscribeEvents(ctx, 32)
	defer unsubscribe()
	defer func() {
		if dropped := mb.DroppedEvents(); dropped > 0 {
			log.Warn("Lifecycle events dropped by slow subscribers", "dropped", dropped)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"channel", event.Channel,
		"sender", event.Sender,
		"message_id", event.MessageID,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if event.Provider != "" {
		attrs = append(attrs, "provider", event.Provider, "model", event.Model)
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventMessageError, bus.EventMessageTimeout:
		log.Error("Channel message event", append(attrs, "error", event.Error)...)
	case bus.EventMessageCancelled:
		log.Info("Channel message event", append(attrs, "reason", event.Error)...)
	case bus.EventMessageInbound, bus.EventMessageOutbound:
		log.Info("Channel message event", attrs...)
	default:
		log.Debug("Channel message event", attrs...)
	}
}

// addUsage copies provider token accounting into an event payload.
func addUsage(payload map[string]string, usage *providertypes.TokenUsage) {
	if usage == nil || usage.IsZero() {
		return
	}
	payload[usageInputTokensKey] = strconv.FormatInt(usage.InputTokens, 10)
	payload[usageOutputTokensKey] = strconv.FormatInt(usage.OutputTokens, 10)
	payload[usageTotalTokensKey] = strconv.FormatInt(usage.TotalTokens, 10)
	if usage.ReasoningTokens > 0 {
		payload[usageReasoningTokensKey] = strconv.FormatInt(usage.ReasoningTokens, 10)
	}
	if usage.CacheReadTokens > 0 {
		payload[usageCacheReadTokensKey] = strconv.FormatInt(usage.CacheReadTokens, 10)
	}
}
