package gateway

import (
	"time"
	"unicode/utf8"

	"zeroclaw/pkg/bus"
)

const (
	poolFloor            = 8
	poolCeiling          = 64
	inFlightPerChannel   = 4
	maxTimeoutScale      = 4
	autosaveMinChars     = 20
	hookMaxOutboundChars = 20000
	draftBufferSize      = 64
	draftPlaceholder     = "..."
	draftDrainTimeout    = 5 * time.Second
)

// historyKey names one conversation. Threaded messages get their own history.
func historyKey(msg bus.ChannelMessage) string {
	if msg.ThreadTS != "" {
		return msg.Channel + "_" + msg.ThreadTS + "_" + msg.Sender
	}
	return msg.Channel + "_" + msg.Sender
}

// scopeKey names the interruption scope: at most one task per scope runs when
// interruption is enabled for the channel.
func scopeKey(msg bus.ChannelMessage) string {
	return msg.Channel + "_" + msg.ReplyTarget + "_" + msg.Sender
}

func memoryKey(msg bus.ChannelMessage) string {
	return msg.Channel + "_" + msg.Sender + "_" + msg.ID
}

// MaxInFlight sizes the worker pool from the number of running channels.
func MaxInFlight(channels int) int {
	return min(max(channels*inFlightPerChannel, poolFloor), poolCeiling)
}

// timeoutBudget scales the base timeout by the tool iteration count, capped at 4x.
func timeoutBudget(base time.Duration, maxToolIterations int) time.Duration {
	return base * time.Duration(min(max(maxToolIterations, 1), maxTimeoutScale))
}

func truncateWithEllipsis(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
