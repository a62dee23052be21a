package types

import (
	"context"
	"strings"
	"unicode/utf8"
)

type ToolEventKind string

const (
	ToolEventCall   ToolEventKind = "call"
	ToolEventResult ToolEventKind = "result"
)

// maxToolEventPayload caps payload runes handed to observers.
const maxToolEventPayload = 512

// ToolEvent is one tool call or result observed during a tool loop.
type ToolEvent struct {
	Kind       ToolEventKind
	Tool       string
	Payload    string
	Failed     bool
	DurationMs int64
}

type toolEventObserverKey struct{}

// ToolEventObserver receives tool events emitted while a message is processed.
type ToolEventObserver func(event ToolEvent)

// WithToolEventObserver returns a context carrying observer. A nil observer
// leaves ctx unchanged.
func WithToolEventObserver(ctx context.Context, observer ToolEventObserver) context.Context {
	if observer == nil {
		return ctx
	}
	return context.WithValue(ctx, toolEventObserverKey{}, observer)
}

// EmitToolEvent hands event to the observer carried by ctx, if any. The
// payload is trimmed and truncated first.
func EmitToolEvent(ctx context.Context, event ToolEvent) {
	if ctx == nil {
		return
	}
	observer, ok := ctx.Value(toolEventObserverKey{}).(ToolEventObserver)
	if !ok {
		return
	}

	event.Tool = strings.TrimSpace(event.Tool)
	event.Payload = truncateRunes(strings.TrimSpace(event.Payload), maxToolEventPayload)
	observer(event)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
