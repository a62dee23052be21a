package channel

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const messagePreviewLimit = 240

// SplitMessage breaks text into chunks of at most limit bytes, preferring to
// cut after a newline in the second half of a chunk and never splitting a rune.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if idx := strings.LastIndexByte(text[:cut], '\n'); idx > limit/2 {
			cut = idx + 1
		}
		if cut == 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// PreviewText returns a bounded log-safe preview of message text.
func PreviewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	cut := messagePreviewLimit
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}

// AllowList is a normalized sender allow list. An empty list admits everyone
// and "*" admits everyone explicitly.
type AllowList map[string]struct{}

func NewAllowList(values []string) AllowList {
	allowed := make(AllowList, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}
	if len(allowed) == 0 {
		return nil
	}
	return allowed
}

func (a AllowList) Allows(sender string) bool {
	if len(a) == 0 {
		return true
	}
	if _, ok := a["*"]; ok {
		return true
	}
	_, ok := a[strings.TrimSpace(sender)]
	return ok
}

// DraftThrottle rate-limits edits per draft so streaming stays under the
// network's edit limits. Skipped edits are fine because the next one or the
// finalize carries the full accumulated text.
type DraftThrottle struct {
	every time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewDraftThrottle(every time.Duration) *DraftThrottle {
	if every <= 0 {
		every = time.Second
	}
	return &DraftThrottle{every: every, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether draftID may be edited now.
func (t *DraftThrottle) Allow(draftID string) bool {
	t.mu.Lock()
	limiter, ok := t.limiters[draftID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.every), 1)
		// The placeholder was just posted; the first edit waits a full interval.
		limiter.Allow()
		t.limiters[draftID] = limiter
	}
	t.mu.Unlock()
	return limiter.Allow()
}

// Forget drops the limiter for a finished draft.
func (t *DraftThrottle) Forget(draftID string) {
	t.mu.Lock()
	delete(t.limiters, draftID)
	t.mu.Unlock()
}
