package gateway

import (
	"strings"
	"sync"

	providertypes "zeroclaw/pkg/provider/types"
)

const (
	maxHistoryTurns  = 50
	compactKeepTurns = 12
	compactTurnChars = 600

	failedTurnSentinel   = "[Task failed — not continuing this request]"
	timedOutTurnSentinel = "[Task timed out — not continuing this request]"
	overflowTurnSentinel = "[Context window exceeded — not continuing this request]"
)

// historyStore keeps per-conversation turns in memory. The lock is held only
// for the duration of a single read or update.
type historyStore struct {
	mu    sync.Mutex
	turns map[string][]providertypes.ChatMessage
}

func newHistoryStore() *historyStore {
	return &historyStore{turns: make(map[string][]providertypes.ChatMessage)}
}

// Append adds one turn and drops the oldest turns beyond the cap.
func (h *historyStore) Append(key string, turn providertypes.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := append(h.turns[key], turn)
	if len(turns) > maxHistoryTurns {
		turns = append([]providertypes.ChatMessage(nil), turns[len(turns)-maxHistoryTurns:]...)
	}
	h.turns[key] = turns
}

// Snapshot returns a copy of the turns for key.
func (h *historyStore) Snapshot(key string) []providertypes.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]providertypes.ChatMessage(nil), h.turns[key]...)
}

func (h *historyStore) Len(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns[key])
}

func (h *historyStore) Clear(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.turns[key]
	delete(h.turns, key)
	return ok
}

// Compact keeps the newest turns and truncates each one. It reports whether
// anything changed.
func (h *historyStore) Compact(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns, ok := h.turns[key]
	if !ok || len(turns) == 0 {
		return false
	}

	changed := false
	if len(turns) > compactKeepTurns {
		turns = turns[len(turns)-compactKeepTurns:]
		changed = true
	}

	compacted := make([]providertypes.ChatMessage, len(turns))
	for i, turn := range turns {
		content := truncateWithEllipsis(turn.Content, compactTurnChars)
		if content != turn.Content {
			changed = true
		}
		compacted[i] = providertypes.ChatMessage{Role: turn.Role, Content: content}
	}
	h.turns[key] = compacted
	return changed
}

// CloseOrphan appends an assistant sentinel when the history ends with a user turn.
func (h *historyStore) CloseOrphan(key, sentinel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := h.turns[key]
	if len(turns) == 0 || turns[len(turns)-1].Role != providertypes.RoleUser {
		return false
	}
	h.turns[key] = append(turns, providertypes.Assistant(sentinel))
	return true
}

// RollbackUserTurn removes the most recent user turn if its content matches.
// Turns before and after it are left alone.
func (h *historyStore) RollbackUserTurn(key, content string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := h.turns[key]
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != providertypes.RoleUser {
			continue
		}
		if turns[i].Content != content {
			return false
		}
		rest := append([]providertypes.ChatMessage(nil), turns[:i]...)
		h.turns[key] = append(rest, turns[i+1:]...)
		return true
	}
	return false
}

// normalizeTurns merges consecutive turns from the same role so providers see
// alternating user and assistant messages. Blank turns are dropped.
func normalizeTurns(turns []providertypes.ChatMessage) []providertypes.ChatMessage {
	out := make([]providertypes.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == turn.Role {
			out[n-1].Content += "\n\n" + turn.Content
			continue
		}
		out = append(out, turn)
	}
	return out
}
