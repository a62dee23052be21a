package memory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"zeroclaw/pkg/config"
	"zeroclaw/pkg/plugin"
)

// Category groups memories. Custom categories are any other non-empty string.
type Category string

const (
	CategoryCore         Category = "core"
	CategoryDaily        Category = "daily"
	CategoryConversation Category = "conversation"
)

// ParseCategory maps free text onto a category, defaulting to core.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryCore
	}
	return Category(s)
}

// Entry is one stored memory. Score is set only on recall results.
type Entry struct {
	ID        string   `json:"id"`
	Key       string   `json:"key"`
	Content   string   `json:"content"`
	Category  Category `json:"category"`
	Timestamp string   `json:"timestamp"`
	SessionID string   `json:"session_id,omitempty"`
	Score     *float64 `json:"score,omitempty"`
}

// Memory is a long-term store. Keys are unique; storing an existing key replaces it.
type Memory interface {
	Name() string
	Store(ctx context.Context, key, content string, category Category, sessionID string) error
	Recall(ctx context.Context, query string, limit int, sessionID string) ([]Entry, error)
	// Get returns nil without error when key is unknown.
	Get(ctx context.Context, key string) (*Entry, error)
	// List filters by category and session when they are non-empty.
	List(ctx context.Context, category Category, sessionID string) ([]Entry, error)
	Forget(ctx context.Context, key string) (bool, error)
	Count(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) bool
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.MemoryConfig, workspaceDir string, plugins *plugin.Registry, log *slog.Logger) (Memory, error) {
	if log == nil {
		log = slog.Default()
	}

	switch backend := strings.ToLower(strings.TrimSpace(cfg.Backend)); backend {
	case "", "sqlite":
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			path = "memory.db"
		}
		if path != ":memory:" && !filepath.IsAbs(path) && workspaceDir != "" {
			path = filepath.Join(workspaceDir, path)
		}
		return OpenSQLite(path, log)
	case "plugin":
		id := strings.TrimSpace(cfg.Plugin)
		if id == "" {
			return nil, fmt.Errorf("memory.plugin is required when memory.backend is plugin")
		}
		if plugins == nil {
			return nil, fmt.Errorf("memory plugin %q not found: plugins are disabled", id)
		}
		p, ok := plugins.Memory(id)
		if !ok {
			return nil, fmt.Errorf("memory plugin %q not found in plugin registry", id)
		}
		return NewPlugin(p, log), nil
	case "memory":
		return NewInProcess(), nil
	case "none":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unsupported memory backend %q", backend)
	}
}

// recallLimit is how many entries BuildContext asks for.
const recallLimit = 5

// BuildContext recalls memories relevant to query and renders them as a
// prompt preamble. Entries below minScore are dropped; unscored entries are kept.
func BuildContext(ctx context.Context, mem Memory, query string, minScore float64) string {
	if mem == nil || strings.TrimSpace(query) == "" {
		return ""
	}

	entries, err := mem.Recall(ctx, query, recallLimit, "")
	if err != nil {
		return ""
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.Score != nil && *entry.Score < minScore {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("[Memory context]\n")
		}
		fmt.Fprintf(&b, "- %s: %s\n", entry.Key, entry.Content)
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString("\n")
	return b.String()
}

// keywords splits text into lowercase search terms.
func keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// score is the fraction of terms found in the entry's key or content.
func score(terms []string, e Entry) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(e.Key + " " + e.Content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// rank scores candidates against query, drops misses and keeps the best limit.
func rank(query string, candidates []Entry, limit int) []Entry {
	terms := keywords(query)
	var out []Entry
	for _, e := range candidates {
		s := score(terms, e)
		if s <= 0 {
			continue
		}
		e.Score = &s
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].Score != *out[j].Score {
			return *out[i].Score > *out[j].Score
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
