package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InProcess keeps memories in a map for the lifetime of the process.
type InProcess struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewInProcess() *InProcess {
	return &InProcess{entries: make(map[string]Entry)}
}

func (m *InProcess) Name() string {
	return "memory"
}

func (m *InProcess) Store(_ context.Context, key, content string, category Category, sessionID string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("memory key is required")
	}
	if category == "" {
		category = CategoryCore
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	if existing, ok := m.entries[key]; ok {
		id = existing.ID
	}
	m.entries[key] = Entry{
		ID:        id,
		Key:       key,
		Content:   content,
		Category:  category,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
	}
	return nil
}

func (m *InProcess) Recall(_ context.Context, query string, limit int, sessionID string) ([]Entry, error) {
	return rank(query, m.snapshot("", sessionID), limit), nil
}

func (m *InProcess) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *InProcess) List(_ context.Context, category Category, sessionID string) ([]Entry, error) {
	return m.snapshot(category, sessionID), nil
}

func (m *InProcess) Forget(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key = strings.TrimSpace(key)
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *InProcess) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *InProcess) HealthCheck(context.Context) bool {
	return true
}

// snapshot copies matching entries, newest first.
func (m *InProcess) snapshot(category Category, sessionID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if category != "" && e.Category != category {
			continue
		}
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// None discards everything.
type None struct{}

func (None) Name() string { return "none" }

func (None) Store(context.Context, string, string, Category, string) error { return nil }

func (None) Recall(context.Context, string, int, string) ([]Entry, error) { return nil, nil }

func (None) Get(context.Context, string) (*Entry, error) { return nil, nil }

func (None) List(context.Context, Category, string) ([]Entry, error) { return nil, nil }

func (None) Forget(context.Context, string) (bool, error) { return false, nil }

func (None) Count(context.Context) (int, error) { return 0, nil }

func (None) HealthCheck(context.Context) bool { return true }
