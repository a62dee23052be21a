package memory

import (
	"context"
	"log/slog"

	"zeroclaw/pkg/plugin"
)

// Plugin forwards every memory operation to a memory plugin process.
type Plugin struct {
	plugin plugin.Plugin
	name   string
	log    *slog.Logger
}

type storePayload struct {
	Key       string   `json:"key"`
	Content   string   `json:"content"`
	Category  Category `json:"category"`
	SessionID *string  `json:"session_id"`
}

type recallPayload struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit"`
	SessionID *string `json:"session_id"`
}

type keyPayload struct {
	Key string `json:"key"`
}

type listPayload struct {
	Category  *Category `json:"category"`
	SessionID *string   `json:"session_id"`
}

func NewPlugin(p plugin.Plugin, log *slog.Logger) *Plugin {
	if log == nil {
		log = slog.Default()
	}
	name := "plugin:" + p.ID
	return &Plugin{plugin: p, name: name, log: log.With("component", "memory.plugin", "plugin", p.ID)}
}

func (m *Plugin) Name() string {
	return m.name
}

func (m *Plugin) invoke(ctx context.Context, operation string, payload any, out any) error {
	return plugin.Invoke(ctx, m.plugin, plugin.KindMemory, operation, payload, out)
}

func (m *Plugin) Store(ctx context.Context, key, content string, category Category, sessionID string) error {
	return m.invoke(ctx, "store", storePayload{Key: key, Content: content, Category: category, SessionID: optional(sessionID)}, nil)
}

func (m *Plugin) Recall(ctx context.Context, query string, limit int, sessionID string) ([]Entry, error) {
	var entries []Entry
	err := m.invoke(ctx, "recall", recallPayload{Query: query, Limit: limit, SessionID: optional(sessionID)}, &entries)
	return entries, err
}

func (m *Plugin) Get(ctx context.Context, key string) (*Entry, error) {
	var entry *Entry
	err := m.invoke(ctx, "get", keyPayload{Key: key}, &entry)
	return entry, err
}

func (m *Plugin) List(ctx context.Context, category Category, sessionID string) ([]Entry, error) {
	payload := listPayload{SessionID: optional(sessionID)}
	if category != "" {
		payload.Category = &category
	}
	var entries []Entry
	err := m.invoke(ctx, "list", payload, &entries)
	return entries, err
}

func (m *Plugin) Forget(ctx context.Context, key string) (bool, error) {
	var removed bool
	err := m.invoke(ctx, "forget", keyPayload{Key: key}, &removed)
	return removed, err
}

func (m *Plugin) Count(ctx context.Context) (int, error) {
	var n int
	err := m.invoke(ctx, "count", plugin.Empty{}, &n)
	return n, err
}

func (m *Plugin) HealthCheck(ctx context.Context) bool {
	var ok bool
	if err := m.invoke(ctx, "health_check", plugin.Empty{}, &ok); err != nil {
		m.log.Debug("Memory plugin health check failed", "error", err)
		return false
	}
	return ok
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
