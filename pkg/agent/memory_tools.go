package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"zeroclaw/pkg/memory"
)

// MemoryTools exposes mem to the model as store, recall and forget tools.
func MemoryTools(mem memory.Memory) []Tool {
	return []Tool{
		memoryStoreTool{mem: mem},
		memoryRecallTool{mem: mem},
		memoryForgetTool{mem: mem},
	}
}

type memoryStoreTool struct{ mem memory.Memory }

func (memoryStoreTool) Name() string { return "memory_store" }
func (memoryStoreTool) Description() string {
	return "Save a fact to long-term memory under a short key."
}
func (memoryStoreTool) Parameters() string {
	return `{"key": "favorite_color", "content": "The user likes green", "category": "core"}`
}
func (memoryStoreTool) Mutating() bool { return true }

func (t memoryStoreTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	key := stringArg(args, "key")
	content := stringArg(args, "content")
	if key == "" || content == "" {
		return "", errors.New("key and content are required")
	}
	category := memory.ParseCategory(stringArg(args, "category"))
	if err := t.mem.Store(ctx, key, content, category, ""); err != nil {
		return "", err
	}
	return fmt.Sprintf("stored %q", key), nil
}

type memoryRecallTool struct{ mem memory.Memory }

func (memoryRecallTool) Name() string { return "memory_recall" }
func (memoryRecallTool) Description() string {
	return "Search long-term memory for entries relevant to a query."
}
func (memoryRecallTool) Parameters() string {
	return `{"query": "favorite color", "limit": 5}`
}
func (memoryRecallTool) Mutating() bool { return false }

func (t memoryRecallTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", errors.New("query is required")
	}
	limit := 5
	if v, ok := args["limit"].(float64); ok && v >= 1 {
		limit = int(v)
	}
	entries, err := t.mem.Recall(ctx, query, limit, "")
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "no matching memories", nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.Key, e.Content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type memoryForgetTool struct{ mem memory.Memory }

func (memoryForgetTool) Name() string { return "memory_forget" }
func (memoryForgetTool) Description() string {
	return "Delete a long-term memory entry by key."
}
func (memoryForgetTool) Parameters() string { return `{"key": "favorite_color"}` }
func (memoryForgetTool) Mutating() bool     { return true }

func (t memoryForgetTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	key := stringArg(args, "key")
	if key == "" {
		return "", errors.New("key is required")
	}
	removed, err := t.mem.Forget(ctx, key)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("no memory named %q", key), nil
	}
	return fmt.Sprintf("forgot %q", key), nil
}

func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return strings.TrimSpace(v)
}
