package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	fstools "zeroclaw/pkg/tools/fs"
	"zeroclaw/pkg/workspace"
)

// FileTools exposes the workspace file service as read_file, write_file,
// edit_file and list_dir. A nil service yields no tools.
func FileTools(service *fstools.Service) []Tool {
	if service == nil {
		return nil
	}
	return []Tool{
		readFileTool{service},
		writeFileTool{service},
		editFileTool{service},
		listDirTool{service},
	}
}

type readFileTool struct{ fs *fstools.Service }

func (readFileTool) Name() string        { return "read_file" }
func (readFileTool) Description() string { return "Read a UTF-8 text file from the workspace." }
func (readFileTool) Parameters() string  { return `{"path": "notes/todo.md"}` }
func (readFileTool) Mutating() bool      { return false }

func (t readFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	start := time.Now()
	result, err := t.fs.ReadFile(ctx, path)
	logFileTool("read_file", path, start, err)
	if err != nil {
		return "", categorized(err)
	}
	rel := t.fs.Guard().RelPath(result.Path)
	return fmt.Sprintf("ok: read %d bytes from %s\n%s", len(result.Content), rel, result.Content), nil
}

type writeFileTool struct{ fs *fstools.Service }

func (writeFileTool) Name() string        { return "write_file" }
func (writeFileTool) Description() string { return "Write a full text file inside the workspace." }
func (writeFileTool) Parameters() string {
	return `{"path": "notes/todo.md", "content": "- buy milk"}`
}
func (writeFileTool) Mutating() bool { return true }

func (t writeFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	content, _ := args["content"].(string)
	start := time.Now()
	written, err := t.fs.WriteFile(ctx, path, content)
	logFileTool("write_file", path, start, err)
	if err != nil {
		return "", categorized(err)
	}
	return fmt.Sprintf("ok: wrote %d bytes to %s", len(content), t.fs.Guard().RelPath(written)), nil
}

type editFileTool struct{ fs *fstools.Service }

func (editFileTool) Name() string        { return "edit_file" }
func (editFileTool) Description() string { return "Replace exact text in a file inside the workspace." }
func (editFileTool) Parameters() string {
	return `{"path": "notes/todo.md", "old_text": "milk", "new_text": "bread", "replace_all": false}`
}
func (editFileTool) Mutating() bool { return true }

func (t editFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	start := time.Now()
	result, err := t.fs.EditFile(ctx, path, oldText, newText, replaceAll)
	logFileTool("edit_file", path, start, err)
	if err != nil {
		return "", categorized(err)
	}
	return fmt.Sprintf("ok: replaced %d match(es) in %s", result.Replaced, t.fs.Guard().RelPath(result.Path)), nil
}

type listDirTool struct{ fs *fstools.Service }

func (listDirTool) Name() string        { return "list_dir" }
func (listDirTool) Description() string { return "List directory entries inside the workspace." }
func (listDirTool) Parameters() string  { return `{"path": "."}` }
func (listDirTool) Mutating() bool      { return false }

func (t listDirTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	start := time.Now()
	result, err := t.fs.ListDir(ctx, path)
	logFileTool("list_dir", path, start, err)
	if err != nil {
		return "", categorized(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ok: listed %d entries in %s", len(result.Entries), t.fs.Guard().RelPath(result.Path))
	if result.Truncated {
		fmt.Fprintf(&b, " (truncated from %d)", result.Total)
	}
	for _, entry := range result.Entries {
		kind := "file"
		if entry.IsDir {
			kind = "dir"
		}
		fmt.Fprintf(&b, "\n- %s\t%s\t%d", entry.Name, kind, entry.Size)
	}
	return b.String(), nil
}

// categorized makes sure the model sees the error category first.
func categorized(err error) error {
	category := workspace.CategoryFromError(err)
	if strings.HasPrefix(err.Error(), category) {
		return err
	}
	return fmt.Errorf("%s: %w", category, err)
}

func logFileTool(tool, path string, start time.Time, err error) {
	attrs := []any{
		"component", "agent.tools",
		"tool", tool,
		"path", path,
		"success", err == nil,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "error_category", workspace.CategoryFromError(err))
	}
	slog.Default().Debug("File tool executed", attrs...)
}
