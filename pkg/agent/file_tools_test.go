package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	providertypes "zeroclaw/pkg/provider/types"
	"zeroclaw/pkg/security"
	fstools "zeroclaw/pkg/tools/fs"
	"zeroclaw/pkg/workspace"
)

func newFileTools(t *testing.T, scope workspace.Scope) ([]Tool, string) {
	t.Helper()
	scope.Root = t.TempDir()
	guard, err := workspace.NewGuard(scope)
	require.NoError(t, err)
	return FileTools(fstools.NewService(guard)), guard.Root()
}

func findTool(t *testing.T, tools []Tool, name string) Tool {
	t.Helper()
	for _, tool := range tools {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %q not found", name)
	return nil
}

func TestFileTools(t *testing.T) {
	t.Parallel()

	tools, root := newFileTools(t, workspace.Scope{WorkspaceOnly: true})
	require.Equal(t, []string{"read_file", "write_file", "edit_file", "list_dir"}, ToolNames(tools))
	ctx := context.Background()

	out, err := findTool(t, tools, "write_file").Execute(ctx, map[string]any{"path": "notes/a.txt", "content": "buy milk"})
	require.NoError(t, err)
	require.Equal(t, "ok: wrote 8 bytes to notes/a.txt", out)

	out, err = findTool(t, tools, "edit_file").Execute(ctx, map[string]any{"path": "notes/a.txt", "old_text": "milk", "new_text": "bread"})
	require.NoError(t, err)
	require.Equal(t, "ok: replaced 1 match(es) in notes/a.txt", out)

	out, err = findTool(t, tools, "read_file").Execute(ctx, map[string]any{"path": "notes/a.txt"})
	require.NoError(t, err)
	require.Equal(t, "ok: read 9 bytes from notes/a.txt\nbuy bread", out)

	out, err = findTool(t, tools, "list_dir").Execute(ctx, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "ok: listed 1 entries in .\n- notes\tdir\t"+dirSize(t, filepath.Join(root, "notes")), out)
}

func TestFileToolErrorsCarryCategory(t *testing.T) {
	t.Parallel()

	tools, _ := newFileTools(t, workspace.Scope{WorkspaceOnly: true, ForbiddenPaths: []string{"private"}})
	ctx := context.Background()

	_, err := findTool(t, tools, "read_file").Execute(ctx, map[string]any{"path": "../etc/passwd"})
	require.ErrorContains(t, err, "outside_workspace")

	_, err = findTool(t, tools, "write_file").Execute(ctx, map[string]any{"path": "private/x", "content": "y"})
	require.ErrorContains(t, err, "forbidden_path")

	_, err = findTool(t, tools, "read_file").Execute(ctx, map[string]any{"path": "missing.txt"})
	require.EqualError(t, err, "path_not_found: path does not exist")
}

func TestFileToolsInToolLoopRespectReadOnly(t *testing.T) {
	t.Parallel()

	tools, root := newFileTools(t, workspace.Scope{WorkspaceOnly: true})
	p := &scriptedProvider{replies: []string{
		`<tool_call>{"name":"write_file","arguments":{"path":"x.txt","content":"y"}}</tool_call>`,
		"done",
	}}

	res, err := RunToolLoop(context.Background(), LoopRequest{
		Provider:      p,
		History:       []providertypes.ChatMessage{providertypes.User("write")},
		Tools:         tools,
		Guard:         security.NewGuard(security.Policy{Autonomy: security.AutonomyReadOnly}),
		MaxIterations: 2,
	})
	require.NoError(t, err)
	require.Contains(t, res.History[2].Content, "read-only")
	_, statErr := os.Stat(filepath.Join(root, "x.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestFileToolsNilService(t *testing.T) {
	t.Parallel()
	require.Nil(t, FileTools(nil))
}

func dirSize(t *testing.T, path string) string {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return fmt.Sprint(info.Size())
}
