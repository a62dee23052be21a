package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/workspace"
)

func TestWriteReadEditList(t *testing.T) {
	t.Parallel()

	service := newService(t, workspace.Scope{WorkspaceOnly: true})
	ctx := context.Background()

	path, err := service.WriteFile(ctx, "notes/file.txt", "hello world")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("notes", "file.txt"), service.Guard().RelPath(path))

	edit, err := service.EditFile(ctx, "notes/file.txt", "world", "zeroclaw", false)
	require.NoError(t, err)
	require.Equal(t, 1, edit.Replaced)

	read, err := service.ReadFile(ctx, "notes/file.txt")
	require.NoError(t, err)
	require.Equal(t, "hello zeroclaw", read.Content)

	listed, err := service.ListDir(ctx, "notes")
	require.NoError(t, err)
	require.Equal(t, []ListEntry{{Name: "file.txt", Size: int64(len("hello zeroclaw"))}}, listed.Entries)
}

func TestWritePreservesMode(t *testing.T) {
	t.Parallel()

	service := newService(t, workspace.Scope{WorkspaceOnly: true})
	target := filepath.Join(service.Guard().Root(), "script.sh")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o700))

	_, err := service.WriteFile(context.Background(), "script.sh", "new")
	require.NoError(t, err)

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestReadFileErrors(t *testing.T) {
	t.Parallel()

	service := newService(t, workspace.Scope{WorkspaceOnly: true})
	root := service.Guard().Root()
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin.dat"), []byte{0x00, 0x01}, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))

	tests := []struct {
		path string
		want string
	}{
		{path: "missing.txt", want: workspace.ErrorPathNotFound},
		{path: "bin.dat", want: workspace.ErrorIO},
		{path: "dir", want: workspace.ErrorInvalidPath},
		{path: "../outside.txt", want: workspace.ErrorOutsideWorkspace},
	}
	for _, tt := range tests {
		_, err := service.ReadFile(context.Background(), tt.path)
		require.Equal(t, tt.want, workspace.CategoryFromError(err), tt.path)
	}
}

func TestEditFileErrors(t *testing.T) {
	t.Parallel()

	service := newService(t, workspace.Scope{WorkspaceOnly: true})
	ctx := context.Background()
	_, err := service.WriteFile(ctx, "edit.txt", "a b a")
	require.NoError(t, err)

	_, err = service.EditFile(ctx, "edit.txt", "zzz", "x", false)
	require.Equal(t, workspace.ErrorEditNotFound, workspace.CategoryFromError(err))

	_, err = service.EditFile(ctx, "edit.txt", "a", "x", false)
	require.Equal(t, workspace.ErrorAmbiguousEdit, workspace.CategoryFromError(err))

	_, err = service.EditFile(ctx, "edit.txt", "", "x", false)
	require.Equal(t, workspace.ErrorInvalidPath, workspace.CategoryFromError(err))

	result, err := service.EditFile(ctx, "edit.txt", "a", "x", true)
	require.NoError(t, err)
	require.Equal(t, 2, result.Replaced)
}

func TestLimits(t *testing.T) {
	t.Parallel()

	service := newService(t, workspace.Scope{WorkspaceOnly: true})
	service.maxWriteBytes = 8
	service.maxReadBytes = 4
	service.maxListEntries = 2
	ctx := context.Background()

	_, err := service.WriteFile(ctx, "too-big.txt", strings.Repeat("x", 9))
	require.Equal(t, workspace.ErrorIO, workspace.CategoryFromError(err))

	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		_, err := service.WriteFile(ctx, name, "12345")
		require.NoError(t, err)
	}

	_, err = service.ReadFile(ctx, "a.txt")
	require.Equal(t, workspace.ErrorIO, workspace.CategoryFromError(err))

	listed, err := service.ListDir(ctx, "")
	require.NoError(t, err)
	require.True(t, listed.Truncated)
	require.Equal(t, 3, listed.Total)
	require.Len(t, listed.Entries, 2)
	require.Equal(t, "a.txt", listed.Entries[0].Name)
	require.Equal(t, "b.txt", listed.Entries[1].Name)
}

func TestForbiddenPathBlocksWrites(t *testing.T) {
	t.Parallel()

	service := newService(t, workspace.Scope{WorkspaceOnly: true, ForbiddenPaths: []string{".git"}})

	_, err := service.WriteFile(context.Background(), ".git/config", "x")
	require.Equal(t, workspace.ErrorForbiddenPath, workspace.CategoryFromError(err))
}

func TestServiceRespectsCancelledContext(t *testing.T) {
	t.Parallel()

	service := newService(t, workspace.Scope{WorkspaceOnly: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.WriteFile(ctx, "cancelled.txt", "hello")
	require.Equal(t, workspace.ErrorIO, workspace.CategoryFromError(err))
	_, statErr := os.Stat(filepath.Join(service.Guard().Root(), "cancelled.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func newService(t *testing.T, scope workspace.Scope) *Service {
	t.Helper()

	scope.Root = t.TempDir()
	guard, err := workspace.NewGuard(scope)
	require.NoError(t, err)
	return NewService(guard)
}
