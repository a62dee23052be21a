package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveRootExpandsHomeAndCreatesDirectory(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	root, err := ResolveRoot("~/agent-workspace")
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(filepath.Join(homeDir, "agent-workspace"))
	require.NoError(t, err)
	require.Equal(t, want, root)

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestResolvePathRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := confinedGuard(t).ResolvePath("  ")
	require.Equal(t, ErrorInvalidPath, CategoryFromError(err))
}

func TestResolvePathRelativeInsideWorkspace(t *testing.T) {
	t.Parallel()

	guard := confinedGuard(t)
	resolved, err := guard.ResolvePath("notes/todo.txt")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(resolved, guard.Root()+string(filepath.Separator)), resolved)
	require.Equal(t, filepath.Join("notes", "todo.txt"), guard.RelPath(resolved))
}

func TestResolvePathRejectsEscapes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "out-link")))

	guard, err := NewGuard(Scope{Root: root, WorkspaceOnly: true})
	require.NoError(t, err)

	for _, path := range []string{
		"../escape.txt",
		filepath.Join(outside, "external.txt"),
		"out-link/file.txt",
	} {
		_, err := guard.ResolvePath(path)
		require.Equal(t, ErrorOutsideWorkspace, CategoryFromError(err), path)
	}
	require.Equal(t, ErrorOutsideWorkspace, CategoryFromError(guard.EnsureContained(filepath.Join(outside, "f.txt"))))
}

func TestAllowedRootsExtendWorkspace(t *testing.T) {
	t.Parallel()

	extra := t.TempDir()
	guard, err := NewGuard(Scope{Root: t.TempDir(), WorkspaceOnly: true, AllowedRoots: []string{extra}})
	require.NoError(t, err)

	resolved, err := guard.ResolvePath(filepath.Join(extra, "shared.txt"))
	require.NoError(t, err)
	require.Equal(t, resolved, guard.RelPath(resolved), "paths outside the root stay absolute")
}

func TestWorkspaceOnlyOffAllowsOutsidePaths(t *testing.T) {
	t.Parallel()

	guard, err := NewGuard(Scope{Root: t.TempDir()})
	require.NoError(t, err)

	_, err = guard.ResolvePath(filepath.Join(t.TempDir(), "anywhere.txt"))
	require.NoError(t, err)
}

func TestForbiddenPathsWinInsideWorkspace(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	guard, err := NewGuard(Scope{Root: root, WorkspaceOnly: true, ForbiddenPaths: []string{"secrets", " "}})
	require.NoError(t, err)

	_, err = guard.ResolvePath("secrets/key.pem")
	require.Equal(t, ErrorForbiddenPath, CategoryFromError(err))

	_, err = guard.ResolvePath("secrets-not/key.pem")
	require.NoError(t, err)
}

func TestNormalizeIOError(t *testing.T) {
	t.Parallel()

	_, statErr := os.Stat(filepath.Join(t.TempDir(), "missing"))
	err := NormalizeIOError(statErr, "stat failed")
	require.EqualError(t, err, "path_not_found: path does not exist")

	err = NormalizeIOError(errors.New("disk on fire"), "")
	require.EqualError(t, err, "io_error: disk on fire")
	require.NoError(t, NormalizeIOError(nil, "unused"))
}

func confinedGuard(t *testing.T) *Guard {
	t.Helper()

	guard, err := NewGuard(Scope{Root: t.TempDir(), WorkspaceOnly: true})
	require.NoError(t, err)
	return guard
}
