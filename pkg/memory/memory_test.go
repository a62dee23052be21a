package memory

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/config"
	"zeroclaw/pkg/plugin"
)

func backends(t *testing.T) map[string]Memory {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Memory{
		"sqlite":    db,
		"inprocess": NewInProcess(),
	}
}

func TestBackendContract(t *testing.T) {
	for name, mem := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, mem.Store(ctx, "user_lang", "User prefers Go for backend services", CategoryCore, ""))
			require.NoError(t, mem.Store(ctx, "standup", "Daily standup moved to 10am", CategoryDaily, "s1"))
			require.NoError(t, mem.Store(ctx, "user_lang", "User prefers Go and Rust for backend services", CategoryCore, ""))
			require.Error(t, mem.Store(ctx, " ", "x", CategoryCore, ""))

			n, err := mem.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, n)

			entry, err := mem.Get(ctx, "user_lang")
			require.NoError(t, err)
			require.NotNil(t, entry)
			require.Contains(t, entry.Content, "Rust")

			missing, err := mem.Get(ctx, "nope")
			require.NoError(t, err)
			require.Nil(t, missing)

			recalled, err := mem.Recall(ctx, "backend go services", 5, "")
			require.NoError(t, err)
			require.Len(t, recalled, 1)
			require.Equal(t, "user_lang", recalled[0].Key)
			require.NotNil(t, recalled[0].Score)
			require.InDelta(t, 1.0, *recalled[0].Score, 0.001)

			daily, err := mem.List(ctx, CategoryDaily, "")
			require.NoError(t, err)
			require.Len(t, daily, 1)
			require.Equal(t, "s1", daily[0].SessionID)

			scoped, err := mem.Recall(ctx, "standup", 5, "other")
			require.NoError(t, err)
			require.Empty(t, scoped)

			removed, err := mem.Forget(ctx, "standup")
			require.NoError(t, err)
			require.True(t, removed)
			removed, err = mem.Forget(ctx, "standup")
			require.NoError(t, err)
			require.False(t, removed)

			require.True(t, mem.HealthCheck(ctx))
		})
	}
}

func TestInProcessConcurrentStore(t *testing.T) {
	m := NewInProcess()
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = m.Store(context.Background(), "same", "value", CategoryConversation, "")
		}()
	}
	wg.Wait()

	count, err := m.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestBuildContext(t *testing.T) {
	ctx := context.Background()
	mem := NewInProcess()
	require.NoError(t, mem.Store(ctx, "deploy", "Deploys run from the release branch", CategoryCore, ""))
	require.NoError(t, mem.Store(ctx, "pet", "User has a cat named Miso", CategoryCore, ""))

	got := BuildContext(ctx, mem, "how do deploys work on the release branch?", 0.4)
	require.Equal(t, "[Memory context]\n- deploy: Deploys run from the release branch\n\n", got)

	require.Empty(t, BuildContext(ctx, mem, "quantum chromodynamics", 0.4))
	require.Empty(t, BuildContext(ctx, mem, "  ", 0.4))
	require.Empty(t, BuildContext(ctx, nil, "deploy", 0.4))
}

func TestKeywords(t *testing.T) {
	require.Equal(t, []string{"hello", "world", "go"}, keywords("Hello, world! a Go hello"))
}

func TestNewSelectsBackend(t *testing.T) {
	workspace := t.TempDir()

	mem, err := New(config.MemoryConfig{Backend: "sqlite", Path: "data/memory.db"}, workspace, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "sqlite", mem.Name())
	require.FileExists(t, filepath.Join(workspace, "data", "memory.db"))
	require.NoError(t, mem.(*SQLite).Close())

	mem, err = New(config.MemoryConfig{Backend: "memory"}, workspace, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "memory", mem.Name())

	mem, err = New(config.MemoryConfig{Backend: "none"}, workspace, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "none", mem.Name())

	_, err = New(config.MemoryConfig{Backend: "plugin"}, workspace, nil, nil)
	require.Error(t, err)
	_, err = New(config.MemoryConfig{Backend: "plugin", Plugin: "vault"}, workspace, plugin.EmptyRegistry(), nil)
	require.ErrorContains(t, err, "not found")
	_, err = New(config.MemoryConfig{Backend: "redis"}, workspace, nil, nil)
	require.Error(t, err)
}

func TestPluginBackend(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := `req=$(cat)
case "$req" in
  *'"operation":"recall"'*) echo '{"ok":true,"data":[{"id":"1","key":"k","content":"remembered","category":"core","timestamp":"t","score":0.9}]}' ;;
  *'"operation":"get"'*) echo '{"ok":true,"data":null}' ;;
  *'"operation":"count"'*) echo '{"ok":true,"data":3}' ;;
  *'"operation":"forget"'*) echo '{"ok":true,"data":true}' ;;
  *'"operation":"health_check"'*) echo '{"ok":true,"data":true}' ;;
  *'"operation":"store"'*) echo '{"ok":true}' ;;
  *) echo '{"ok":false,"error":"nope"}' ;;
esac`
	mem := NewPlugin(plugin.Plugin{ID: "vault", Kind: plugin.KindMemory, Command: "sh", Args: []string{"-c", script}, TimeoutSecs: 5}, nil)
	ctx := context.Background()

	require.Equal(t, "plugin:vault", mem.Name())
	require.NoError(t, mem.Store(ctx, "k", "v", CategoryCore, ""))

	entries, err := mem.Recall(ctx, "anything", 5, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "remembered", entries[0].Content)

	entry, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, entry)

	n, err := mem.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	removed, err := mem.Forget(ctx, "k")
	require.NoError(t, err)
	require.True(t, removed)

	require.True(t, mem.HealthCheck(ctx))

	_, err = mem.List(ctx, "", "")
	require.ErrorContains(t, err, "memory plugin 'vault' failed 'list': nope")

	require.Equal(t, "[Memory context]\n- k: remembered\n\n", BuildContext(ctx, mem, "anything", 0.4))
}
