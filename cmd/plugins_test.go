package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/config"
	"zeroclaw/pkg/plugin"
)

func TestRenderPluginsGroupsByKind(t *testing.T) {
	t.Parallel()

	registry, err := plugin.NewRegistry(config.PluginsConfig{
		Enabled: true,
		Registry: map[string]config.PluginDefinition{
			"sms":   {Kind: "channel", Command: "sms-bridge", Args: []string{"--port", "9000"}},
			"guard": {Kind: "security", Command: "policy-check", TimeoutSecs: 5},
		},
	}, t.TempDir(), discardLogger())
	require.NoError(t, err)

	var out bytes.Buffer
	renderPlugins(&out, registry)

	text := out.String()
	require.Contains(t, text, "2 plugin(s) loaded")
	require.Contains(t, text, "sms-bridge --port 9000")
	require.Contains(t, text, "(config, 30s)")
	require.Contains(t, text, "(config, 5s)")
	require.NotContains(t, text, "memory")
	require.Less(t, bytes.Index(out.Bytes(), []byte("channel")), bytes.Index(out.Bytes(), []byte("security")))
}
