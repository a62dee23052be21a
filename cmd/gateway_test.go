package cmd

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/agent"
	"zeroclaw/pkg/config"
	"zeroclaw/pkg/memory"
	"zeroclaw/pkg/plugin"
	"zeroclaw/pkg/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildChannelsEmptyConfig(t *testing.T) {
	t.Parallel()

	registry, err := buildChannels(config.Default(), plugin.EmptyRegistry(), discardLogger())
	require.NoError(t, err)
	require.Zero(t, registry.Len())
}

func TestBuildChannelsBuiltinsAndPlugins(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Channels.Telegram = config.TelegramConfig{Enabled: true, Token: "123:abc"}
	cfg.Channels.Discord = config.DiscordConfig{Enabled: true, Token: "discord-token"}
	cfg.Channels.Slack = config.SlackConfig{Enabled: true, BotToken: "xoxb-1", AppToken: "xapp-1"}
	cfg.Plugins = config.PluginsConfig{
		Enabled: true,
		Registry: map[string]config.PluginDefinition{
			"sms":   {Kind: "channel", Command: "sms-bridge"},
			"vault": {Kind: "memory", Command: "vault-memory"},
		},
	}

	plugins, err := plugin.NewRegistry(cfg.Plugins, t.TempDir(), discardLogger())
	require.NoError(t, err)

	registry, err := buildChannels(cfg, plugins, discardLogger())
	require.NoError(t, err)
	require.Equal(t, []string{"discord", "plugin:sms", "slack", "telegram"}, registry.Names())
}

func TestBuildChannelsRejectsInvalidChannel(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Channels.Slack = config.SlackConfig{Enabled: true, BotToken: "xoxb-1"}

	_, err := buildChannels(cfg, nil, discardLogger())
	require.EqualError(t, err, "configure slack channel: channels.slack.app_token is required")
}

func TestRunGatewayRequiresAChannel(t *testing.T) {
	t.Parallel()

	boot := &bootstrap{cfg: config.Default(), log: discardLogger(), plugins: plugin.EmptyRegistry()}
	err := runGateway(context.Background(), boot)
	require.EqualError(t, err, "no channels are enabled")
}

func TestBuildToolsRegistersMemoryAndFileTools(t *testing.T) {
	t.Parallel()

	policy := security.FromConfig(config.Default().Security, t.TempDir())
	registry, err := buildTools(memory.NewInProcess(), policy, t.TempDir())
	require.NoError(t, err)

	names := agent.ToolNames(registry.ForChannel("slack", nil))
	require.Equal(t, []string{
		"memory_store", "memory_recall", "memory_forget",
		"read_file", "write_file", "edit_file", "list_dir",
	}, names)
}
