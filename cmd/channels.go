package cmd

import (
	"fmt"
	"log/slog"

	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/channel/discord"
	channelplugin "zeroclaw/pkg/channel/plugin"
	"zeroclaw/pkg/channel/slack"
	"zeroclaw/pkg/channel/telegram"
	"zeroclaw/pkg/config"
	"zeroclaw/pkg/logger"
	"zeroclaw/pkg/plugin"
)

// bootstrap is the state every command starts from.
type bootstrap struct {
	cfg     *config.Config
	log     *slog.Logger
	plugins *plugin.Registry
}

func loadBootstrap() (*bootstrap, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	plugins, err := plugin.NewRegistry(cfg.Plugins, cfg.WorkspaceDir(), appLogger)
	if err != nil {
		return nil, fmt.Errorf("load plugins: %w", err)
	}

	return &bootstrap{cfg: cfg, log: appLogger, plugins: plugins}, nil
}

// buildChannels constructs every enabled built-in channel followed by the
// channel plugins.
func buildChannels(cfg *config.Config, plugins *plugin.Registry, log *slog.Logger) (*channel.Registry, error) {
	registry := channel.NewRegistry()

	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		registry.Add(ch)
	}

	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, log)
		if err != nil {
			return nil, fmt.Errorf("configure discord channel: %w", err)
		}
		registry.Add(ch)
	}

	if cfg.Channels.Slack.Enabled {
		ch, err := slack.New(cfg.Channels.Slack, log)
		if err != nil {
			return nil, fmt.Errorf("configure slack channel: %w", err)
		}
		registry.Add(ch)
	}

	if plugins != nil {
		for _, p := range plugins.ByKind(plugin.KindChannel) {
			registry.Add(channelplugin.New(p, log))
		}
	}

	return registry, nil
}
