package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"zeroclaw/pkg/config"
	providerfantasy "zeroclaw/pkg/provider/fantasy"
	provideropenai "zeroclaw/pkg/provider/openai"
	"zeroclaw/pkg/provider/opencode"
	providertypes "zeroclaw/pkg/provider/types"
)

// Provider is one language-model backend. Implementations are safe for
// concurrent use.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req providertypes.Request) (providertypes.Response, error)
	Warmup(ctx context.Context) error
}

// DefaultName is used when no provider is configured.
const DefaultName = provideropenai.Name

// New constructs the provider registered under name.
func New(name string, cfg *config.Config) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultName
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", name)

	switch name {
	case opencode.Name:
		return opencode.New(cfg.Providers.OpenCode)
	case provideropenai.Name:
		return provideropenai.New(cfg.Providers.OpenAI)
	case providerfantasy.Name:
		return providerfantasy.New(cfg.Providers.OpenAI, cfg.Agents.Defaults.Model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// Names lists the providers New can construct.
func Names() []string {
	return []string{provideropenai.Name, providerfantasy.Name, opencode.Name}
}
