package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"zeroclaw/pkg/agent"
	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/config"
	"zeroclaw/pkg/hooks"
	"zeroclaw/pkg/memory"
	"zeroclaw/pkg/provider"
	providertypes "zeroclaw/pkg/provider/types"
	"zeroclaw/pkg/security"
)

// ProviderFactory builds the provider registered under name.
type ProviderFactory func(name string) (provider.Provider, error)

// Route is the provider and model one conversation talks to.
type Route struct {
	Provider string
	Model    string
}

// RuntimeOptions wires a RuntimeContext.
type RuntimeOptions struct {
	Channels        *channel.Registry
	Bus             *bus.MessageBus
	Memory          memory.Memory
	Tools           *agent.Registry
	Guard           *security.Guard
	Hooks           *hooks.Runner
	ProviderFactory ProviderFactory
	Defaults        config.RuntimeDefaults

	SystemPrompt        string
	MaxTokens           int
	MaxToolIterations   int
	MessageTimeout      time.Duration
	AutoSave            bool
	MinRelevanceScore   float64
	NonCLIExcludedTools []string
	// InterruptChannels lists channel names where a newer message from the
	// same sender cancels the one in flight.
	InterruptChannels []string

	Log *slog.Logger
}

// OptionsFromConfig fills the scalar knobs of RuntimeOptions from cfg.
func OptionsFromConfig(cfg *config.Config) RuntimeOptions {
	return RuntimeOptions{
		Defaults:            cfg.RuntimeDefaults(),
		SystemPrompt:        cfg.Agents.Defaults.SystemPrompt,
		MaxTokens:           cfg.Agents.Defaults.MaxTokens,
		MaxToolIterations:   cfg.Agents.Defaults.MaxToolIterations,
		MessageTimeout:      cfg.MessageTimeout(),
		AutoSave:            cfg.Memory.AutoSave,
		MinRelevanceScore:   cfg.Memory.MinRelevanceScore,
		NonCLIExcludedTools: cfg.Security.NonCLIExcludedTools,
		InterruptChannels:   InterruptChannels(cfg),
		ProviderFactory: func(name string) (provider.Provider, error) {
			return provider.New(name, cfg)
		},
	}
}

// InterruptChannels returns the channel names with interruption enabled.
func InterruptChannels(cfg *config.Config) []string {
	var names []string
	if cfg.Channels.Telegram.InterruptOnNewMessage {
		names = append(names, "telegram")
	}
	if cfg.Channels.Discord.InterruptOnNewMessage {
		names = append(names, "discord")
	}
	if cfg.Channels.Slack.InterruptOnNewMessage {
		names = append(names, "slack")
	}
	for _, id := range cfg.Plugins.InterruptChannels {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if !strings.HasPrefix(id, "plugin:") {
			id = "plugin:" + id
		}
		names = append(names, id)
	}
	return names
}

// RuntimeContext is the state shared by every message worker: channels,
// provider cache, conversation histories and route selection. Each piece has
// its own lock so unrelated conversations never contend.
type RuntimeContext struct {
	channels    *channel.Registry
	bus         *bus.MessageBus
	memory      memory.Memory
	tools       *agent.Registry
	guard       *security.Guard
	hooks       *hooks.Runner
	newProvider ProviderFactory
	log         *slog.Logger

	systemPrompt        string
	maxTokens           int
	maxToolIterations   int
	messageTimeout      time.Duration
	autoSave            bool
	minRelevanceScore   float64
	nonCLIExcludedTools []string
	interrupt           map[string]bool

	histories *historyStore

	providersMu sync.Mutex
	providers   map[string]provider.Provider

	routesMu sync.RWMutex
	defaults config.RuntimeDefaults
	routes   map[string]Route
}

func NewRuntimeContext(opts RuntimeOptions) *RuntimeContext {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	channels := opts.Channels
	if channels == nil {
		channels = channel.NewRegistry()
	}
	mem := opts.Memory
	if mem == nil {
		mem = memory.None{}
	}
	tools := opts.Tools
	if tools == nil {
		tools = agent.NewRegistry()
	}
	timeout := opts.MessageTimeout
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultMessageTimeoutSecs) * time.Second
	}

	interrupt := make(map[string]bool, len(opts.InterruptChannels))
	for _, name := range opts.InterruptChannels {
		interrupt[strings.ToLower(name)] = true
	}

	defaults := opts.Defaults
	if defaults.Provider == "" {
		defaults.Provider = provider.DefaultName
	}

	return &RuntimeContext{
		channels:            channels,
		bus:                 opts.Bus,
		memory:              mem,
		tools:               tools,
		guard:               opts.Guard,
		hooks:               opts.Hooks,
		newProvider:         opts.ProviderFactory,
		log:                 log.With("component", "gateway.pipeline"),
		systemPrompt:        opts.SystemPrompt,
		maxTokens:           opts.MaxTokens,
		maxToolIterations:   max(opts.MaxToolIterations, 1),
		messageTimeout:      timeout,
		autoSave:            opts.AutoSave,
		minRelevanceScore:   opts.MinRelevanceScore,
		nonCLIExcludedTools: opts.NonCLIExcludedTools,
		interrupt:           interrupt,
		histories:           newHistoryStore(),
		providers:           make(map[string]provider.Provider),
		defaults:            defaults,
		routes:              make(map[string]Route),
	}
}

// InterruptEnabled reports whether a newer message cancels the one in flight
// on channelName.
func (rc *RuntimeContext) InterruptEnabled(channelName string) bool {
	return rc.interrupt[strings.ToLower(channelName)]
}

// SeedProvider caches an already constructed provider.
func (rc *RuntimeContext) SeedProvider(p provider.Provider) {
	rc.providersMu.Lock()
	defer rc.providersMu.Unlock()
	rc.providers[p.Name()] = p
}

// providerFor returns the cached provider for name, constructing it on first use.
func (rc *RuntimeContext) providerFor(name string) (provider.Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	rc.providersMu.Lock()
	defer rc.providersMu.Unlock()

	if p, ok := rc.providers[name]; ok {
		return p, nil
	}
	if rc.newProvider == nil {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	p, err := rc.newProvider(name)
	if err != nil {
		return nil, err
	}
	rc.providers[name] = p
	return p, nil
}

// SetDefaults swaps the hot-reloadable route defaults.
func (rc *RuntimeContext) SetDefaults(d config.RuntimeDefaults) {
	rc.routesMu.Lock()
	defer rc.routesMu.Unlock()
	if d.Provider == "" {
		d.Provider = provider.DefaultName
	}
	if d != rc.defaults {
		rc.log.Info("Runtime defaults updated", "provider", d.Provider, "model", d.Model, "temperature", d.Temperature)
	}
	rc.defaults = d
}

func (rc *RuntimeContext) Defaults() config.RuntimeDefaults {
	rc.routesMu.RLock()
	defer rc.routesMu.RUnlock()
	return rc.defaults
}

// Route returns the route for a conversation: its override, with blanks
// filled from the runtime defaults.
func (rc *RuntimeContext) Route(key string) Route {
	rc.routesMu.RLock()
	defer rc.routesMu.RUnlock()

	route := rc.routes[key]
	if route.Provider == "" {
		route.Provider = rc.defaults.Provider
	}
	if route.Model == "" {
		route.Model = rc.defaults.Model
	}
	return route
}

func (rc *RuntimeContext) setRoute(key string, route Route) {
	rc.routesMu.Lock()
	defer rc.routesMu.Unlock()
	rc.routes[key] = route
}

// History returns a copy of one conversation's turns.
func (rc *RuntimeContext) History(key string) []providertypes.ChatMessage {
	return rc.histories.Snapshot(key)
}

func (rc *RuntimeContext) buildSystemPrompt(providerName, channelName string, tools []agent.Tool) string {
	prompt, err := agent.BuildSystemPrompt(rc.systemPrompt, providerName, channelName, tools)
	if err != nil {
		rc.log.Warn("Failed to resolve system profile; using configured prompt", "provider", providerName, "error", err)
		return rc.systemPrompt
	}
	return prompt
}

func (rc *RuntimeContext) publish(ctx context.Context, event bus.Event) {
	if rc.bus == nil {
		return
	}
	rc.bus.PublishEvent(context.WithoutCancel(ctx), event)
}
