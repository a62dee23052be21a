package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/titanous/json5"
)

const (
	envConfigPath        = "ZEROCLAW_CONFIG"
	envWorkspace         = "ZEROCLAW_WORKSPACE"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envDiscordBotToken   = "DISCORD_BOT_TOKEN"
	envSlackBotToken     = "SLACK_BOT_TOKEN"
	envSlackAppToken     = "SLACK_APP_TOKEN"
)

const (
	DefaultMessageTimeoutSecs        = 300
	DefaultChannelInitialBackoffSecs = 2
	DefaultChannelMaxBackoffSecs     = 60
	DefaultMaxToolIterations         = 10
	DefaultDedupeTTLSecs             = 600
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	// Path is the file the config was loaded from; empty when defaults were used.
	Path string `json:"-"`

	Workspace   string            `json:"workspace"`
	Agents      AgentsConfig      `json:"agents"`
	Channels    ChannelsConfig    `json:"channels"`
	Providers   ProvidersConfig   `json:"providers"`
	Memory      MemoryConfig      `json:"memory"`
	Plugins     PluginsConfig     `json:"plugins"`
	Security    SecurityConfig    `json:"security"`
	Hooks       HooksConfig       `json:"hooks"`
	Reliability ReliabilityConfig `json:"reliability"`
	Gateway     GatewayConfig     `json:"gateway"`
	Logging     LoggingConfig     `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// AgentsConfig contains agent runtime defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults describes the default route and loop limits for channel conversations.
type AgentDefaults struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"`
	SystemPrompt      string  `json:"system_prompt"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Username              string `json:"username"`
	PasswordEnv           string `json:"password_env"`
	Agent                 string `json:"agent,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures OpenAI-compatible clients (openai and fantasy providers).
type OpenAIProviderConfig struct {
	APIKeyEnv             string `json:"api_key_env"`
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ChannelsConfig stores transport settings shared by all channels plus one block per network.
type ChannelsConfig struct {
	MessageTimeoutSecs int            `json:"message_timeout_secs"`
	Telegram           TelegramConfig `json:"telegram"`
	Discord            DiscordConfig  `json:"discord"`
	Slack              SlackConfig    `json:"slack"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled               bool     `json:"enabled"`
	Token                 string   `json:"token"`
	AllowFrom             []string `json:"allow_from"`
	InterruptOnNewMessage bool     `json:"interrupt_on_new_message"`
	StreamDrafts          bool     `json:"stream_drafts"`
	DraftUpdateIntervalMs int      `json:"draft_update_interval_ms"`
}

// DiscordConfig configures Discord channel integration.
type DiscordConfig struct {
	Enabled               bool     `json:"enabled"`
	Token                 string   `json:"token"`
	GuildID               string   `json:"guild_id"`
	AllowFrom             []string `json:"allow_from"`
	ListenToBots          bool     `json:"listen_to_bots"`
	MentionOnly           bool     `json:"mention_only"`
	InterruptOnNewMessage bool     `json:"interrupt_on_new_message"`
	StreamDrafts          bool     `json:"stream_drafts"`
	DraftUpdateIntervalMs int      `json:"draft_update_interval_ms"`
}

// SlackConfig configures Slack socket-mode integration.
type SlackConfig struct {
	Enabled               bool     `json:"enabled"`
	BotToken              string   `json:"bot_token"`
	AppToken              string   `json:"app_token"`
	ChannelID             string   `json:"channel_id"`
	AllowFrom             []string `json:"allow_from"`
	InterruptOnNewMessage bool     `json:"interrupt_on_new_message"`
	StreamDrafts          bool     `json:"stream_drafts"`
	DraftUpdateIntervalMs int      `json:"draft_update_interval_ms"`
}

// MemoryConfig selects the long-term memory backend.
type MemoryConfig struct {
	Backend           string  `json:"backend"`
	Path              string  `json:"path"`
	Plugin            string  `json:"plugin"`
	AutoSave          bool    `json:"auto_save"`
	MinRelevanceScore float64 `json:"min_relevance_score"`
}

// PluginsConfig controls out-of-process plugin discovery.
type PluginsConfig struct {
	Enabled           bool                        `json:"enabled"`
	Directory         string                      `json:"directory"`
	Registry          map[string]PluginDefinition `json:"registry"`
	InterruptChannels []string                    `json:"interrupt_channels"`
}

// PluginDefinition declares one plugin inline in the config file.
type PluginDefinition struct {
	Enabled     *bool             `json:"enabled,omitempty"`
	Kind        string            `json:"kind"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	TimeoutSecs int               `json:"timeout_secs"`
	// DraftUpdates lets a channel plugin receive streamed draft edits.
	DraftUpdates bool `json:"draft_updates,omitempty"`
}

// IsEnabled reports whether the definition is active; unset means enabled.
func (d PluginDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// SecurityConfig seeds the security policy before security plugins run.
type SecurityConfig struct {
	Autonomy                     string   `json:"autonomy"`
	WorkspaceOnly                bool     `json:"workspace_only"`
	AllowedCommands              []string `json:"allowed_commands"`
	ForbiddenPaths               []string `json:"forbidden_paths"`
	AllowedRoots                 []string `json:"allowed_roots"`
	MaxActionsPerHour            int      `json:"max_actions_per_hour"`
	MaxCostPerDayCents           int      `json:"max_cost_per_day_cents"`
	RequireApprovalForMediumRisk bool     `json:"require_approval_for_medium_risk"`
	BlockHighRiskCommands        bool     `json:"block_high_risk_commands"`
	ShellEnvPassthrough          []string `json:"shell_env_passthrough"`
	NonCLIExcludedTools          []string `json:"non_cli_excluded_tools"`
}

// HooksConfig enables message hooks.
type HooksConfig struct {
	Enabled bool               `json:"enabled"`
	Builtin BuiltinHooksConfig `json:"builtin"`
}

// BuiltinHooksConfig toggles hooks shipped with the gateway.
type BuiltinHooksConfig struct {
	MessageLogger bool `json:"message_logger"`
}

// ReliabilityConfig tunes listener restart backoff.
type ReliabilityConfig struct {
	ChannelInitialBackoffSecs int `json:"channel_initial_backoff_secs"`
	ChannelMaxBackoffSecs     int `json:"channel_max_backoff_secs"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	DedupeTTLSecs int    `json:"dedupe_ttl_secs"`
}

// RuntimeDefaults is the hot-reloadable subset of the config.
type RuntimeDefaults struct {
	Provider    string
	Model       string
	Temperature float64
}

// Default returns a config with every knob set to its built-in value.
func Default() *Config {
	return &Config{
		Workspace: ".",
		Agents: AgentsConfig{Defaults: AgentDefaults{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			Temperature:       0.7,
			MaxToolIterations: DefaultMaxToolIterations,
		}},
		Channels: ChannelsConfig{MessageTimeoutSecs: DefaultMessageTimeoutSecs},
		Memory: MemoryConfig{
			Backend:           "sqlite",
			Path:              "memory.db",
			AutoSave:          true,
			MinRelevanceScore: 0.4,
		},
		Security: SecurityConfig{
			Autonomy:                     "supervised",
			WorkspaceOnly:                true,
			MaxActionsPerHour:            20,
			MaxCostPerDayCents:           500,
			RequireApprovalForMediumRisk: true,
			BlockHighRiskCommands:        true,
		},
		Reliability: ReliabilityConfig{
			ChannelInitialBackoffSecs: DefaultChannelInitialBackoffSecs,
			ChannelMaxBackoffSecs:     DefaultChannelMaxBackoffSecs,
		},
		Gateway: GatewayConfig{Host: "127.0.0.1", Port: 18790, DedupeTTLSecs: DefaultDedupeTTLSecs},
	}
}

// LoadConfig resolves the config file, parses it over Default, and applies environment overrides.
//
// When no config file exists in the default locations the built-in defaults are used.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		cfg := Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	return LoadFile(configPath)
}

// LoadFile parses one config file (JSON5 accepted) over Default.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := json5.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.Path = path

	applyEnvOverrides(cfg)

	return cfg, nil
}

// RuntimeDefaults extracts the hot-reloadable route defaults.
func (c *Config) RuntimeDefaults() RuntimeDefaults {
	return RuntimeDefaults{
		Provider:    strings.TrimSpace(c.Agents.Defaults.Provider),
		Model:       strings.TrimSpace(c.Agents.Defaults.Model),
		Temperature: c.Agents.Defaults.Temperature,
	}
}

// WorkspaceDir returns the absolute workspace directory.
func (c *Config) WorkspaceDir() string {
	dir := strings.TrimSpace(c.Workspace)
	if dir == "" {
		dir = "."
	}
	if !filepath.IsAbs(dir) && c.Path != "" {
		dir = filepath.Join(filepath.Dir(c.Path), dir)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// ResolvePath joins relative paths onto the workspace directory.
func (c *Config) ResolvePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.WorkspaceDir(), path)
}

// MessageTimeout is the base per-message provider timeout.
func (c *Config) MessageTimeout() time.Duration {
	secs := c.Channels.MessageTimeoutSecs
	if secs <= 0 {
		secs = DefaultMessageTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

// ListenerBackoff returns the supervised-listener initial and maximum restart delay.
// Configured values never go below the built-in floors.
func (c *Config) ListenerBackoff() (time.Duration, time.Duration) {
	initial := max(c.Reliability.ChannelInitialBackoffSecs, DefaultChannelInitialBackoffSecs)
	maximum := max(c.Reliability.ChannelMaxBackoffSecs, DefaultChannelMaxBackoffSecs)
	maximum = max(maximum, initial)
	return time.Duration(initial) * time.Second, time.Duration(maximum) * time.Second
}

// DedupeTTL is how long inbound message ids are remembered.
func (c *Config) DedupeTTL() time.Duration {
	secs := c.Gateway.DedupeTTLSecs
	if secs <= 0 {
		secs = DefaultDedupeTTLSecs
	}
	return time.Duration(secs) * time.Second
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	envStr(envWorkspace, &cfg.Workspace)
	if envStr(envTelegramBotToken, &cfg.Channels.Telegram.Token) {
		cfg.Channels.Telegram.Enabled = true
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
	if envStr(envDiscordBotToken, &cfg.Channels.Discord.Token) {
		cfg.Channels.Discord.Enabled = true
	}
	slackBot := envStr(envSlackBotToken, &cfg.Channels.Slack.BotToken)
	slackApp := envStr(envSlackAppToken, &cfg.Channels.Slack.AppToken)
	if (slackBot || slackApp) && cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != "" {
		cfg.Channels.Slack.Enabled = true
	}
}

// envStr overwrites dst with a non-empty env value and reports whether it did.
func envStr(key string, dst *string) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return false
	}
	*dst = value
	return true
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is ZEROCLAW_CONFIG first, then cwd-local fallback paths. An empty
// path with a nil error means no file exists and defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}

	return "", nil
}
