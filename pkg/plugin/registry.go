package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"zeroclaw/pkg/config"
)

// DefaultTimeoutSecs applies when a plugin does not set timeout_secs.
const DefaultTimeoutSecs = 30

// Kind is the subsystem a plugin serves.
type Kind string

const (
	KindChannel  Kind = "channel"
	KindMemory   Kind = "memory"
	KindSecurity Kind = "security"
)

func (k Kind) valid() bool {
	switch k {
	case KindChannel, KindMemory, KindSecurity:
		return true
	default:
		return false
	}
}

// Plugin is one resolved, validated plugin definition.
type Plugin struct {
	ID          string
	Kind        Kind
	Command     string
	Args        []string
	Env         map[string]string
	TimeoutSecs int
	// DraftUpdates opts a channel plugin into streamed draft edits.
	DraftUpdates bool
	// Source is the manifest path, or "config" for inline definitions.
	Source string
}

// manifest is the on-disk plugin description in TOML, JSON or YAML.
type manifest struct {
	ID           string            `toml:"id" json:"id" yaml:"id"`
	Enabled      *bool             `toml:"enabled" json:"enabled" yaml:"enabled"`
	Kind         Kind              `toml:"kind" json:"kind" yaml:"kind"`
	Command      string            `toml:"command" json:"command" yaml:"command"`
	Args         []string          `toml:"args" json:"args" yaml:"args"`
	Env          map[string]string `toml:"env" json:"env" yaml:"env"`
	TimeoutSecs  *int              `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
	DraftUpdates bool              `toml:"draft_updates" json:"draft_updates" yaml:"draft_updates"`
}

// Registry holds resolved plugins keyed by normalized id.
type Registry struct {
	plugins map[string]Plugin
}

// EmptyRegistry returns a registry with no plugins.
func EmptyRegistry() *Registry {
	return &Registry{plugins: map[string]Plugin{}}
}

// NewRegistry loads manifests from cfg.Directory (relative to workspaceDir)
// and then inline registry entries, which override manifests with the same id.
func NewRegistry(cfg config.PluginsConfig, workspaceDir string, log *slog.Logger) (*Registry, error) {
	if !cfg.Enabled {
		return EmptyRegistry(), nil
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "plugin")

	plugins := make(map[string]Plugin)

	if dir := strings.TrimSpace(cfg.Directory); dir != "" {
		loaded, err := loadManifests(resolveDir(dir, workspaceDir), log)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			plugins[normalizeID(p.ID)] = p
		}
	}

	ids := make([]string, 0, len(cfg.Registry))
	for id := range cfg.Registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		def := cfg.Registry[id]
		if !def.IsEnabled() {
			continue
		}
		timeout := def.TimeoutSecs
		if timeout == 0 {
			timeout = DefaultTimeoutSecs
		}
		p := Plugin{
			ID:           strings.TrimSpace(id),
			Kind:         Kind(strings.ToLower(strings.TrimSpace(def.Kind))),
			Command:      strings.TrimSpace(def.Command),
			Args:         def.Args,
			Env:          def.Env,
			TimeoutSecs:  timeout,
			DraftUpdates: def.DraftUpdates,
			Source:       "config",
		}
		if err := validate(p, def.Command); err != nil {
			return nil, fmt.Errorf("invalid plugins.registry.%s definition: %w", id, err)
		}
		plugins[normalizeID(id)] = p
	}

	log.Debug("Plugin registry loaded", "total", len(plugins))
	return &Registry{plugins: plugins}, nil
}

// Get looks a plugin up by case-insensitive id.
func (r *Registry) Get(id string) (Plugin, bool) {
	p, ok := r.plugins[normalizeID(id)]
	return p, ok
}

// Memory returns the plugin only when it is a memory plugin.
func (r *Registry) Memory(id string) (Plugin, bool) {
	p, ok := r.Get(id)
	if !ok || p.Kind != KindMemory {
		return Plugin{}, false
	}
	return p, true
}

// IDsByKind returns the ids of plugins of kind, sorted.
func (r *Registry) IDsByKind(kind Kind) []string {
	var ids []string
	for _, p := range r.plugins {
		if p.Kind == kind {
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// ByKind returns plugins of kind sorted by id.
func (r *Registry) ByKind(kind Kind) []Plugin {
	ids := r.IDsByKind(kind)
	out := make([]Plugin, 0, len(ids))
	for _, id := range ids {
		p, _ := r.Get(id)
		out = append(out, p)
	}
	return out
}

func (r *Registry) Total() int {
	return len(r.plugins)
}

func resolveDir(dir, workspaceDir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(workspaceDir, dir)
}

func loadManifests(dir string, log *slog.Logger) ([]Plugin, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("Plugin directory does not exist; skipping manifest discovery", "path", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin directory %q: %w", dir, err)
	}

	var loaded []Plugin
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

		m, ok, err := parseManifest(path, ext)
		if !ok {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("parse plugin manifest %q: %w", path, err)
		}
		if m.Enabled != nil && !*m.Enabled {
			continue
		}

		id := strings.TrimSpace(m.ID)
		if id == "" {
			id = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		timeout := DefaultTimeoutSecs
		if m.TimeoutSecs != nil {
			timeout = *m.TimeoutSecs
		}

		p := Plugin{
			ID:           id,
			Kind:         Kind(strings.ToLower(strings.TrimSpace(string(m.Kind)))),
			Command:      strings.TrimSpace(m.Command),
			Args:         m.Args,
			Env:          m.Env,
			TimeoutSecs:  timeout,
			DraftUpdates: m.DraftUpdates,
			Source:       path,
		}
		if err := validate(p, m.Command); err != nil {
			return nil, fmt.Errorf("invalid plugin manifest %q: %w", path, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// parseManifest reports ok=false for files that are not manifests.
func parseManifest(path, ext string) (manifest, bool, error) {
	var m manifest
	switch ext {
	case "toml", "json", "yaml", "yml":
	default:
		return m, false, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return m, true, fmt.Errorf("read file: %w", err)
	}

	switch ext {
	case "toml":
		if _, err := toml.Decode(string(content), &m); err != nil {
			return m, true, fmt.Errorf("invalid TOML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(content, &m); err != nil {
			return m, true, fmt.Errorf("invalid JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(content, &m); err != nil {
			return m, true, fmt.Errorf("invalid YAML: %w", err)
		}
	}
	return m, true, nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func validID(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func validate(p Plugin, rawCommand string) error {
	if !validID(p.ID) {
		return fmt.Errorf("invalid plugin ID '%s'; use only letters, digits, '-' or '_'", p.ID)
	}
	if !p.Kind.valid() {
		return fmt.Errorf("plugin kind %q must be one of channel, memory, security", p.Kind)
	}
	if strings.TrimSpace(rawCommand) == "" {
		return errors.New("plugin command must not be empty")
	}
	for i, arg := range p.Args {
		if strings.TrimSpace(arg) == "" {
			return fmt.Errorf("plugin args[%d] must not be empty", i)
		}
	}
	if p.TimeoutSecs <= 0 {
		return errors.New("plugin timeout_secs must be greater than 0")
	}
	return nil
}
