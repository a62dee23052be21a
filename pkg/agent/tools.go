package agent

import (
	"context"
	"slices"
	"strings"
)

// Tool is one action the model can invoke through a tool-call block.
type Tool interface {
	Name() string
	Description() string
	// Parameters describes the accepted arguments as a JSON example.
	Parameters() string
	// Mutating tools change state and are subject to the security policy.
	Mutating() bool
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds tools by name in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// ForChannel returns the tools available on channel. The excluded list never
// applies to the local cli channel.
func (r *Registry) ForChannel(channel string, excluded []string) []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		if channel != "cli" && slices.ContainsFunc(excluded, func(e string) bool {
			return strings.EqualFold(strings.TrimSpace(e), name)
		}) {
			continue
		}
		out = append(out, r.tools[name])
	}
	return out
}

// ToolNames returns the names of tools.
func ToolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}
