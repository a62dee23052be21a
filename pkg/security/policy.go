// Package security holds the tool execution policy and the plugins that tune it.
package security

import (
	"errors"
	"fmt"
	"strings"

	"zeroclaw/pkg/config"
)

// Autonomy is how much the agent may do without a human in the loop.
type Autonomy string

const (
	AutonomyReadOnly   Autonomy = "read_only"
	AutonomySupervised Autonomy = "supervised"
	AutonomyFull       Autonomy = "full"
)

// ParseAutonomy maps a config value to an Autonomy, defaulting to supervised.
func ParseAutonomy(value string) Autonomy {
	switch Autonomy(strings.ToLower(strings.TrimSpace(value))) {
	case AutonomyReadOnly:
		return AutonomyReadOnly
	case AutonomyFull:
		return AutonomyFull
	default:
		return AutonomySupervised
	}
}

var (
	// ErrReadOnly is returned when a mutating tool runs under read-only autonomy.
	ErrReadOnly = errors.New("security policy is read-only")
	// ErrBudgetExhausted is returned when the hourly action budget is spent.
	ErrBudgetExhausted = errors.New("hourly action budget exhausted")
)

// Policy is the effective security policy after config and plugin overrides.
type Policy struct {
	Autonomy                     Autonomy
	WorkspaceOnly                bool
	AllowedCommands              []string
	ForbiddenPaths               []string
	AllowedRoots                 []string
	MaxActionsPerHour            int
	MaxCostPerDayCents           int
	RequireApprovalForMediumRisk bool
	BlockHighRiskCommands        bool
	ShellEnvPassthrough          []string
}

// FromConfig builds the built-in policy. Relative allowed roots resolve
// against workspaceDir.
func FromConfig(cfg config.SecurityConfig, workspaceDir string) Policy {
	p := Policy{
		Autonomy:                     ParseAutonomy(cfg.Autonomy),
		WorkspaceOnly:                cfg.WorkspaceOnly,
		AllowedCommands:              sanitizeList(cfg.AllowedCommands),
		ForbiddenPaths:               sanitizeList(cfg.ForbiddenPaths),
		MaxActionsPerHour:            cfg.MaxActionsPerHour,
		MaxCostPerDayCents:           cfg.MaxCostPerDayCents,
		RequireApprovalForMediumRisk: cfg.RequireApprovalForMediumRisk,
		BlockHighRiskCommands:        cfg.BlockHighRiskCommands,
		ShellEnvPassthrough:          sanitizeList(cfg.ShellEnvPassthrough),
	}
	p.AllowedRoots = normalizeRoots(cfg.AllowedRoots, workspaceDir)
	return p
}

// CheckTool reports whether a tool may run under the current autonomy level.
func (p Policy) CheckTool(name string, mutating bool) error {
	if mutating && p.Autonomy == AutonomyReadOnly {
		return fmt.Errorf("tool %q: %w", name, ErrReadOnly)
	}
	return nil
}

func sanitizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
