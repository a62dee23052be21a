package security

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"zeroclaw/pkg/plugin"
)

const overridesOperation = "policy_overrides"

type policySnapshot struct {
	Autonomy                     Autonomy `json:"autonomy"`
	WorkspaceOnly                bool     `json:"workspace_only"`
	AllowedCommands              []string `json:"allowed_commands"`
	ForbiddenPaths               []string `json:"forbidden_paths"`
	AllowedRoots                 []string `json:"allowed_roots"`
	MaxActionsPerHour            int      `json:"max_actions_per_hour"`
	MaxCostPerDayCents           int      `json:"max_cost_per_day_cents"`
	RequireApprovalForMediumRisk bool     `json:"require_approval_for_medium_risk"`
	BlockHighRiskCommands        bool     `json:"block_high_risk_commands"`
	ShellEnvPassthrough          []string `json:"shell_env_passthrough"`
}

type policyOverrides struct {
	Autonomy                     *Autonomy `json:"autonomy"`
	WorkspaceOnly                *bool     `json:"workspace_only"`
	AllowedCommands              *[]string `json:"allowed_commands"`
	ForbiddenPaths               *[]string `json:"forbidden_paths"`
	AllowedRoots                 *[]string `json:"allowed_roots"`
	MaxActionsPerHour            *int      `json:"max_actions_per_hour"`
	MaxCostPerDayCents           *int      `json:"max_cost_per_day_cents"`
	RequireApprovalForMediumRisk *bool     `json:"require_approval_for_medium_risk"`
	BlockHighRiskCommands        *bool     `json:"block_high_risk_commands"`
	ShellEnvPassthrough          *[]string `json:"shell_env_passthrough"`
}

func snapshot(p Policy) policySnapshot {
	return policySnapshot{
		Autonomy:                     p.Autonomy,
		WorkspaceOnly:                p.WorkspaceOnly,
		AllowedCommands:              nonNil(p.AllowedCommands),
		ForbiddenPaths:               nonNil(p.ForbiddenPaths),
		AllowedRoots:                 nonNil(p.AllowedRoots),
		MaxActionsPerHour:            p.MaxActionsPerHour,
		MaxCostPerDayCents:           p.MaxCostPerDayCents,
		RequireApprovalForMediumRisk: p.RequireApprovalForMediumRisk,
		BlockHighRiskCommands:        p.BlockHighRiskCommands,
		ShellEnvPassthrough:          nonNil(p.ShellEnvPassthrough),
	}
}

// ApplyPlugins runs every security plugin in id order, each seeing the policy
// produced by the previous one. A failing plugin leaves the policy unchanged.
func ApplyPlugins(ctx context.Context, policy Policy, registry *plugin.Registry, workspaceDir string, log *slog.Logger) Policy {
	if registry == nil {
		return policy
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "security")

	for _, p := range registry.ByKind(plugin.KindSecurity) {
		var overrides policyOverrides
		if err := plugin.Invoke(ctx, p, plugin.KindSecurity, overridesOperation, snapshot(policy), &overrides); err != nil {
			log.Warn("Security plugin failed; keeping built-in policy defaults", "plugin_id", p.ID, "error", err)
			continue
		}
		policy = applyOverrides(policy, overrides, workspaceDir, log)
		log.Debug("security plugin applied", "plugin_id", p.ID, "autonomy", policy.Autonomy)
	}
	return policy
}

func applyOverrides(p Policy, o policyOverrides, workspaceDir string, log *slog.Logger) Policy {
	if o.Autonomy != nil {
		p.Autonomy = ParseAutonomy(string(*o.Autonomy))
	}
	if o.WorkspaceOnly != nil {
		p.WorkspaceOnly = *o.WorkspaceOnly
	}
	if o.AllowedCommands != nil {
		p.AllowedCommands = sanitizeList(*o.AllowedCommands)
	}
	if o.ForbiddenPaths != nil {
		p.ForbiddenPaths = sanitizeList(*o.ForbiddenPaths)
	}
	if o.AllowedRoots != nil {
		p.AllowedRoots = normalizeRoots(*o.AllowedRoots, workspaceDir)
	}
	if o.MaxActionsPerHour != nil {
		if *o.MaxActionsPerHour <= 0 {
			log.Warn("Security plugin returned max_actions_per_hour=0; ignoring override")
		} else {
			p.MaxActionsPerHour = *o.MaxActionsPerHour
		}
	}
	if o.MaxCostPerDayCents != nil {
		p.MaxCostPerDayCents = *o.MaxCostPerDayCents
	}
	if o.RequireApprovalForMediumRisk != nil {
		p.RequireApprovalForMediumRisk = *o.RequireApprovalForMediumRisk
	}
	if o.BlockHighRiskCommands != nil {
		p.BlockHighRiskCommands = *o.BlockHighRiskCommands
	}
	if o.ShellEnvPassthrough != nil {
		p.ShellEnvPassthrough = sanitizeList(*o.ShellEnvPassthrough)
	}
	return p
}

func normalizeRoots(roots []string, workspaceDir string) []string {
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		root = expandHome(root)
		if !filepath.IsAbs(root) {
			root = filepath.Join(workspaceDir, root)
		}
		out = append(out, root)
	}
	return out
}

// expandHome leaves the path alone when HOME is unset.
func expandHome(path string) string {
	home := os.Getenv("HOME")
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(home, rest)
	}
	return path
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
