// Package workspace confines file tool paths to the areas the security policy
// allows.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const defaultWorkspaceDirName = ".zeroclaw/workspace"

// Scope describes where file tools may operate.
type Scope struct {
	Root string
	// WorkspaceOnly confines paths to Root and AllowedRoots.
	WorkspaceOnly bool
	// AllowedRoots extend the workspace when WorkspaceOnly is set. Relative
	// entries resolve against Root.
	AllowedRoots []string
	// ForbiddenPaths are denied even inside the workspace.
	ForbiddenPaths []string
}

// Guard resolves tool paths and rejects those outside the scope.
type Guard struct {
	root          string
	workspaceOnly bool
	allowed       []string
	forbidden     []string
}

// NewGuard resolves scope.Root, creating it when missing, and canonicalizes
// every allowed and forbidden path.
func NewGuard(scope Scope) (*Guard, error) {
	root, err := ResolveRoot(scope.Root)
	if err != nil {
		return nil, err
	}

	g := &Guard{root: root, workspaceOnly: scope.WorkspaceOnly, allowed: []string{root}}
	for _, p := range scope.AllowedRoots {
		resolved, err := g.canonicalScopePath(p)
		if err != nil {
			return nil, fmt.Errorf("allowed root %q: %w", p, err)
		}
		if resolved != "" && !slices.Contains(g.allowed, resolved) {
			g.allowed = append(g.allowed, resolved)
		}
	}
	for _, p := range scope.ForbiddenPaths {
		resolved, err := g.canonicalScopePath(p)
		if err != nil {
			return nil, fmt.Errorf("forbidden path %q: %w", p, err)
		}
		if resolved != "" {
			g.forbidden = append(g.forbidden, resolved)
		}
	}
	return g, nil
}

// ResolveRoot normalizes a workspace path and creates the directory when missing.
// An empty path selects ~/.zeroclaw/workspace.
func ResolveRoot(workspacePath string) (string, error) {
	trimmed := strings.TrimSpace(workspacePath)
	if trimmed == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(homeDir, defaultWorkspaceDirName)
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute workspace path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return "", NormalizeIOError(err, "resolve workspace root")
	}
	return filepath.Clean(resolved), nil
}

// Root returns the canonical workspace root.
func (g *Guard) Root() string {
	if g == nil {
		return ""
	}
	return g.root
}

// ResolvePath turns a tool-supplied path into a canonical absolute path the
// scope permits. Relative paths resolve against the root.
func (g *Guard) ResolvePath(inputPath string) (string, error) {
	if g == nil {
		return "", NewError(ErrorIO, "workspace guard is nil")
	}

	trimmed := strings.TrimSpace(inputPath)
	if trimmed == "" {
		return "", NewError(ErrorInvalidPath, "path must not be empty")
	}

	candidate, err := g.absolute(trimmed)
	if err != nil {
		return "", err
	}
	effective, err := canonicalPath(candidate)
	if err != nil {
		return "", err
	}
	if err := g.permit(effective); err != nil {
		return "", err
	}
	return effective, nil
}

// EnsureContained re-checks a resolved path right before a write, after
// parent directories may have been created.
func (g *Guard) EnsureContained(path string) error {
	effective, err := canonicalPath(path)
	if err != nil {
		return err
	}
	return g.permit(effective)
}

// RelPath returns path relative to the root when it lies inside it.
func (g *Guard) RelPath(path string) string {
	if g == nil || !isWithin(g.root, path) {
		return filepath.Clean(path)
	}
	rel, err := filepath.Rel(g.root, path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(rel)
}

func (g *Guard) permit(path string) error {
	for _, f := range g.forbidden {
		if isWithin(f, path) {
			return NewError(ErrorForbiddenPath, "path is forbidden by security policy")
		}
	}
	if !g.workspaceOnly {
		return nil
	}
	for _, root := range g.allowed {
		if isWithin(root, path) {
			return nil
		}
	}
	return NewError(ErrorOutsideWorkspace, "resolved path escapes workspace")
}

func (g *Guard) absolute(path string) (string, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(g.root, expanded)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", NewError(ErrorInvalidPath, "path could not be resolved")
	}
	return filepath.Clean(abs), nil
}

func (g *Guard) canonicalScopePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	abs, err := g.absolute(path)
	if err != nil {
		return "", err
	}
	return canonicalPath(abs)
}

// canonicalPath evaluates symlinks. For paths that do not exist yet, the
// nearest existing ancestor is evaluated and the rest appended.
func canonicalPath(path string) (string, error) {
	evaluated, err := filepath.EvalSymlinks(path)
	if err == nil {
		return filepath.Clean(evaluated), nil
	}
	if !os.IsNotExist(err) {
		return "", NormalizeIOError(err, "resolve path")
	}

	parent, remainder, err := nearestExistingParent(path)
	if err != nil {
		return "", err
	}
	evaluatedParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", NormalizeIOError(err, "resolve path")
	}
	return filepath.Clean(filepath.Join(evaluatedParent, remainder)), nil
}

func nearestExistingParent(path string) (string, string, error) {
	current := filepath.Clean(path)
	var missing []string

	for {
		if _, err := os.Lstat(current); err == nil {
			slices.Reverse(missing)
			return current, filepath.Join(missing...), nil
		}
		next := filepath.Dir(current)
		if next == current {
			return "", "", NewError(ErrorInvalidPath, "path could not be resolved")
		}
		missing = append(missing, filepath.Base(current))
		current = next
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func isWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
