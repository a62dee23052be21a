// Package fs performs the bounded file operations behind the agent's file tools.
package fs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"zeroclaw/pkg/workspace"
)

const (
	MaxReadBytes      = 256 * 1024
	MaxWriteBytes     = 1024 * 1024
	MaxListEntries    = 500
	MaxOperationDelay = 10 * time.Second
)

// Service runs file operations on paths the workspace guard permits.
type Service struct {
	guard          *workspace.Guard
	maxReadBytes   int
	maxWriteBytes  int
	maxListEntries int
	maxDuration    time.Duration
}

type ReadResult struct {
	Path    string
	Content string
}

type ListEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

type ListResult struct {
	Path      string
	Entries   []ListEntry
	Truncated bool
	Total     int
}

type EditResult struct {
	Path     string
	Replaced int
}

func NewService(guard *workspace.Guard) *Service {
	return &Service{
		guard:          guard,
		maxReadBytes:   MaxReadBytes,
		maxWriteBytes:  MaxWriteBytes,
		maxListEntries: MaxListEntries,
		maxDuration:    MaxOperationDelay,
	}
}

// Guard returns the guard paths are checked against.
func (s *Service) Guard() *workspace.Guard {
	return s.guard
}

func (s *Service) ReadFile(ctx context.Context, path string) (ReadResult, error) {
	ctx, cancel := s.operation(ctx)
	defer cancel()

	resolved, err := s.resolve(ctx, path)
	if err != nil {
		return ReadResult{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ReadResult{}, workspace.NormalizeIOError(err, "stat failed")
	}
	if info.IsDir() {
		return ReadResult{}, workspace.NewError(workspace.ErrorInvalidPath, "path is a directory")
	}
	if info.Size() > int64(s.maxReadBytes) {
		return ReadResult{}, workspace.NewError(workspace.ErrorIO, fmt.Sprintf("file exceeds %d bytes", s.maxReadBytes))
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return ReadResult{}, workspace.NormalizeIOError(err, "read failed")
	}
	if err := ensureText(content); err != nil {
		return ReadResult{}, err
	}
	return ReadResult{Path: resolved, Content: string(content)}, nil
}

// WriteFile replaces path with content, creating parent directories.
func (s *Service) WriteFile(ctx context.Context, path, content string) (string, error) {
	ctx, cancel := s.operation(ctx)
	defer cancel()

	if len(content) > s.maxWriteBytes {
		return "", workspace.NewError(workspace.ErrorIO, fmt.Sprintf("content exceeds %d bytes", s.maxWriteBytes))
	}
	resolved, err := s.resolve(ctx, path)
	if err != nil {
		return "", err
	}
	if err := s.write(resolved, []byte(content)); err != nil {
		return "", err
	}
	return resolved, nil
}

// EditFile replaces oldText with newText. Without replaceAll the text must
// occur exactly once.
func (s *Service) EditFile(ctx context.Context, path, oldText, newText string, replaceAll bool) (EditResult, error) {
	if oldText == "" {
		return EditResult{}, workspace.NewError(workspace.ErrorInvalidPath, "old_text must not be empty")
	}

	read, err := s.ReadFile(ctx, path)
	if err != nil {
		return EditResult{}, err
	}

	matches := strings.Count(read.Content, oldText)
	switch {
	case matches == 0:
		return EditResult{}, workspace.NewError(workspace.ErrorEditNotFound, "old_text not found")
	case matches > 1 && !replaceAll:
		return EditResult{}, workspace.NewError(workspace.ErrorAmbiguousEdit, fmt.Sprintf("old_text matched %d locations", matches))
	}

	limit := 1
	if replaceAll {
		limit = -1
	}
	updated := strings.Replace(read.Content, oldText, newText, limit)
	if len(updated) > s.maxWriteBytes {
		return EditResult{}, workspace.NewError(workspace.ErrorIO, fmt.Sprintf("content exceeds %d bytes", s.maxWriteBytes))
	}
	if err := s.write(read.Path, []byte(updated)); err != nil {
		return EditResult{}, err
	}

	replaced := 1
	if replaceAll {
		replaced = matches
	}
	return EditResult{Path: read.Path, Replaced: replaced}, nil
}

// ListDir lists a directory sorted by name, truncated to the entry limit.
func (s *Service) ListDir(ctx context.Context, path string) (ListResult, error) {
	ctx, cancel := s.operation(ctx)
	defer cancel()

	if strings.TrimSpace(path) == "" {
		path = "."
	}
	resolved, err := s.resolve(ctx, path)
	if err != nil {
		return ListResult{}, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ListResult{}, workspace.NormalizeIOError(err, "list directory failed")
	}

	result := ListResult{Path: resolved, Total: len(entries)}
	if len(entries) > s.maxListEntries {
		entries = entries[:s.maxListEntries]
		result.Truncated = true
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return ListResult{}, workspace.NormalizeIOError(err, "read directory metadata failed")
		}
		result.Entries = append(result.Entries, ListEntry{Name: entry.Name(), IsDir: entry.IsDir(), Size: info.Size()})
	}
	return result, nil
}

func (s *Service) resolve(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", workspace.NewError(workspace.ErrorIO, err.Error())
	}
	return s.guard.ResolvePath(path)
}

func (s *Service) write(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	} else if !os.IsNotExist(err) {
		return workspace.NormalizeIOError(err, "stat failed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return workspace.NormalizeIOError(err, "create parent directory failed")
	}
	// Parents may be symlinks created between resolve and write.
	if err := s.guard.EnsureContained(path); err != nil {
		return err
	}
	if err := atomicWrite(path, data, mode); err != nil {
		return workspace.NormalizeIOError(err, "write failed")
	}
	return nil
}

func (s *Service) operation(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.maxDuration <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.maxDuration)
}

func ensureText(content []byte) error {
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return workspace.NewError(workspace.ErrorIO, "file appears to be binary or invalid utf-8")
	}
	return nil
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".zeroclaw-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	committed = true
	return nil
}
