// Package profile holds the built-in system prompt and per-channel delivery
// notes.
package profile

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
)

//go:embed templates
var templatesFS embed.FS

const defaultProfile = "default"

// System returns the built-in system prompt for provider. opencode servers
// bring their own agent prompt, so they get "".
func System(provider string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(provider), "opencode") {
		return "", nil
	}
	content, err := templatesFS.ReadFile(path.Join("templates", defaultProfile+".md"))
	if err != nil {
		return "", fmt.Errorf("load %s profile: %w", defaultProfile, err)
	}
	body := strings.TrimSpace(string(content))
	if body == "" {
		return "", fmt.Errorf("profile %q is empty", defaultProfile)
	}
	return body, nil
}

var channelNotes = sync.OnceValue(func() map[string]string {
	notes := make(map[string]string)
	entries, err := fs.ReadDir(templatesFS, "templates/channels")
	if err != nil {
		return notes
	}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".md")
		if !ok {
			continue
		}
		content, err := templatesFS.ReadFile(path.Join("templates/channels", entry.Name()))
		if err != nil {
			continue
		}
		notes[name] = strings.TrimSpace(string(content))
	}
	return notes
})

// ChannelNote returns delivery guidance for a built-in channel, or "".
func ChannelNote(channel string) string {
	return channelNotes()[strings.ToLower(strings.TrimSpace(channel))]
}

// Channels lists the channels that carry a delivery note.
func Channels() []string {
	notes := channelNotes()
	names := make([]string, 0, len(notes))
	for name := range notes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
