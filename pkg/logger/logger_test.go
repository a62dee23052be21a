package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"zeroclaw/pkg/config"
)

func TestJSONEntryLiftsRoutingFields(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	require.NoError(t, err)

	log.With("component", "gateway.pipeline").Info("Message processed",
		"channel", "telegram",
		"request_id", "telegram:42",
		"sender", "alice",
		"ok", true,
	)

	entry := decodeEntry(t, out.String())
	require.Equal(t, "info", entry.Level)
	require.Equal(t, "Message processed", entry.Message)
	require.Equal(t, "gateway.pipeline", entry.Component)
	require.Equal(t, "telegram", entry.Channel)
	require.Equal(t, "telegram:42", entry.RequestID)
	require.NotEmpty(t, entry.Timestamp)
	require.Equal(t, map[string]any{"sender": "alice", "ok": true}, entry.Fields)
}

func TestJSONGroupedAttrsStayInFields(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json"}, &out)
	require.NoError(t, err)

	log.WithGroup("reply").Info("Sent", "channel", "slack", "error", errors.New("boom"))

	entry := decodeEntry(t, out.String())
	require.Empty(t, entry.Channel)
	require.Equal(t, "slack", entry.Fields["reply.channel"])
	require.Equal(t, "boom", entry.Fields["reply.error"])
}

func TestLevelFiltering(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	require.NoError(t, err)

	log.Info("Ignored")
	require.Empty(t, strings.TrimSpace(out.String()))

	log.Error("Kept")
	require.Equal(t, "error", decodeEntry(t, out.String()).Level)
}

func TestSecretsAreRedacted(t *testing.T) {
	clearLoggingEnv(t)

	for _, format := range []string{"json", "text"} {
		var out bytes.Buffer
		log, err := newWithWriter(config.LoggingConfig{Format: format, Level: "debug"}, &out)
		require.NoError(t, err)

		log.With("bot_token", "123:abc").Debug("Channel configured",
			"channel", "telegram",
			slog.Group("provider", "api_key", "sk-live-1"),
			"Authorization", "Bearer xyz",
		)

		text := out.String()
		require.NotContains(t, text, "123:abc", format)
		require.NotContains(t, text, "sk-live-1", format)
		require.NotContains(t, text, "Bearer xyz", format)
		require.Contains(t, text, redacted, format)
		require.Contains(t, text, "telegram", format)
	}
}

func TestEnvironmentOverridesConfig(t *testing.T) {
	clearLoggingEnv(t)
	t.Setenv(envLevel, "debug")
	t.Setenv(envFormat, "TEXT")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	require.NoError(t, err)

	log.Debug("Debug visible", "component", "cmd.gateway")
	text := out.String()
	require.Contains(t, text, "Debug visible")
	require.False(t, strings.HasPrefix(strings.TrimSpace(text), "{"), "expected text output, got %q", text)
}

func TestAddSourceFromEnvironment(t *testing.T) {
	clearLoggingEnv(t)
	t.Setenv(envAddSource, "yes")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json"}, &out)
	require.NoError(t, err)

	log.Info("With caller")
	require.Contains(t, decodeEntry(t, out.String()).Caller, "logger_test.go:")
}

func TestInvalidOptions(t *testing.T) {
	clearLoggingEnv(t)

	_, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{})
	require.EqualError(t, err, `unsupported log format "xml"`)

	_, err = newWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	require.EqualError(t, err, `unsupported log level "loud"`)

	t.Setenv(envLevel, "verbose")
	_, err = newWithWriter(config.LoggingConfig{Level: "info"}, &bytes.Buffer{})
	require.EqualError(t, err, `unsupported log level "verbose"`)
}

func decodeEntry(t *testing.T, output string) LogEntry {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.NotEmpty(t, lines[len(lines)-1], "expected log output")

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func clearLoggingEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envFormat, "")
	t.Setenv(envLevel, "")
	t.Setenv(envAddSource, "")
}
