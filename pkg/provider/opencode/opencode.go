// Package opencode talks to an opencode server through its Go SDK.
package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"zeroclaw/pkg/config"
	providertypes "zeroclaw/pkg/provider/types"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
)

const (
	Name = "opencode"

	sessionTitle    = "zeroclaw"
	defaultUsername = "opencode"
)

// Client is safe for concurrent use; every Chat runs in its own server session.
type Client struct {
	client  *sdk.Client
	timeout time.Duration
	agent   string
}

type healthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

// New builds a client for the server at cfg.BaseURL.
func New(cfg config.OpenCodeProviderConfig) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if header, ok := basicAuth(cfg); ok {
		opts = append(opts, option.WithHeader("Authorization", header))
	}

	return &Client{
		client:  sdk.NewClient(opts...),
		timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		agent:   strings.TrimSpace(cfg.Agent),
	}, nil
}

func (c *Client) Name() string {
	return Name
}

// Warmup checks the server health endpoint.
func (c *Client) Warmup(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	op := startOperation("warmup")

	var health healthResponse
	if err := c.client.Get(ctx, "/global/health", nil, &health); err != nil {
		op.failed(err)
		return fmt.Errorf("health check failed: %w", err)
	}
	if !health.Healthy {
		op.failed(errors.New("server unhealthy"))
		return errors.New("opencode server reported unhealthy status")
	}
	op.completed("version", health.Version)
	return nil
}

// Chat opens a fresh session and sends the conversation as one prompt. The
// gateway owns history, so sessions are never reused.
func (c *Client) Chat(ctx context.Context, req providertypes.Request) (providertypes.Response, error) {
	instructions, transcript := splitTranscript(req.Messages)
	if transcript == "" {
		return providertypes.Response{}, errors.New("prompt is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	op := startOperation("chat")

	session, err := c.client.Session.New(ctx, sdk.SessionNewParams{Title: sdk.F(sessionTitle)})
	if err != nil {
		op.failed(err)
		return providertypes.Response{}, fmt.Errorf("create session failed: %w", err)
	}
	if session.ID == "" {
		op.failed(errors.New("empty session id"))
		return providertypes.Response{}, errors.New("create session returned empty session id")
	}

	params := c.promptParams(instructions, transcript, req.Model)
	op.log.Debug("Prompting session", "session_id", session.ID, "model", strings.TrimSpace(req.Model), "prompt_length", len(transcript))

	response, err := c.client.Session.Prompt(ctx, session.ID, params)
	if err != nil {
		op.failed(err)
		return providertypes.Response{}, fmt.Errorf("prompt failed: %w", providertypes.ClassifyCapabilityError(Name, err))
	}

	text := extractText(response.Parts)
	if text == "" {
		op.failed(errors.New("no text parts"))
		return providertypes.Response{}, errors.New("prompt succeeded but returned no text parts")
	}
	op.completed("response_length", len(text), "parts_count", len(response.Parts))

	// The server does not stream back to us; the whole reply is one delta.
	if req.Deltas != nil {
		select {
		case req.Deltas <- text:
		case <-ctx.Done():
			return providertypes.Response{}, ctx.Err()
		}
	}

	tokens := response.Info.Tokens
	return providertypes.Response{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: strings.TrimSpace(response.Info.ProviderID),
			Model:    strings.TrimSpace(response.Info.ModelID),
			Usage:    usageFrom(tokens.Input, tokens.Output, tokens.Reasoning, tokens.Cache.Read),
		},
	}, nil
}

func (c *Client) promptParams(instructions, transcript, model string) sdk.SessionPromptParams {
	parts := make([]sdk.SessionPromptParamsPartUnion, 0, 2)
	if instructions != "" {
		parts = append(parts, textPart(instructions))
	}
	parts = append(parts, textPart(transcript))

	params := sdk.SessionPromptParams{Parts: sdk.F(parts)}
	if c.agent != "" {
		params.Agent = sdk.F(c.agent)
	}
	if providerID, modelID, ok := parseModelRef(model); ok {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(providerID),
			ModelID:    sdk.F(modelID),
		})
	}
	return params
}

func textPart(text string) sdk.TextPartInputParam {
	return sdk.TextPartInputParam{
		Type: sdk.F(sdk.TextPartInputTypeText),
		Text: sdk.F(text),
	}
}

// splitTranscript separates system turns from the role-labelled remainder.
func splitTranscript(messages []providertypes.ChatMessage) (instructions, transcript string) {
	var system []string
	var turns strings.Builder
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if m.Role == providertypes.RoleSystem {
			system = append(system, content)
			continue
		}
		if turns.Len() > 0 {
			turns.WriteString("\n\n")
		}
		fmt.Fprintf(&turns, "[%s]\n%s", m.Role, content)
	}
	return strings.Join(system, "\n\n"), turns.String()
}

func usageFrom(input, output, reasoning, cacheRead float64) *providertypes.TokenUsage {
	usage := providertypes.TokenUsage{
		InputTokens:     tokenCount(input),
		OutputTokens:    tokenCount(output),
		ReasoningTokens: tokenCount(reasoning),
		CacheReadTokens: tokenCount(cacheRead),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if usage.IsZero() {
		return nil
	}
	return &usage
}

type operation struct {
	log     *slog.Logger
	started time.Time
}

func startOperation(name string) operation {
	op := operation{
		log:     slog.Default().With("component", "provider.opencode", "operation", name),
		started: time.Now(),
	}
	op.log.Debug("Provider request started")
	return op
}

func (op operation) failed(err error) {
	op.log.Debug("Provider request failed", "duration_ms", time.Since(op.started).Milliseconds(), "error", err)
}

func (op operation) completed(attrs ...any) {
	op.log.Debug("Provider request completed", append([]any{"duration_ms", time.Since(op.started).Milliseconds()}, attrs...)...)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func basicAuth(cfg config.OpenCodeProviderConfig) (string, bool) {
	env := strings.TrimSpace(cfg.PasswordEnv)
	if env == "" {
		return "", false
	}
	password := strings.TrimSpace(os.Getenv(env))
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = defaultUsername
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)), true
}

// parseModelRef splits "provider/model".
func parseModelRef(ref string) (providerID, modelID string, ok bool) {
	providerID, modelID, found := strings.Cut(strings.TrimSpace(ref), "/")
	providerID, modelID = strings.TrimSpace(providerID), strings.TrimSpace(modelID)
	if !found || providerID == "" || modelID == "" {
		return "", "", false
	}
	return providerID, modelID, true
}

func extractText(parts []sdk.Part) string {
	var lines []string
	for _, part := range parts {
		if part.Type != sdk.PartTypeText {
			continue
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

func tokenCount(value float64) int64 {
	if value <= 0 {
		return 0
	}
	return int64(math.Round(value))
}
