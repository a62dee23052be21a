package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"zeroclaw/pkg/config"
	providertypes "zeroclaw/pkg/provider/types"
)

const Name = "fantasy"

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

// Client runs chats through a fantasy agent backed by the OpenAI provider.
// Conversation state lives with the caller; every Chat carries full history.
type Client struct {
	provider       languageModelProvider
	requestTimeout time.Duration
	modelID        string
	generate       func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

// New builds a client whose Warmup resolves defaultModel.
func New(cfg config.OpenAIProviderConfig, defaultModel string) (*Client, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}

	modelID, err := normalizeOpenAIModel(defaultModel)
	if err != nil {
		return nil, err
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	return &Client{
		provider:       fantasyProvider,
		requestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		modelID:        modelID,
		generate:       generateWithFantasyAgent,
	}, nil
}

func (c *Client) Name() string {
	return Name
}

// Warmup resolves the default language model.
func (c *Client) Warmup(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return fmt.Errorf("warmup failed: %w", err)
	}
	return nil
}

// Chat sends the history to the model. The last user turn becomes the
// prompt. The reply reaches req.Deltas as a single fragment.
func (c *Client) Chat(ctx context.Context, req providertypes.Request) (providertypes.Response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := slog.Default().With("component", "provider.fantasy", "operation", "chat")
	startedAt := time.Now()

	modelID, err := normalizeOpenAIModel(req.Model)
	if err != nil {
		return providertypes.Response{}, err
	}

	history, prompt, err := splitPrompt(req.Messages)
	if err != nil {
		return providertypes.Response{}, err
	}

	languageModel, err := c.provider.LanguageModel(ctx, modelID)
	if err != nil {
		return providertypes.Response{}, fmt.Errorf("resolve language model: %w", err)
	}

	call := core.AgentCall{
		Prompt:   prompt,
		Messages: history,
	}
	if req.MaxTokens > 0 {
		maxTokens := int64(req.MaxTokens)
		call.MaxOutputTokens = &maxTokens
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		call.Temperature = &temp
	}

	generate := c.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	log.Debug("provider request started", "model", modelID, "messages", len(req.Messages))
	result, err := generate(ctx, languageModel, call)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Response{}, fmt.Errorf("chat failed: %w", providertypes.ClassifyCapabilityError(Name, err))
	}

	text := extractText(result.Response.Content)
	if text == "" {
		return providertypes.Response{}, errors.New("chat succeeded but returned no text")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	if req.Deltas != nil {
		select {
		case req.Deltas <- text:
		case <-ctx.Done():
			return providertypes.Response{}, ctx.Err()
		}
	}

	usage := providertypes.TokenUsage{
		InputTokens:         result.TotalUsage.InputTokens,
		OutputTokens:        result.TotalUsage.OutputTokens,
		TotalTokens:         result.TotalUsage.TotalTokens,
		ReasoningTokens:     result.TotalUsage.ReasoningTokens,
		CacheCreationTokens: result.TotalUsage.CacheCreationTokens,
		CacheReadTokens:     result.TotalUsage.CacheReadTokens,
	}
	metadata := providertypes.PromptMetadata{Provider: "openai", Model: modelID}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.Response{Text: text, Metadata: metadata}, nil
}

// splitPrompt turns chat history into fantasy messages plus the trailing user prompt.
func splitPrompt(messages []providertypes.ChatMessage) ([]core.Message, string, error) {
	if len(messages) == 0 || messages[len(messages)-1].Role != providertypes.RoleUser {
		return nil, "", errors.New("history must end with a user turn")
	}
	prompt := strings.TrimSpace(messages[len(messages)-1].Content)
	if prompt == "" {
		return nil, "", errors.New("prompt is required")
	}

	history := make([]core.Message, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		var role core.MessageRole
		switch m.Role {
		case providertypes.RoleSystem:
			role = core.MessageRoleSystem
		case providertypes.RoleAssistant:
			role = core.MessageRoleAssistant
		default:
			role = core.MessageRoleUser
		}
		history = append(history, core.Message{
			Role:    role,
			Content: []core.MessagePart{core.TextPart{Text: m.Content}},
		})
	}
	return history, prompt, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if env := strings.TrimSpace(cfg.APIKeyEnv); env != "" {
		if key := strings.TrimSpace(os.Getenv(env)); key != "" {
			return key
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeOpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by fantasy openai provider", providerID)
	}

	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	runtime := core.NewAgent(model)
	return runtime.Generate(ctx, call)
}
