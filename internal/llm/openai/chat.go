package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/salama/internal/llm"
	"github.com/jkaninda/salama/internal/secrets"
)

// ChatConfig configures a Chat client. APIKey may be left empty to fall
// back to the OPENAI_API_KEY environment variable; the argument wins when
// both are set.
type ChatConfig struct {
	APIKey       string        // mandatory; env fallback OPENAI_API_KEY
	Model        string        // e.g. "gpt-4o-mini"
	BaseURL      string        // env fallback OPENAI_BASE_URL, then the public endpoint
	Organization string        // env fallback OPENAI_ORG_ID
	MaxTokens    int           // default applied per request when unset
	Temperature  float64       // 0 = upstream default
	Timeout      time.Duration // ignored when HTTPClient is set
	HTTPClient   *http.Client
}

// Chat implements llm.ChatModel against the OpenAI Chat Completions API.
// The API key is bound once at construction and is immutable thereafter.
type Chat struct {
	apiKey       secrets.Secret
	model        string
	baseURL      string
	organization string
	maxTokens    int
	temperature  float64
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewChat creates a chat client, resolving the API key from the config or
// the environment. Returns *secrets.MissingSecretError when neither source
// provides one.
func NewChat(cfg ChatConfig, logger *slog.Logger) (*Chat, error) {
	apiKey, err := secrets.Require("api_key", cfg.APIKey, envAPIKey)
	if err != nil {
		return nil, err
	}
	return &Chat{
		apiKey:       apiKey,
		model:        cfg.Model,
		baseURL:      resolveBaseURL(cfg.BaseURL),
		organization: resolveOrganization(cfg.Organization),
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		httpClient:   httpClientOrDefault(cfg.HTTPClient, cfg.Timeout),
		logger:       logger,
	}, nil
}

func (c *Chat) Name() string { return "openai" }

// APIKey returns the bound key for collaborators that must place it into an
// outbound request themselves. The value stays masked until Reveal is called.
func (c Chat) APIKey() secrets.Secret { return c.apiKey }

// String renders the client with its credential masked. fmt cannot reach
// unexported fields through the Stringer of their type, so the masking is
// done here rather than left to reflection.
func (c Chat) String() string {
	return fmt.Sprintf("openai.Chat(model=%s base_url=%s api_key=%s)", c.model, c.baseURL, c.apiKey)
}

// GoString keeps %#v masked.
func (c Chat) GoString() string { return c.String() }

// LogValue renders the client for slog with the credential masked.
func (c Chat) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.String("base_url", c.baseURL),
		slog.String("api_key", c.apiKey.String()),
	)
}

// Chat sends the conversation to the Chat Completions API.
func (c *Chat) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	apiReq := chatRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		User:        req.User,
	}
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = c.maxTokens
	}
	if apiReq.Temperature == 0 {
		apiReq.Temperature = c.temperature
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, chatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	respBody, err := send(ctx, c.httpClient, c.baseURL+chatPath, c.apiKey, c.organization, apiReq)
	if err != nil {
		return nil, err
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	choice := apiResp.Choices[0]
	resp := &llm.ChatResponse{
		Content:      choice.Message.Content,
		Model:        apiResp.Model,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}

	c.logger.DebugContext(ctx, "chat request completed",
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.String("finish_reason", resp.FinishReason),
	)

	return resp, nil
}

// --- Chat Completions wire types (unexported) ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	User        string        `json:"user,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   apiUsage     `json:"usage"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
