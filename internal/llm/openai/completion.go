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

// CompletionConfig configures a Completion client. Resolution rules match
// ChatConfig: explicit APIKey wins, OPENAI_API_KEY is the fallback.
type CompletionConfig struct {
	APIKey       string
	Model        string // e.g. "gpt-3.5-turbo-instruct"
	BaseURL      string
	Organization string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Completion implements llm.CompletionModel against the legacy Completions API.
type Completion struct {
	apiKey       secrets.Secret
	model        string
	baseURL      string
	organization string
	maxTokens    int
	temperature  float64
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewCompletion creates a completion client, resolving the API key from the
// config or the environment.
func NewCompletion(cfg CompletionConfig, logger *slog.Logger) (*Completion, error) {
	apiKey, err := secrets.Require("api_key", cfg.APIKey, envAPIKey)
	if err != nil {
		return nil, err
	}
	return &Completion{
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

func (c *Completion) Name() string { return "openai" }

// APIKey returns the bound key; masked until Reveal is called.
func (c Completion) APIKey() secrets.Secret { return c.apiKey }

// String renders the client with its credential masked.
func (c Completion) String() string {
	return fmt.Sprintf("openai.Completion(model=%s base_url=%s api_key=%s)", c.model, c.baseURL, c.apiKey)
}

func (c Completion) GoString() string { return c.String() }

func (c Completion) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.String("base_url", c.baseURL),
		slog.String("api_key", c.apiKey.String()),
	)
}

// Complete sends the prompt to the Completions API.
func (c *Completion) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	apiReq := completionRequest{
		Model:       c.model,
		Prompt:      req.Prompt,
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

	respBody, err := send(ctx, c.httpClient, c.baseURL+completionsPath, c.apiKey, c.organization, apiReq)
	if err != nil {
		return nil, err
	}

	var apiResp completionResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	choice := apiResp.Choices[0]
	resp := &llm.CompletionResponse{
		Text:         choice.Text,
		Model:        apiResp.Model,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}

	c.logger.DebugContext(ctx, "completion request completed",
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.String("finish_reason", resp.FinishReason),
	)

	return resp, nil
}

// --- Completions wire types (unexported) ---

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	User        string   `json:"user,omitempty"`
}

type completionResponse struct {
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   apiUsage           `json:"usage"`
}

type completionChoice struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}
