package azure

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

// ChatConfig configures an Azure OpenAI chat client. APIKey and ADToken may
// be left empty to fall back to AZURE_OPENAI_API_KEY and
// AZURE_OPENAI_AD_TOKEN; explicit values win when both sources are set. At
// least one of the two credentials must resolve.
type ChatConfig struct {
	Endpoint    string // mandatory; env fallback AZURE_OPENAI_ENDPOINT
	Deployment  string // defaults to Model
	Model       string
	APIVersion  string // default 2024-10-21; env fallback OPENAI_API_VERSION
	APIKey      string
	ADToken     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Chat implements llm.ChatModel against an Azure OpenAI deployment.
// Credentials are bound once at construction and are immutable thereafter.
type Chat struct {
	creds       credentials
	endpoint    string
	deployment  string
	apiVersion  string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewChat creates an Azure chat client. Returns *secrets.MissingSecretError
// when neither credential resolves.
func NewChat(cfg ChatConfig, logger *slog.Logger) (*Chat, error) {
	endpoint, err := resolveEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	deployment, err := resolveDeployment(cfg.Deployment, cfg.Model)
	if err != nil {
		return nil, err
	}
	creds, err := resolveCredentials(cfg.APIKey, cfg.ADToken)
	if err != nil {
		return nil, err
	}
	return &Chat{
		creds:       creds,
		endpoint:    endpoint,
		deployment:  deployment,
		apiVersion:  resolveAPIVersion(cfg.APIVersion),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  httpClientOrDefault(cfg.HTTPClient, cfg.Timeout),
		logger:      logger,
	}, nil
}

func (c *Chat) Name() string { return "azure-openai" }

// APIKey returns the bound service key; the zero Secret when AD token
// authentication is in use. Masked until Reveal is called.
func (c Chat) APIKey() secrets.Secret { return c.creds.apiKey }

// ADToken returns the bound Entra ID token; the zero Secret when API key
// authentication is in use.
func (c Chat) ADToken() secrets.Secret { return c.creds.adToken }

// String renders the client with its credentials masked.
func (c Chat) String() string {
	return fmt.Sprintf("azure.Chat(endpoint=%s deployment=%s api_version=%s %s)",
		c.endpoint, c.deployment, c.apiVersion, c.creds.describe())
}

func (c Chat) GoString() string { return c.String() }

func (c Chat) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", "azure-openai"),
		slog.String("endpoint", c.endpoint),
		slog.String("deployment", c.deployment),
		slog.String("credentials", c.creds.describe()),
	)
}

// Chat sends the conversation to the deployment's Chat Completions API.
func (c *Chat) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	apiReq := chatRequest{
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

	url := requestURL(c.endpoint, c.deployment, chatPath, c.apiVersion)
	respBody, err := send(ctx, c.httpClient, url, c.creds, apiReq)
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
		slog.String("deployment", c.deployment),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.String("finish_reason", resp.FinishReason),
	)

	return resp, nil
}

// --- Chat Completions wire types (unexported) ---

type chatRequest struct {
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
