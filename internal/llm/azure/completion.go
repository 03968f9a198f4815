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

// CompletionConfig configures an Azure OpenAI legacy completion client.
// Credential resolution follows the same rules as ChatConfig.
type CompletionConfig struct {
	Endpoint    string
	Deployment  string
	Model       string
	APIVersion  string
	APIKey      string
	ADToken     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Completion implements llm.CompletionModel against an Azure OpenAI deployment.
type Completion struct {
	creds       credentials
	endpoint    string
	deployment  string
	apiVersion  string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewCompletion(cfg CompletionConfig, logger *slog.Logger) (*Completion, error) {
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
	return &Completion{
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

func (c *Completion) Name() string { return "azure-openai" }

func (c Completion) APIKey() secrets.Secret  { return c.creds.apiKey }
func (c Completion) ADToken() secrets.Secret { return c.creds.adToken }

func (c Completion) String() string {
	return fmt.Sprintf("azure.Completion(endpoint=%s deployment=%s api_version=%s %s)",
		c.endpoint, c.deployment, c.apiVersion, c.creds.describe())
}

func (c Completion) GoString() string { return c.String() }

func (c Completion) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", "azure-openai"),
		slog.String("endpoint", c.endpoint),
		slog.String("deployment", c.deployment),
		slog.String("credentials", c.creds.describe()),
	)
}

// Complete sends the prompt to the deployment's legacy Completions API.
func (c *Completion) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	apiReq := completionRequest{
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

	url := requestURL(c.endpoint, c.deployment, completionsPath, c.apiVersion)
	respBody, err := send(ctx, c.httpClient, url, c.creds, apiReq)
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
		slog.String("deployment", c.deployment),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return resp, nil
}

type completionRequest struct {
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
