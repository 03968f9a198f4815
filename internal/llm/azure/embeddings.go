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

// EmbeddingsConfig configures an Azure OpenAI embeddings client.
// Credential resolution follows the same rules as ChatConfig.
type EmbeddingsConfig struct {
	Endpoint   string
	Deployment string
	Model      string
	APIVersion string
	APIKey     string
	ADToken    string
	Dimensions int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Embeddings implements llm.EmbeddingModel against an Azure OpenAI deployment.
type Embeddings struct {
	creds      credentials
	endpoint   string
	deployment string
	apiVersion string
	dimensions int
	httpClient *http.Client
	logger     *slog.Logger
}

func NewEmbeddings(cfg EmbeddingsConfig, logger *slog.Logger) (*Embeddings, error) {
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
	return &Embeddings{
		creds:      creds,
		endpoint:   endpoint,
		deployment: deployment,
		apiVersion: resolveAPIVersion(cfg.APIVersion),
		dimensions: cfg.Dimensions,
		httpClient: httpClientOrDefault(cfg.HTTPClient, cfg.Timeout),
		logger:     logger,
	}, nil
}

func (c *Embeddings) Name() string { return "azure-openai" }

func (c Embeddings) APIKey() secrets.Secret  { return c.creds.apiKey }
func (c Embeddings) ADToken() secrets.Secret { return c.creds.adToken }

func (c Embeddings) String() string {
	return fmt.Sprintf("azure.Embeddings(endpoint=%s deployment=%s api_version=%s %s)",
		c.endpoint, c.deployment, c.apiVersion, c.creds.describe())
}

func (c Embeddings) GoString() string { return c.String() }

func (c Embeddings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", "azure-openai"),
		slog.String("endpoint", c.endpoint),
		slog.String("deployment", c.deployment),
		slog.String("credentials", c.creds.describe()),
	)
}

// Embed sends the inputs to the deployment's Embeddings API. Vectors are
// returned in input order regardless of the order the API emits them.
func (c *Embeddings) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	apiReq := embeddingRequest{
		Input:      req.Input,
		Dimensions: req.Dimensions,
		User:       req.User,
	}
	if apiReq.Dimensions <= 0 {
		apiReq.Dimensions = c.dimensions
	}

	url := requestURL(c.endpoint, c.deployment, embeddingsPath, c.apiVersion)
	respBody, err := send(ctx, c.httpClient, url, c.creds, apiReq)
	if err != nil {
		return nil, err
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	vectors := make([][]float64, len(req.Input))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range for %d inputs", d.Index, len(req.Input))
		}
		vectors[d.Index] = d.Embedding
	}

	resp := &llm.EmbeddingResponse{
		Embeddings: vectors,
		Model:      apiResp.Model,
		Usage: llm.Usage{
			PromptTokens: apiResp.Usage.PromptTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
	}

	c.logger.DebugContext(ctx, "embedding request completed",
		slog.String("provider", c.Name()),
		slog.String("deployment", c.deployment),
		slog.Int("inputs", len(req.Input)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return resp, nil
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
	User       string   `json:"user,omitempty"`
}

type embeddingResponse struct {
	Model string          `json:"model"`
	Data  []embeddingData `json:"data"`
	Usage apiUsage        `json:"usage"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}
