package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jkaninda/salama/internal/llm"
	"github.com/jkaninda/salama/internal/secrets"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clearAzureEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AZURE_OPENAI_API_KEY", "")
	t.Setenv("AZURE_OPENAI_AD_TOKEN", "")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "")
	t.Setenv("OPENAI_API_VERSION", "")
}

func TestNewChat_MissingCredentials(t *testing.T) {
	clearAzureEnv(t)

	client, err := NewChat(ChatConfig{
		Endpoint: "https://example.openai.azure.com",
		Model:    "gpt-4o",
	}, discardLogger())
	if err == nil {
		t.Fatal("expected error when neither credential is available")
	}
	if client != nil {
		t.Error("failed construction must not return a client")
	}

	if !errors.Is(err, secrets.ErrMissingSecret) {
		t.Errorf("error should match secrets.ErrMissingSecret, got %v", err)
	}
	var missing *secrets.MissingSecretError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *secrets.MissingSecretError, got %T", err)
	}
	if missing.Field != "api_key" {
		t.Errorf("got Field=%q, want %q", missing.Field, "api_key")
	}
	if missing.EnvVar != "AZURE_OPENAI_API_KEY" {
		t.Errorf("got EnvVar=%q, want %q", missing.EnvVar, "AZURE_OPENAI_API_KEY")
	}
	if msg := err.Error(); !strings.Contains(msg, "AZURE_OPENAI_API_KEY") {
		t.Errorf("error message %q should name the environment variable", msg)
	}
}

func TestNewChat_MissingEndpoint(t *testing.T) {
	clearAzureEnv(t)
	t.Setenv("AZURE_OPENAI_API_KEY", "secret-api-key")

	_, err := NewChat(ChatConfig{Model: "gpt-4o"}, discardLogger())
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if !strings.Contains(err.Error(), "AZURE_OPENAI_ENDPOINT") {
		t.Errorf("error %q should name AZURE_OPENAI_ENDPOINT", err)
	}
	// The endpoint is an ordinary config field, not a secret.
	var missing *secrets.MissingSecretError
	if errors.As(err, &missing) {
		t.Errorf("missing endpoint must not be reported as a missing secret: %v", err)
	}
}

func TestNewChat_MissingDeployment(t *testing.T) {
	clearAzureEnv(t)
	t.Setenv("AZURE_OPENAI_API_KEY", "secret-api-key")

	_, err := NewChat(ChatConfig{Endpoint: "https://example.openai.azure.com"}, discardLogger())
	if err == nil {
		t.Fatal("expected error when neither Deployment nor Model is set")
	}
	if !strings.Contains(err.Error(), "deployment") {
		t.Errorf("error %q should mention the deployment", err)
	}
}

func TestNewChat_EnvCredentialsMasked(t *testing.T) {
	clearAzureEnv(t)
	t.Setenv("AZURE_OPENAI_API_KEY", "secret-api-key")
	t.Setenv("AZURE_OPENAI_AD_TOKEN", "secret-ad-token")

	client, err := NewChat(ChatConfig{
		Endpoint:   "https://example.openai.azure.com",
		Model:      "gpt-4o",
		APIVersion: "2024-10-21",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	if got := fmt.Sprint(client.APIKey()); got != secrets.Mask {
		t.Errorf("got printed api key %q, want %q", got, secrets.Mask)
	}
	if got := fmt.Sprint(client.ADToken()); got != secrets.Mask {
		t.Errorf("got printed ad token %q, want %q", got, secrets.Mask)
	}
	if got := client.APIKey().Reveal(); got != "secret-api-key" {
		t.Errorf("got Reveal()=%q, want %q", got, "secret-api-key")
	}
	if got := client.ADToken().Reveal(); got != "secret-ad-token" {
		t.Errorf("got Reveal()=%q, want %q", got, "secret-ad-token")
	}

	for _, out := range []string{
		fmt.Sprint(client),
		fmt.Sprintf("%v", client),
		fmt.Sprintf("%+v", client),
		fmt.Sprintf("%#v", client),
		fmt.Sprintf("%v", *client),
	} {
		if strings.Contains(out, "secret-api-key") || strings.Contains(out, "secret-ad-token") {
			t.Errorf("rendering %q leaks a raw credential", out)
		}
		if !strings.Contains(out, secrets.Mask) {
			t.Errorf("rendering %q should contain the mask %q", out, secrets.Mask)
		}
	}

	// Non-secret fields stay visible.
	if out := fmt.Sprint(client); !strings.Contains(out, "example.openai.azure.com") {
		t.Errorf("rendering %q should include the endpoint", out)
	}
}

func TestNewChat_ExplicitCredentialsWinOverEnv(t *testing.T) {
	clearAzureEnv(t)
	t.Setenv("AZURE_OPENAI_API_KEY", "env-api-key")
	t.Setenv("AZURE_OPENAI_AD_TOKEN", "env-ad-token")

	client, err := NewChat(ChatConfig{
		Endpoint: "https://example.openai.azure.com",
		Model:    "gpt-4o",
		APIKey:   "arg-api-key",
		ADToken:  "arg-ad-token",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if got := client.APIKey().Reveal(); got != "arg-api-key" {
		t.Errorf("got Reveal()=%q, want the explicit argument %q", got, "arg-api-key")
	}
	if got := client.ADToken().Reveal(); got != "arg-ad-token" {
		t.Errorf("got Reveal()=%q, want the explicit argument %q", got, "arg-ad-token")
	}
}

func TestNewChat_ADTokenOnly(t *testing.T) {
	clearAzureEnv(t)

	client, err := NewChat(ChatConfig{
		Endpoint: "https://example.openai.azure.com",
		Model:    "gpt-4o",
		ADToken:  "secret-ad-token",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if !client.APIKey().IsZero() {
		t.Error("api key should be absent when only the AD token is configured")
	}

	out := client.String()
	if !strings.Contains(out, "ad_token="+secrets.Mask) {
		t.Errorf("rendering %q should show the masked ad token", out)
	}
	if strings.Contains(out, "api_key=") {
		t.Errorf("rendering %q should omit the absent api key", out)
	}
}

func TestNewChat_SlogMasked(t *testing.T) {
	clearAzureEnv(t)

	client, err := NewChat(ChatConfig{
		Endpoint: "https://example.openai.azure.com",
		Model:    "gpt-4o",
		APIKey:   "secret-api-key",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("configured", slog.Any("client", client))

	if out := buf.String(); strings.Contains(out, "secret-api-key") {
		t.Fatalf("log output leaks the raw API key: %s", out)
	}
}

func TestChat_SendsAPIKeyHeader(t *testing.T) {
	clearAzureEnv(t)

	var (
		gotPath    string
		gotVersion string
		gotAPIKey  string
		gotAuth    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		gotAPIKey = r.Header.Get("api-key")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(chatResponse{
			Model: "gpt-4o",
			Choices: []chatChoice{{
				Message:      chatMessage{Role: "assistant", Content: "hello"},
				FinishReason: "stop",
			}},
			Usage: apiUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		})
	}))
	defer srv.Close()

	client, err := NewChat(ChatConfig{
		Endpoint:   srv.URL,
		Deployment: "gpt-4o-prod",
		APIKey:     "secret-api-key",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	resp, err := client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotPath != "/openai/deployments/gpt-4o-prod/chat/completions" {
		t.Errorf("got path %q, want the deployment route", gotPath)
	}
	if gotVersion != "2024-10-21" {
		t.Errorf("got api-version %q, want the default %q", gotVersion, "2024-10-21")
	}
	if gotAPIKey != "secret-api-key" {
		t.Errorf("got api-key header %q, want the revealed key", gotAPIKey)
	}
	if gotAuth != "" {
		t.Errorf("Authorization header should be empty with api-key auth, got %q", gotAuth)
	}
	if resp.Content != "hello" {
		t.Errorf("got content %q, want %q", resp.Content, "hello")
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("got total tokens %d, want 5", resp.Usage.TotalTokens)
	}
}

func TestChat_SendsBearerWhenADTokenOnly(t *testing.T) {
	clearAzureEnv(t)

	var gotAPIKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("api-key")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	client, err := NewChat(ChatConfig{
		Endpoint:   srv.URL,
		Deployment: "gpt-4o-prod",
		ADToken:    "secret-ad-token",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if _, err := client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotAuth != "Bearer secret-ad-token" {
		t.Errorf("got Authorization %q, want the bearer AD token", gotAuth)
	}
	if gotAPIKey != "" {
		t.Errorf("api-key header should be empty with AD token auth, got %q", gotAPIKey)
	}
}

func TestChat_APIKeyWinsOverADToken(t *testing.T) {
	clearAzureEnv(t)

	var gotAPIKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("api-key")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	client, err := NewChat(ChatConfig{
		Endpoint:   srv.URL,
		Deployment: "gpt-4o-prod",
		APIKey:     "secret-api-key",
		ADToken:    "secret-ad-token",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if _, err := client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotAPIKey != "secret-api-key" {
		t.Errorf("got api-key header %q, want the API key to take precedence", gotAPIKey)
	}
	if gotAuth != "" {
		t.Errorf("Authorization header should be empty when the API key wins, got %q", gotAuth)
	}
}

func TestChat_APIVersionFromEnv(t *testing.T) {
	clearAzureEnv(t)
	t.Setenv("OPENAI_API_VERSION", "2025-01-01-preview")

	var gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.URL.Query().Get("api-version")
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	client, err := NewChat(ChatConfig{
		Endpoint: srv.URL,
		Model:    "gpt-4o",
		APIKey:   "secret-api-key",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if _, err := client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotVersion != "2025-01-01-preview" {
		t.Errorf("got api-version %q, want the value from OPENAI_API_VERSION", gotVersion)
	}
}

func TestChat_DeploymentFallsBackToModel(t *testing.T) {
	clearAzureEnv(t)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	client, err := NewChat(ChatConfig{
		Endpoint: srv.URL,
		Model:    "gpt-4o",
		APIKey:   "secret-api-key",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if _, err := client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotPath != "/openai/deployments/gpt-4o/chat/completions" {
		t.Errorf("got path %q, want the model name used as the deployment", gotPath)
	}
}

func TestChat_APIError(t *testing.T) {
	clearAzureEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"401","message":"Access denied due to invalid subscription key"}}`)
	}))
	defer srv.Close()

	client, err := NewChat(ChatConfig{
		Endpoint:   srv.URL,
		Deployment: "gpt-4o-prod",
		APIKey:     "wrong-key",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	_, err = client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error from 401 response")
	}

	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *llm.APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", apiErr.StatusCode, http.StatusUnauthorized)
	}
	if !strings.Contains(apiErr.Message, "invalid subscription key") {
		t.Errorf("got message %q, want the service message", apiErr.Message)
	}
}

func TestNewCompletion_MissingCredentials(t *testing.T) {
	clearAzureEnv(t)

	_, err := NewCompletion(CompletionConfig{
		Endpoint: "https://example.openai.azure.com",
		Model:    "gpt-35-turbo-instruct",
	}, discardLogger())

	var missing *secrets.MissingSecretError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *secrets.MissingSecretError, got %v", err)
	}
	if missing.EnvVar != "AZURE_OPENAI_API_KEY" {
		t.Errorf("got EnvVar=%q, want %q", missing.EnvVar, "AZURE_OPENAI_API_KEY")
	}
}

func TestCompletion_Transport(t *testing.T) {
	clearAzureEnv(t)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(completionResponse{
			Model:   "gpt-35-turbo-instruct",
			Choices: []completionChoice{{Text: "once upon a time", FinishReason: "stop"}},
			Usage:   apiUsage{PromptTokens: 4, CompletionTokens: 4, TotalTokens: 8},
		})
	}))
	defer srv.Close()

	client, err := NewCompletion(CompletionConfig{
		Endpoint:   srv.URL,
		Deployment: "instruct-prod",
		APIKey:     "secret-api-key",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewCompletion: %v", err)
	}

	resp, err := client.Complete(context.Background(), &llm.CompletionRequest{Prompt: "tell me a story"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotPath != "/openai/deployments/instruct-prod/completions" {
		t.Errorf("got path %q, want the completions route", gotPath)
	}
	if resp.Text != "once upon a time" {
		t.Errorf("got text %q, want %q", resp.Text, "once upon a time")
	}
}

func TestEmbeddings_MaskedAndTransport(t *testing.T) {
	clearAzureEnv(t)
	t.Setenv("AZURE_OPENAI_AD_TOKEN", "secret-ad-token")

	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(embeddingResponse{
			Model: "text-embedding-3-small",
			Data: []embeddingData{
				{Index: 1, Embedding: []float64{0.3, 0.4}},
				{Index: 0, Embedding: []float64{0.1, 0.2}},
			},
			Usage: apiUsage{PromptTokens: 2, TotalTokens: 2},
		})
	}))
	defer srv.Close()

	client, err := NewEmbeddings(EmbeddingsConfig{
		Endpoint:   srv.URL,
		Deployment: "embed-prod",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewEmbeddings: %v", err)
	}
	if got := fmt.Sprint(client.ADToken()); got != secrets.Mask {
		t.Errorf("got printed ad token %q, want %q", got, secrets.Mask)
	}

	resp, err := client.Embed(context.Background(), &llm.EmbeddingRequest{Input: []string{"first", "second"}})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotPath != "/openai/deployments/embed-prod/embeddings" {
		t.Errorf("got path %q, want the embeddings route", gotPath)
	}
	if gotAuth != "Bearer secret-ad-token" {
		t.Errorf("got Authorization %q, want the bearer AD token", gotAuth)
	}
	if got := resp.Embeddings[0][0]; got != 0.1 {
		t.Errorf("got first vector %v, want the index 0 embedding first", resp.Embeddings[0])
	}
	if got := resp.Embeddings[1][0]; got != 0.3 {
		t.Errorf("got second vector %v, want the index 1 embedding second", resp.Embeddings[1])
	}
}
