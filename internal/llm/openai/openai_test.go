package openai

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

// clearOpenAIEnv prevents host environment from interfering with tests.
func clearOpenAIEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_ORG_ID", "")
}

// --- Construction and secret resolution ---

func TestNewChat_MissingAPIKey(t *testing.T) {
	clearOpenAIEnv(t)

	client, err := NewChat(ChatConfig{Model: "gpt-4o"}, discardLogger())
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if client != nil {
		t.Error("failed construction must not return a client")
	}

	var missing *secrets.MissingSecretError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *secrets.MissingSecretError, got %T", err)
	}
	if missing.Field != "api_key" {
		t.Errorf("got Field=%q, want %q", missing.Field, "api_key")
	}
	if missing.EnvVar != "OPENAI_API_KEY" {
		t.Errorf("got EnvVar=%q, want %q", missing.EnvVar, "OPENAI_API_KEY")
	}
}

func TestNewChat_ExplicitKeyWinsOverEnv(t *testing.T) {
	clearOpenAIEnv(t)
	t.Setenv("OPENAI_API_KEY", "from-env")

	client, err := NewChat(ChatConfig{APIKey: "from-arg", Model: "gpt-4o"}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if got := client.APIKey().Reveal(); got != "from-arg" {
		t.Errorf("got Reveal()=%q, want the explicit argument %q", got, "from-arg")
	}
}

func TestNewChat_EnvFallback(t *testing.T) {
	clearOpenAIEnv(t)
	t.Setenv("OPENAI_API_KEY", "from-env")

	client, err := NewChat(ChatConfig{Model: "gpt-4o"}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if got := client.APIKey().Reveal(); got != "from-env" {
		t.Errorf("got Reveal()=%q, want %q", got, "from-env")
	}
}

func TestNewChat_MaskedRendering(t *testing.T) {
	clearOpenAIEnv(t)

	client, err := NewChat(ChatConfig{APIKey: "foo", Model: "gpt-4o"}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	for _, out := range []string{
		fmt.Sprint(client),
		fmt.Sprintf("%v", client),
		fmt.Sprintf("%+v", client),
		fmt.Sprintf("%#v", client),
		fmt.Sprintf("%v", *client),
		fmt.Sprintf("%s", client),
	} {
		if strings.Contains(out, "foo") {
			t.Errorf("rendering %q leaks the raw API key", out)
		}
		if !strings.Contains(out, secrets.Mask) {
			t.Errorf("rendering %q should contain the mask %q", out, secrets.Mask)
		}
	}

	// Non-secret fields stay visible; masking is per field, not whole-object.
	if out := fmt.Sprint(client); !strings.Contains(out, "gpt-4o") {
		t.Errorf("rendering %q should include the model name", out)
	}
}

func TestNewChat_SlogMasked(t *testing.T) {
	clearOpenAIEnv(t)

	client, err := NewChat(ChatConfig{APIKey: "secret-api-key", Model: "gpt-4o"}, discardLogger())
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

func TestNewCompletion_MissingAPIKey(t *testing.T) {
	clearOpenAIEnv(t)

	_, err := NewCompletion(CompletionConfig{Model: "gpt-3.5-turbo-instruct"}, discardLogger())
	var missing *secrets.MissingSecretError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *secrets.MissingSecretError, got %v", err)
	}
	if missing.EnvVar != "OPENAI_API_KEY" {
		t.Errorf("got EnvVar=%q, want %q", missing.EnvVar, "OPENAI_API_KEY")
	}
}

func TestNewEmbeddings_RevealRoundTrip(t *testing.T) {
	clearOpenAIEnv(t)

	client, err := NewEmbeddings(EmbeddingsConfig{APIKey: "secret-api-key", Model: "text-embedding-3-small"}, discardLogger())
	if err != nil {
		t.Fatalf("NewEmbeddings: %v", err)
	}
	if got := client.APIKey().Reveal(); got != "secret-api-key" {
		t.Errorf("got Reveal()=%q, want %q", got, "secret-api-key")
	}
	if out := fmt.Sprint(client); strings.Contains(out, "secret-api-key") {
		t.Errorf("rendering %q leaks the raw API key", out)
	}
}

// --- Transport ---

func TestChat_SendsBearerAuth(t *testing.T) {
	clearOpenAIEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request structure.
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer auth, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %q", r.URL.Path)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %q", req.Model)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" {
			t.Errorf("expected system role, got %q", req.Messages[0].Role)
		}
		if req.Messages[1].Role != "user" {
			t.Errorf("expected user role, got %q", req.Messages[1].Role)
		}

		resp := chatResponse{
			Model: "gpt-4o-2024-08-06",
			Choices: []chatChoice{{
				Message:      chatMessage{Role: "assistant", Content: "Hello!"},
				FinishReason: "stop",
			}},
			Usage: apiUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewChat(ChatConfig{APIKey: "test-key", Model: "gpt-4o", BaseURL: srv.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	resp, err := client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are helpful."},
			{Role: llm.RoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("expected content Hello!, got %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("expected finish reason stop, got %q", resp.FinishReason)
	}
	if resp.Usage.PromptTokens != 10 || resp.Usage.CompletionTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if resp.Model != "gpt-4o-2024-08-06" {
		t.Errorf("expected served model from response, got %q", resp.Model)
	}
}

func TestChat_OrganizationHeader(t *testing.T) {
	clearOpenAIEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("OpenAI-Organization"); got != "org-abc" {
			t.Errorf("expected OpenAI-Organization org-abc, got %q", got)
		}
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "ok"}, FinishReason: "stop"}},
		})
	}))
	defer srv.Close()

	client, err := NewChat(ChatConfig{APIKey: "k", Model: "gpt-4o", BaseURL: srv.URL, Organization: "org-abc"}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if _, err := client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChat_APIError(t *testing.T) {
	clearOpenAIEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	client, err := NewChat(ChatConfig{APIKey: "test-key", Model: "gpt-4o", BaseURL: srv.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	_, err = client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *llm.APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("got StatusCode=%d, want %d", apiErr.StatusCode, http.StatusTooManyRequests)
	}
	if apiErr.Message != "rate limit exceeded" {
		t.Errorf("got Message=%q, want %q", apiErr.Message, "rate limit exceeded")
	}
}

func TestCompletion_Transport(t *testing.T) {
	clearOpenAIEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completions" {
			t.Errorf("expected path /completions, got %q", r.URL.Path)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Prompt != "Say hi" {
			t.Errorf("expected prompt Say hi, got %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(completionResponse{
			Model:   "gpt-3.5-turbo-instruct",
			Choices: []completionChoice{{Text: "hi", FinishReason: "stop"}},
			Usage:   apiUsage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
		})
	}))
	defer srv.Close()

	client, err := NewCompletion(CompletionConfig{APIKey: "test-key", Model: "gpt-3.5-turbo-instruct", BaseURL: srv.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewCompletion: %v", err)
	}

	resp, err := client.Complete(context.Background(), &llm.CompletionRequest{Prompt: "Say hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hi" {
		t.Errorf("expected text hi, got %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 4 {
		t.Errorf("expected 4 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestEmbeddings_OrdersVectorsByIndex(t *testing.T) {
	clearOpenAIEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected path /embeddings, got %q", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Fatalf("expected 2 inputs, got %d", len(req.Input))
		}
		// Return the vectors out of order to exercise index placement.
		json.NewEncoder(w).Encode(embeddingResponse{
			Model: "text-embedding-3-small",
			Data: []embeddingData{
				{Index: 1, Embedding: []float64{0.3, 0.4}},
				{Index: 0, Embedding: []float64{0.1, 0.2}},
			},
			Usage: apiUsage{PromptTokens: 8, TotalTokens: 8},
		})
	}))
	defer srv.Close()

	client, err := NewEmbeddings(EmbeddingsConfig{APIKey: "test-key", Model: "text-embedding-3-small", BaseURL: srv.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewEmbeddings: %v", err)
	}

	resp, err := client.Embed(context.Background(), &llm.EmbeddingRequest{Input: []string{"first", "second"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(resp.Embeddings))
	}
	if resp.Embeddings[0][0] != 0.1 {
		t.Errorf("embedding for first input misplaced: %v", resp.Embeddings[0])
	}
	if resp.Embeddings[1][0] != 0.3 {
		t.Errorf("embedding for second input misplaced: %v", resp.Embeddings[1])
	}
}
