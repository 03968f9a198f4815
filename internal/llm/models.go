// Package llm defines the backend-agnostic interfaces and value types for
// chat, text completion, and embedding models.
package llm

import "context"

// ChatModel is the abstraction over any chat completion backend.
type ChatModel interface {
	// Chat sends a conversation to the model and returns its reply.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Name returns the backend identifier (e.g. "openai", "azure-openai").
	Name() string
}

// CompletionModel is the abstraction over any legacy text completion backend.
type CompletionModel interface {
	// Complete sends a prompt to the model and returns the generated text.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Name() string
}

// EmbeddingModel is the abstraction over any embedding backend.
type EmbeddingModel interface {
	// Embed converts the given inputs into embedding vectors, one per input,
	// in input order.
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
	Name() string
}

// Role identifies who sent a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a full conversation sent to a chat model.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int     // 0 = backend default
	Temperature float64 // 0 = backend default
	Stop        []string
	User        string // optional end-user identifier forwarded upstream
}

// ChatResponse is a chat model's reply.
type ChatResponse struct {
	Content      string
	Model        string // concrete model that served the request
	FinishReason string // "stop", "length", "content_filter"
	Usage        Usage
}

// CompletionRequest is a prompt sent to a legacy completion model.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Stop        []string
	User        string
}

// CompletionResponse is a completion model's generated text.
type CompletionResponse struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// EmbeddingRequest is a batch of inputs to embed.
type EmbeddingRequest struct {
	Input      []string
	Dimensions int // 0 = model default
	User       string
}

// EmbeddingResponse holds one vector per input, in input order.
type EmbeddingResponse struct {
	Embeddings [][]float64
	Model      string
	Usage      Usage
}

// Usage tracks token consumption for accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
