// Package usage defines the token accounting ledger. The gateway appends one
// record per upstream model call; retention prunes old rows on a schedule.
package usage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a usage record does not exist.
var ErrNotFound = errors.New("usage record not found")

// Record is one accounted upstream model call.
type Record struct {
	ID               string    `json:"id"`
	Provider         string    `json:"provider"`     // "openai" or "azure-openai"
	Model            string    `json:"model"`        // concrete model that served the call
	Operation        string    `json:"operation"`    // "chat", "completion", "embedding"
	APIKeyName       string    `json:"api_key_name"` // gateway key the caller authenticated with
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	DurationMS       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary aggregates records per provider and operation.
type Summary struct {
	Provider         string `json:"provider"`
	Operation        string `json:"operation"`
	Requests         int64  `json:"requests"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// Store persists usage records. The ledger is append-only: the only way
// records leave is retention pruning via DeleteOlderThan.
type Store interface {
	// Insert appends one record, assigning ID and CreatedAt if unset.
	Insert(ctx context.Context, rec *Record) error
	// Get returns a record by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Recent returns the newest records, up to limit. Limit defaults to 50.
	Recent(ctx context.Context, limit int) ([]Record, error)
	// Summarize aggregates records created at or after since, grouped by
	// provider and operation.
	Summarize(ctx context.Context, since time.Time) ([]Summary, error)
	// DeleteOlderThan removes records created before cutoff and reports
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
