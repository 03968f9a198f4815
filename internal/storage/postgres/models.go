package postgres

import (
	"time"

	"github.com/jkaninda/salama/internal/usage"
)

// UsageModel maps to the "usage_records" table.
// No UpdatedAt or DeletedAt: the ledger is append-only.
type UsageModel struct {
	ID               string    `gorm:"primaryKey"`
	Provider         string    `gorm:"not null;index:idx_usage_provider_operation"`
	Operation        string    `gorm:"not null;index:idx_usage_provider_operation"`
	Model            string    `gorm:"not null"`
	APIKeyName       string    `gorm:"index"`
	PromptTokens     int       `gorm:"not null;default:0"`
	CompletionTokens int       `gorm:"not null;default:0"`
	TotalTokens      int       `gorm:"not null;default:0"`
	DurationMS       int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"index"`
}

func (UsageModel) TableName() string { return "usage_records" }

func toUsageModel(rec *usage.Record) UsageModel {
	return UsageModel{
		ID:               rec.ID,
		Provider:         rec.Provider,
		Operation:        rec.Operation,
		Model:            rec.Model,
		APIKeyName:       rec.APIKeyName,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		DurationMS:       rec.DurationMS,
		CreatedAt:        rec.CreatedAt,
	}
}

func toUsageDomain(m *UsageModel) usage.Record {
	return usage.Record{
		ID:               m.ID,
		Provider:         m.Provider,
		Operation:        m.Operation,
		Model:            m.Model,
		APIKeyName:       m.APIKeyName,
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		TotalTokens:      m.TotalTokens,
		DurationMS:       m.DurationMS,
		CreatedAt:        m.CreatedAt,
	}
}
