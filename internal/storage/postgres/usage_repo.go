package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/salama/internal/usage"
)

// UsageRepository implements usage.Store on GORM. It is shared by the
// PostgreSQL and SQLite backends.
type UsageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a UsageRepository.
func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Insert appends one usage record, assigning ID and CreatedAt if unset.
// This is the only write method besides pruning; immutability is enforced
// at the interface level.
func (r *UsageRepository) Insert(ctx context.Context, rec *usage.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	model := toUsageModel(rec)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("inserting usage record: %w", err)
	}
	return nil
}

// Get returns a record by ID, or usage.ErrNotFound.
func (r *UsageRepository) Get(ctx context.Context, id string) (*usage.Record, error) {
	var model UsageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, usage.ErrNotFound
		}
		return nil, fmt.Errorf("loading usage record: %w", err)
	}

	rec := toUsageDomain(&model)
	return &rec, nil
}

// Recent returns the newest records, up to limit. Limit defaults to 50.
func (r *UsageRepository) Recent(ctx context.Context, limit int) ([]usage.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []UsageModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}

	records := make([]usage.Record, len(models))
	for i := range models {
		records[i] = toUsageDomain(&models[i])
	}
	return records, nil
}

// Summarize aggregates records created at or after since, grouped by
// provider and operation.
func (r *UsageRepository) Summarize(ctx context.Context, since time.Time) ([]usage.Summary, error) {
	var summaries []usage.Summary
	err := r.db.WithContext(ctx).
		Model(&UsageModel{}).
		Select("provider, operation, COUNT(*) AS requests, " +
			"COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens, " +
			"COALESCE(SUM(completion_tokens), 0) AS completion_tokens, " +
			"COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Where("created_at >= ?", since).
		Group("provider, operation").
		Order("provider, operation").
		Scan(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("summarizing usage: %w", err)
	}
	return summaries, nil
}

// DeleteOlderThan removes records created before cutoff and reports how
// many rows were removed.
func (r *UsageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&UsageModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning usage records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// compile-time interface check
var _ usage.Store = (*UsageRepository)(nil)
