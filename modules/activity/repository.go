package activity

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repository provides access to the activity log.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new activity repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the activity table.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&Entry{})
}

// Record stores one entry.
func (r *Repository) Record(ctx context.Context, e *Entry) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// ListByTask returns up to limit entries for taskID, newest first.
func (r *Repository) ListByTask(ctx context.Context, taskID int64, limit int) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("occurred_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return entries, nil
}

// CountByTask returns the number of entries recorded for taskID.
func (r *Repository) CountByTask(ctx context.Context, taskID int64) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Entry{}).Where("task_id = ?", taskID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return n, nil
}
