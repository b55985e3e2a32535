package activity

import (
	"context"
	"time"
)

// Feed limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListActivityRequest asks for the feed of one task.
type ListActivityRequest struct {
	TaskID int64 `json:"task_id"`
	Limit  int   `json:"limit"`
}

// EntryResponse is one feed item.
type EntryResponse struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Title      string    `json:"title"`
	Status     string    `json:"status,omitempty"`
	Changes    []string  `json:"changes,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ListActivityResponse is the feed of one task, newest first.
type ListActivityResponse struct {
	TaskID  int64           `json:"task_id"`
	Entries []EntryResponse `json:"entries"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
}

// ActivityPort is the contract other modules use to read the feed.
type ActivityPort interface {
	ListActivity(ctx context.Context, taskID int64, limit int) (*ListActivityResponse, error)
}

// clampLimit keeps limit within 1..MaxLimit, defaulting when unset.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func toEntryResponse(e Entry) EntryResponse {
	return EntryResponse{
		ID:         e.ID,
		Action:     e.Action,
		Title:      e.Title,
		Status:     e.Status,
		Changes:    e.Changes,
		OccurredAt: e.OccurredAt,
	}
}
