// Package activity records task lifecycle events and serves them back as a
// per-task feed.
package activity

import "time"

// Actions recorded in the feed.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	ID         string    `gorm:"primarykey;size:36"`
	TaskID     int64     `gorm:"index:idx_activity_task_time,priority:1;not null"`
	Action     string    `gorm:"size:20;not null"`
	Title      string    `gorm:"size:200"`
	Status     string    `gorm:"size:20"`
	Changes    []string  `gorm:"serializer:json"`
	OccurredAt time.Time `gorm:"index:idx_activity_task_time,priority:2;not null"`
	CreatedAt  time.Time
}

// TableName returns the table name for Entry.
func (Entry) TableName() string {
	return "task_activity"
}
