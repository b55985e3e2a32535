package task

import (
	"slices"
	"time"
)

// Field bounds enforced at the API boundary.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxAssigneeLength    = 100
	MaxTags              = 10
	MaxTagLength         = 50
)

// Status represents the state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in display order.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses(), s)
}

// Open reports whether the task still counts toward deadlines.
func (s Status) Open() bool {
	return s != StatusCompleted && s != StatusCancelled
}

// Priority represents how urgent a task is.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every priority from lowest to highest.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return slices.Contains(Priorities(), p)
}

// Task is the core domain entity.
type Task struct {
	ID          int64
	Title       string
	Description *string
	Status      Status
	Priority    Priority
	Tags        []string
	AssignedTo  *string
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// Patch carries the fields of a partial update. Unset fields are left alone.
type Patch struct {
	Title       Optional[string]
	Description Optional[string]
	Status      Optional[Status]
	Priority    Optional[Priority]
	Tags        Optional[[]string]
	AssignedTo  Optional[string]
	DueDate     Optional[time.Time]
}

// IsEmpty reports whether the patch touches no field.
func (p Patch) IsEmpty() bool {
	return !p.Title.Set && !p.Description.Set && !p.Status.Set && !p.Priority.Set &&
		!p.Tags.Set && !p.AssignedTo.Set && !p.DueDate.Set
}

// Apply merges p into t and returns the names of the fields whose value
// actually changed. UpdatedAt is stamped only when something changed and
// never precedes CreatedAt, so re-applying a patch is a no-op.
func (t *Task) Apply(p Patch, now time.Time) []string {
	var changed []string

	if p.Title.Set && t.Title != p.Title.Value {
		t.Title = p.Title.Value
		changed = append(changed, "title")
	}
	if p.Description.Set && !equalPtr(t.Description, p.Description.Ptr()) {
		t.Description = p.Description.Ptr()
		changed = append(changed, "description")
	}
	if p.Status.Set && t.Status != p.Status.Value {
		t.Status = p.Status.Value
		changed = append(changed, "status")
	}
	if p.Priority.Set && t.Priority != p.Priority.Value {
		t.Priority = p.Priority.Value
		changed = append(changed, "priority")
	}
	if p.Tags.Set {
		tags := []string{}
		if !p.Tags.Null {
			tags = slices.Clone(p.Tags.Value)
		}
		if !slices.Equal(t.Tags, tags) {
			t.Tags = tags
			changed = append(changed, "tags")
		}
	}
	if p.AssignedTo.Set && !equalPtr(t.AssignedTo, p.AssignedTo.Ptr()) {
		t.AssignedTo = p.AssignedTo.Ptr()
		changed = append(changed, "assigned_to")
	}
	if p.DueDate.Set && !equalTime(t.DueDate, p.DueDate.Ptr()) {
		t.DueDate = p.DueDate.Ptr()
		changed = append(changed, "due_date")
	}

	if len(changed) > 0 {
		stamp := now
		if stamp.Before(t.CreatedAt) {
			stamp = t.CreatedAt
		}
		t.UpdatedAt = &stamp
	}
	return changed
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Filter narrows a listing. Nil fields do not filter; set fields are ANDed.
type Filter struct {
	Status     *Status
	Priority   *Priority
	AssignedTo *string
}

// Stats aggregates task counts.
type Stats struct {
	Total             int64
	ByStatus          map[Status]int64
	ByPriority        map[Priority]int64
	UpcomingDeadlines int64
	Overdue           int64
}

// NewStats returns Stats with every status and priority key present.
func NewStats() Stats {
	s := Stats{
		ByStatus:   make(map[Status]int64, len(Statuses())),
		ByPriority: make(map[Priority]int64, len(Priorities())),
	}
	for _, st := range Statuses() {
		s.ByStatus[st] = 0
	}
	for _, pr := range Priorities() {
		s.ByPriority[pr] = 0
	}
	return s
}
