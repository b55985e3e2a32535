package task

import (
	"context"
	"time"

	domain "github.com/example/task-service/domain/task"
)

// Pagination bounds for ListTasks.
const (
	DefaultPage = 1
	DefaultSize = 20
	MaxSize     = 100
)

// CreateTaskRequest is the payload for creating a task.
type CreateTaskRequest struct {
	Title       string           `json:"title"`
	Description *string          `json:"description"`
	Status      *domain.Status   `json:"status"`
	Priority    *domain.Priority `json:"priority"`
	Tags        []string         `json:"tags"`
	AssignedTo  *string          `json:"assigned_to"`
	DueDate     *time.Time       `json:"due_date"`
}

// UpdateTaskRequest is the payload for a partial update. Only keys present
// in the JSON body are applied.
type UpdateTaskRequest struct {
	Title       domain.Optional[string]          `json:"title"`
	Description domain.Optional[string]          `json:"description"`
	Status      domain.Optional[domain.Status]   `json:"status"`
	Priority    domain.Optional[domain.Priority] `json:"priority"`
	Tags        domain.Optional[[]string]        `json:"tags"`
	AssignedTo  domain.Optional[string]          `json:"assigned_to"`
	DueDate     domain.Optional[time.Time]       `json:"due_date"`
}

// TaskResponse is the full projection of a stored task.
type TaskResponse struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description *string         `json:"description"`
	Status      domain.Status   `json:"status"`
	Priority    domain.Priority `json:"priority"`
	Tags        []string        `json:"tags"`
	AssignedTo  *string         `json:"assigned_to"`
	DueDate     *time.Time      `json:"due_date"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   *time.Time      `json:"updated_at"`
}

// ListTasksRequest carries paging and filters. Empty filter strings do not
// filter.
type ListTasksRequest struct {
	Page       int    `json:"page"`
	Size       int    `json:"size"`
	Status     string `json:"status,omitempty"`
	Priority   string `json:"priority,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

// ListTasksResponse is one page of tasks.
type ListTasksResponse struct {
	Items []TaskResponse `json:"items"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

// StatsResponse is the aggregate summary.
type StatsResponse struct {
	Total             int64                     `json:"total"`
	ByStatus          map[domain.Status]int64   `json:"by_status"`
	ByPriority        map[domain.Priority]int64 `json:"by_priority"`
	UpcomingDeadlines int64                     `json:"upcoming_deadlines"`
	Overdue           int64                     `json:"overdue"`
}

// Page is a slice of tasks with the total matching count.
type Page struct {
	Items []*domain.Task
	Total int64
	Page  int
	Size  int
}

// TaskPort is the contract the HTTP adapter drives.
type TaskPort interface {
	Create(ctx context.Context, req CreateTaskRequest) (*domain.Task, error)
	Get(ctx context.Context, id int64) (*domain.Task, error)
	List(ctx context.Context, req ListTasksRequest) (*Page, error)
	Update(ctx context.Context, id int64, req UpdateTaskRequest) (*domain.Task, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (domain.Stats, error)
}

// ToResponse projects a domain task onto the response shape.
func ToResponse(t *domain.Task) TaskResponse {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Tags:        tags,
		AssignedTo:  t.AssignedTo,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// ToListResponse projects a page onto the response shape.
func ToListResponse(p *Page) ListTasksResponse {
	items := make([]TaskResponse, 0, len(p.Items))
	for _, t := range p.Items {
		items = append(items, ToResponse(t))
	}
	return ListTasksResponse{
		Items: items,
		Total: p.Total,
		Page:  p.Page,
		Size:  p.Size,
	}
}

// ToStatsResponse projects aggregate counts onto the response shape.
func ToStatsResponse(s domain.Stats) StatsResponse {
	full := domain.NewStats()
	for k, v := range s.ByStatus {
		full.ByStatus[k] = v
	}
	for k, v := range s.ByPriority {
		full.ByPriority[k] = v
	}
	return StatsResponse{
		Total:             s.Total,
		ByStatus:          full.ByStatus,
		ByPriority:        full.ByPriority,
		UpcomingDeadlines: s.UpcomingDeadlines,
		Overdue:           s.Overdue,
	}
}
