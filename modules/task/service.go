package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	domain "github.com/example/task-service/domain/task"
	"github.com/example/task-service/events"
	"github.com/example/task-service/modules/database"
	"github.com/example/task-service/tracing"
)

// Error kinds attached to spans for domain failures.
const (
	KindValidationFailed = "validation_failed"
	KindNotFound         = "not_found"
)

// statsCacheKey is where the stats summary is cached.
const statsCacheKey = "stats:summary"

// statsComputeTimeout bounds a shared stats computation.
const statsComputeTimeout = 30 * time.Second

// ErrorKind names the taxonomy class of err.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidationFailed):
		return KindValidationFailed
	case errors.Is(err, domain.ErrNotFound):
		return KindNotFound
	default:
		return database.Kind(err)
	}
}

// StatsCache is the cache-aside store for the stats summary.
type StatsCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// EventPublisher publishes task lifecycle events.
type EventPublisher interface {
	PublishCreated(ev events.TaskCreatedEvent) error
	PublishUpdated(ev events.TaskUpdatedEvent) error
	PublishDeleted(ev events.TaskDeletedEvent) error
}

// Deps are the collaborators of a Service. Cache and Events are optional.
type Deps struct {
	Runner    database.Runner
	Repo      Repository
	Validator *Validator
	Cache     StatsCache
	Events    EventPublisher
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service implements the task operations.
type Service struct {
	runner    database.Runner
	repo      Repository
	validator *Validator
	cache     StatsCache
	events    EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	clock     func() time.Time
	stats     singleflight.Group
}

var _ TaskPort = (*Service)(nil)

// NewService creates a task service.
func NewService(d Deps) *Service {
	clock := d.Now
	if clock == nil {
		clock = time.Now
	}
	v := d.Validator
	if v == nil {
		v = NewValidator(clock)
	}
	return &Service{
		runner:    d.Runner,
		repo:      d.Repo,
		validator: v,
		cache:     d.Cache,
		events:    d.Events,
		tracer:    d.Tracer,
		logger:    d.Logger,
		clock:     clock,
	}
}

// now is the service clock at storage precision.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// Create validates req and stores a new task.
func (s *Service) Create(ctx context.Context, req CreateTaskRequest) (*domain.Task, error) {
	_, span := s.tracer.Start(ctx, "task.validate.create")
	t, err := s.validator.ValidateCreate(req)
	tracing.End(span, err, KindValidationFailed)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	t.CreatedAt = s.now()

	var created *domain.Task
	err = s.runner.WithSession(ctx, func(ctx context.Context, sess database.Session) error {
		var err error
		created, err = s.repo.Insert(ctx, sess, t)
		return err
	})
	if err != nil {
		s.logger.Error("failed to create task", "error", err)
		return nil, s.fail(ctx, fmt.Errorf("failed to create task: %w", err))
	}

	s.invalidateStats(ctx)
	s.publish("TaskCreated", created.ID, func(p EventPublisher) error {
		return p.PublishCreated(events.TaskCreatedEvent{
			TaskID:    created.ID,
			Title:     created.Title,
			Status:    string(created.Status),
			Priority:  string(created.Priority),
			CreatedAt: created.CreatedAt,
		})
	})

	s.logger.Info("task created", "task_id", created.ID)
	return created, nil
}

// Get returns the task with id.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Task, error) {
	var t *domain.Task
	err := s.runner.WithReadOnlySession(ctx, func(ctx context.Context, sess database.Session) error {
		var err error
		t, err = s.repo.FindByID(ctx, sess, id)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, wrapTaskError(id, err))
	}
	return t, nil
}

// List returns one page of tasks. The count and the page are read from the
// same snapshot.
func (s *Service) List(ctx context.Context, req ListTasksRequest) (*Page, error) {
	_, span := s.tracer.Start(ctx, "task.validate.list")
	q, err := s.validator.ValidateList(req)
	tracing.End(span, err, KindValidationFailed)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	page := &Page{Page: q.Page, Size: q.Size}
	err = s.runner.WithReadOnlySession(ctx, func(ctx context.Context, sess database.Session) error {
		total, err := s.repo.Count(ctx, sess, q.Filter)
		if err != nil {
			return err
		}
		items, err := s.repo.List(ctx, sess, q.Filter, q.Size, q.Offset())
		if err != nil {
			return err
		}
		page.Total = total
		page.Items = items
		return nil
	})
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err)
		return nil, s.fail(ctx, fmt.Errorf("failed to list tasks: %w", err))
	}
	return page, nil
}

// Update applies the supplied fields of req to the task with id. The row
// is locked for the duration of the unit of work.
func (s *Service) Update(ctx context.Context, id int64, req UpdateTaskRequest) (*domain.Task, error) {
	_, span := s.tracer.Start(ctx, "task.validate.update")
	patch, err := s.validator.ValidateUpdate(req)
	tracing.End(span, err, KindValidationFailed)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if patch.IsEmpty() {
		return s.Get(ctx, id)
	}

	var updated *domain.Task
	var changed []string
	err = s.runner.WithSession(ctx, func(ctx context.Context, sess database.Session) error {
		current, err := s.repo.FindForUpdate(ctx, sess, id)
		if err != nil {
			return err
		}
		changed = current.Apply(patch, s.now())
		if len(changed) == 0 {
			updated = current
			return nil
		}
		updated, err = s.repo.Update(ctx, sess, current)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("failed to update task", "task_id", id, "error", err)
		}
		return nil, s.fail(ctx, wrapTaskError(id, err))
	}
	if len(changed) == 0 {
		return updated, nil
	}

	s.invalidateStats(ctx)
	s.publish("TaskUpdated", updated.ID, func(p EventPublisher) error {
		return p.PublishUpdated(events.TaskUpdatedEvent{
			TaskID:    updated.ID,
			Title:     updated.Title,
			Status:    string(updated.Status),
			Changed:   changed,
			UpdatedAt: *updated.UpdatedAt,
		})
	})

	s.logger.Info("task updated", "task_id", id, "changed", changed)
	return updated, nil
}

// Delete removes the task with id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var deleted *domain.Task
	err := s.runner.WithSession(ctx, func(ctx context.Context, sess database.Session) error {
		var err error
		deleted, err = s.repo.Delete(ctx, sess, id)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("failed to delete task", "task_id", id, "error", err)
		}
		return s.fail(ctx, wrapTaskError(id, err))
	}

	s.invalidateStats(ctx)
	s.publish("TaskDeleted", id, func(p EventPublisher) error {
		return p.PublishDeleted(events.TaskDeletedEvent{
			TaskID:    id,
			Title:     deleted.Title,
			DeletedAt: s.now(),
		})
	})

	s.logger.Info("task deleted", "task_id", id)
	return nil
}

// Stats returns aggregate counts. A cached summary is served when present;
// concurrent misses share one computation.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	if s.cache != nil {
		var cached domain.Stats
		found, err := s.cache.Get(ctx, statsCacheKey, &cached)
		if err != nil {
			s.logger.Warn("stats cache read failed", "error", err)
		}
		if found {
			return cached, nil
		}
	}

	// The shared computation outlives any single caller; each caller stops
	// waiting when its own context ends.
	ch := s.stats.DoChan(statsCacheKey, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsComputeTimeout)
		defer cancel()

		var stats domain.Stats
		err := s.runner.WithReadOnlySession(ctx, func(ctx context.Context, sess database.Session) error {
			var err error
			stats, err = s.repo.Stats(ctx, sess, s.now())
			return err
		})
		if err != nil {
			return domain.Stats{}, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, statsCacheKey, stats); err != nil {
				s.logger.Warn("stats cache write failed", "error", err)
			}
		}
		return stats, nil
	})

	select {
	case <-ctx.Done():
		return domain.Stats{}, s.fail(ctx, fmt.Errorf("failed to compute stats: %w", ctx.Err()))
	case res := <-ch:
		if res.Err != nil {
			s.logger.Error("failed to compute stats", "error", res.Err)
			return domain.Stats{}, s.fail(ctx, fmt.Errorf("failed to compute stats: %w", res.Err))
		}
		return res.Val.(domain.Stats), nil
	}
}

// fail marks the active span with the error kind and returns err unchanged.
func (s *Service) fail(ctx context.Context, err error) error {
	tracing.RecordError(trace.SpanFromContext(ctx), err, ErrorKind(err))
	return err
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		s.logger.Warn("stats cache invalidation failed", "error", err)
	}
}

// publish is best-effort; failures are logged and never fail the operation.
func (s *Service) publish(event string, taskID int64, fn func(EventPublisher) error) {
	if s.events == nil {
		return
	}
	if err := fn(s.events); err != nil {
		s.logger.Warn("failed to publish event", "event", event, "task_id", taskID, "error", err)
	}
}

func wrapTaskError(id int64, err error) error {
	return fmt.Errorf("task %d: %w", id, err)
}
