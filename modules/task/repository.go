package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/example/task-service/domain/task"
	"github.com/example/task-service/modules/database"
	"github.com/example/task-service/tracing"
)

const (
	table       = "tasks"
	taskColumns = "id, title, description, status::text, priority::text, tags, assigned_to, due_date, created_at, updated_at"

	// deadlineWindow is how far ahead a due date counts as upcoming.
	deadlineWindow = 7 * 24 * time.Hour
)

// Repository defines the storage operations for tasks. Every method runs
// on the session of the caller's unit of work.
type Repository interface {
	Insert(ctx context.Context, s database.Session, t *domain.Task) (*domain.Task, error)
	FindByID(ctx context.Context, s database.Session, id int64) (*domain.Task, error)
	FindForUpdate(ctx context.Context, s database.Session, id int64) (*domain.Task, error)
	List(ctx context.Context, s database.Session, f domain.Filter, limit, offset int) ([]*domain.Task, error)
	Count(ctx context.Context, s database.Session, f domain.Filter) (int64, error)
	Update(ctx context.Context, s database.Session, t *domain.Task) (*domain.Task, error)
	Delete(ctx context.Context, s database.Session, id int64) (*domain.Task, error)
	Stats(ctx context.Context, s database.Session, now time.Time) (domain.Stats, error)
}

// PostgresRepository stores tasks in PostgreSQL through pgx.
type PostgresRepository struct {
	tracer trace.Tracer
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository that traces each statement.
func NewPostgresRepository(tracer trace.Tracer) *PostgresRepository {
	return &PostgresRepository{tracer: tracer}
}

// Insert stores t and returns the row as persisted.
func (r *PostgresRepository) Insert(ctx context.Context, s database.Session, t *domain.Task) (*domain.Task, error) {
	ctx, span := tracing.StartDB(ctx, r.tracer, database.System, "INSERT", table)

	row := s.QueryRow(ctx, `INSERT INTO tasks
		(title, description, status, priority, tags, assigned_to, due_date, created_at)
		VALUES ($1, $2, $3::task_status, $4::task_priority, $5, $6, $7, $8)
		RETURNING `+taskColumns,
		t.Title, t.Description, string(t.Status), string(t.Priority), tagsArg(t.Tags),
		t.AssignedTo, t.DueDate, t.CreatedAt,
	)
	created, err := scanTask(row)
	if err != nil {
		err = database.Classify(fmt.Errorf("insert task: %w", err))
	}
	tracing.End(span, err, database.Kind(err))
	return created, err
}

// FindByID returns the task with id or domain.ErrNotFound.
func (r *PostgresRepository) FindByID(ctx context.Context, s database.Session, id int64) (*domain.Task, error) {
	return r.findOne(ctx, s, id, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`)
}

// FindForUpdate is FindByID with a row lock held until the session ends.
func (r *PostgresRepository) FindForUpdate(ctx context.Context, s database.Session, id int64) (*domain.Task, error) {
	return r.findOne(ctx, s, id, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`)
}

func (r *PostgresRepository) findOne(ctx context.Context, s database.Session, id int64, query string) (*domain.Task, error) {
	ctx, span := tracing.StartDB(ctx, r.tracer, database.System, "SELECT", table)

	t, err := scanTask(s.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrNotFound
			// A miss is an expected outcome, not a failed statement.
			span.End()
			return nil, err
		}
		err = database.Classify(fmt.Errorf("select task: %w", err))
	}
	tracing.End(span, err, database.Kind(err))
	return t, err
}

// List returns one page of tasks matching f, newest first.
func (r *PostgresRepository) List(ctx context.Context, s database.Session, f domain.Filter, limit, offset int) ([]*domain.Task, error) {
	ctx, span := tracing.StartDB(ctx, r.tracer, database.System, "SELECT", table)

	where, args := whereClause(f)
	n := len(args)
	query := `SELECT ` + taskColumns + ` FROM tasks` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	args = append(args, limit, offset)

	tasks, err := r.queryTasks(ctx, s, query, args)
	if err != nil {
		err = database.Classify(fmt.Errorf("list tasks: %w", err))
	}
	tracing.End(span, err, database.Kind(err))
	return tasks, err
}

func (r *PostgresRepository) queryTasks(ctx context.Context, s database.Session, query string, args []any) ([]*domain.Task, error) {
	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Count returns the number of tasks matching f.
func (r *PostgresRepository) Count(ctx context.Context, s database.Session, f domain.Filter) (int64, error) {
	ctx, span := tracing.StartDB(ctx, r.tracer, database.System, "SELECT", table)

	where, args := whereClause(f)
	var total int64
	err := s.QueryRow(ctx, `SELECT count(*) FROM tasks`+where, args...).Scan(&total)
	if err != nil {
		err = database.Classify(fmt.Errorf("count tasks: %w", err))
	}
	tracing.End(span, err, database.Kind(err))
	return total, err
}

// Update writes every mutable column of t.
func (r *PostgresRepository) Update(ctx context.Context, s database.Session, t *domain.Task) (*domain.Task, error) {
	ctx, span := tracing.StartDB(ctx, r.tracer, database.System, "UPDATE", table)

	row := s.QueryRow(ctx, `UPDATE tasks SET
		title = $2, description = $3, status = $4::task_status, priority = $5::task_priority,
		tags = $6, assigned_to = $7, due_date = $8, updated_at = $9
		WHERE id = $1
		RETURNING `+taskColumns,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), tagsArg(t.Tags),
		t.AssignedTo, t.DueDate, t.UpdatedAt,
	)
	updated, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		span.End()
		return nil, domain.ErrNotFound
	}
	if err != nil {
		err = database.Classify(fmt.Errorf("update task: %w", err))
	}
	tracing.End(span, err, database.Kind(err))
	return updated, err
}

// Delete removes the task with id and returns it as it was.
func (r *PostgresRepository) Delete(ctx context.Context, s database.Session, id int64) (*domain.Task, error) {
	ctx, span := tracing.StartDB(ctx, r.tracer, database.System, "DELETE", table)

	deleted, err := scanTask(s.QueryRow(ctx, `DELETE FROM tasks WHERE id = $1 RETURNING `+taskColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		span.End()
		return nil, domain.ErrNotFound
	}
	if err != nil {
		err = database.Classify(fmt.Errorf("delete task: %w", err))
	}
	tracing.End(span, err, database.Kind(err))
	return deleted, err
}

// Stats aggregates counts from a single grouped scan so both breakdowns
// sum to the same total.
func (r *PostgresRepository) Stats(ctx context.Context, s database.Session, now time.Time) (domain.Stats, error) {
	ctx, span := tracing.StartDB(ctx, r.tracer, database.System, "SELECT", table)

	stats, err := r.stats(ctx, s, now)
	if err != nil {
		err = database.Classify(fmt.Errorf("task stats: %w", err))
	}
	tracing.End(span, err, database.Kind(err))
	return stats, err
}

func (r *PostgresRepository) stats(ctx context.Context, s database.Session, now time.Time) (domain.Stats, error) {
	rows, err := s.Query(ctx, `SELECT status::text, priority::text, count(*),
			count(*) FILTER (WHERE due_date >= $1 AND due_date <= $2),
			count(*) FILTER (WHERE due_date < $1)
		FROM tasks
		GROUP BY status, priority`,
		now, now.Add(deadlineWindow),
	)
	if err != nil {
		return domain.Stats{}, err
	}
	defer rows.Close()

	var groups []statsGroup
	for rows.Next() {
		var g statsGroup
		var status, priority string
		if err := rows.Scan(&status, &priority, &g.count, &g.upcoming, &g.overdue); err != nil {
			return domain.Stats{}, err
		}
		g.status = domain.Status(status)
		g.priority = domain.Priority(priority)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return domain.Stats{}, err
	}
	return foldStats(groups), nil
}

// statsGroup is one (status, priority) bucket of the grouped stats query.
type statsGroup struct {
	status   domain.Status
	priority domain.Priority
	count    int64
	upcoming int64
	overdue  int64
}

// foldStats sums buckets into Stats. Deadlines only count for open tasks.
func foldStats(groups []statsGroup) domain.Stats {
	stats := domain.NewStats()
	for _, g := range groups {
		stats.Total += g.count
		stats.ByStatus[g.status] += g.count
		stats.ByPriority[g.priority] += g.count
		if g.status.Open() {
			stats.UpcomingDeadlines += g.upcoming
			stats.Overdue += g.overdue
		}
	}
	return stats
}

// whereClause builds the AND-ed filter predicate and its arguments.
func whereClause(f domain.Filter) (string, []any) {
	var conds []string
	var args []any

	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args))+"::task_status")
	}
	if f.Priority != nil {
		args = append(args, string(*f.Priority))
		conds = append(conds, "priority = $"+strconv.Itoa(len(args))+"::task_priority")
	}
	if f.AssignedTo != nil {
		args = append(args, *f.AssignedTo)
		conds = append(conds, "assigned_to = $"+strconv.Itoa(len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func tagsArg(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var status, priority string
	if err := row.Scan(
		&t.ID, &t.Title, &t.Description, &status, &priority, &t.Tags,
		&t.AssignedTo, &t.DueDate, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return &t, nil
}
