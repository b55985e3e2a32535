package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/task-service/events"
)

var errNotReady = errors.New("activity store not initialized")

// Module records task events in SQLite through GORM and serves the feed.
type Module struct {
	db     *gorm.DB
	repo   *Repository
	dbPath string
	debug  bool
	logger *slog.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the activity module. debug turns on GORM query logging.
func NewModule(dbPath string, debug bool, logger *slog.Logger) *Module {
	return &Module{
		dbPath: dbPath,
		debug:  debug,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "activity"
}

// RegisterEventConsumers subscribes to the task lifecycle events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(registry, events.TaskCreatedV1, m.handleTaskCreated, m); err != nil {
		return fmt.Errorf("failed to register TaskCreated consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.TaskUpdatedV1, m.handleTaskUpdated, m); err != nil {
		return fmt.Errorf("failed to register TaskUpdated consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.TaskDeletedV1, m.handleTaskDeleted, m); err != nil {
		return fmt.Errorf("failed to register TaskDeleted consumer: %w", err)
	}

	m.logger.Info("registered event consumers", "events", []string{"TaskCreated", "TaskUpdated", "TaskDeleted"})
	return nil
}

// RegisterServices registers the list service.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, "list", json.Unmarshal, json.Marshal, m.listActivity,
	); err != nil {
		return fmt.Errorf("failed to register list service: %w", err)
	}
	return nil
}

// Start opens the SQLite database and migrates the schema.
func (m *Module) Start(_ context.Context) error {
	logLevel := logger.Silent
	if m.debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(m.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to activity database: %w", err)
	}

	repo := NewRepository(db)
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run activity migrations: %w", err)
	}

	m.db = db
	m.repo = repo
	m.logger.Info("activity module started", "path", m.dbPath)
	return nil
}

// Stop closes the database.
func (m *Module) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close activity database: %w", err)
	}
	m.logger.Info("activity module stopped")
	return nil
}

// Health pings the SQLite database.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{Healthy: false, Message: "database not initialized"}
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("failed to get sql.DB: %v", err)}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("database ping failed: %v", err)}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"driver": "sqlite", "path": m.dbPath},
	}
}

func (m *Module) record(ctx context.Context, e *Entry) error {
	if m.repo == nil {
		return errNotReady
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate entry id: %w", err)
	}
	e.ID = id.String()
	if err := m.repo.Record(ctx, e); err != nil {
		m.logger.Error("failed to record activity", "task_id", e.TaskID, "action", e.Action, "error", err)
		return err
	}
	m.logger.Debug("activity recorded", "task_id", e.TaskID, "action", e.Action)
	return nil
}

func (m *Module) handleTaskCreated(ctx context.Context, ev events.TaskCreatedEvent, _ *mono.Msg) error {
	return m.record(ctx, &Entry{
		TaskID:     ev.TaskID,
		Action:     ActionCreated,
		Title:      ev.Title,
		Status:     ev.Status,
		OccurredAt: ev.CreatedAt,
	})
}

func (m *Module) handleTaskUpdated(ctx context.Context, ev events.TaskUpdatedEvent, _ *mono.Msg) error {
	return m.record(ctx, &Entry{
		TaskID:     ev.TaskID,
		Action:     ActionUpdated,
		Title:      ev.Title,
		Status:     ev.Status,
		Changes:    ev.Changed,
		OccurredAt: ev.UpdatedAt,
	})
}

func (m *Module) handleTaskDeleted(ctx context.Context, ev events.TaskDeletedEvent, _ *mono.Msg) error {
	return m.record(ctx, &Entry{
		TaskID:     ev.TaskID,
		Action:     ActionDeleted,
		Title:      ev.Title,
		OccurredAt: ev.DeletedAt,
	})
}

// listActivity handles the list service request.
func (m *Module) listActivity(ctx context.Context, req ListActivityRequest, _ *mono.Msg) (ListActivityResponse, error) {
	if m.repo == nil {
		return ListActivityResponse{}, errNotReady
	}
	limit := clampLimit(req.Limit)

	entries, err := m.repo.ListByTask(ctx, req.TaskID, limit)
	if err != nil {
		return ListActivityResponse{}, err
	}
	total, err := m.repo.CountByTask(ctx, req.TaskID)
	if err != nil {
		return ListActivityResponse{}, err
	}

	resp := ListActivityResponse{
		TaskID:  req.TaskID,
		Entries: make([]EntryResponse, 0, len(entries)),
		Total:   total,
		Limit:   limit,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	return resp, nil
}
