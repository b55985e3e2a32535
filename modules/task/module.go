package task

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-monolith/mono"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/task-service/events"
	"github.com/example/task-service/modules/cache"
	"github.com/example/task-service/modules/database"
)

// Module provides the task service as a mono module.
type Module struct {
	db       *database.Module
	cache    *cache.Module
	eventBus mono.EventBus
	service  *Service
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module             = (*Module)(nil)
	_ mono.EventEmitterModule = (*Module)(nil)
)

// NewModule creates the task module. cacheModule may be nil when the stats
// cache is disabled.
func NewModule(db *database.Module, cacheModule *cache.Module, tracer trace.Tracer, logger *slog.Logger) *Module {
	return &Module{
		db:     db,
		cache:  cacheModule,
		tracer: tracer,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "task"
}

// SetEventBus is called by the framework before Start.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module publishes.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.TaskCreatedV1.ToBase(),
		events.TaskUpdatedV1.ToBase(),
		events.TaskDeletedV1.ToBase(),
	}
}

// Start builds the service on top of the database module's pool.
func (m *Module) Start(_ context.Context) error {
	manager := m.db.Manager()
	if manager == nil {
		return errors.New("database module not started")
	}

	deps := Deps{
		Runner: manager,
		Repo:   NewPostgresRepository(m.tracer),
		Tracer: m.tracer,
		Logger: m.logger,
	}
	if m.cache != nil && m.cache.Cache() != nil {
		deps.Cache = m.cache.Cache()
	}
	if m.eventBus != nil {
		deps.Events = &busPublisher{bus: m.eventBus}
	} else {
		m.logger.Warn("event bus not set, task events will not be published")
	}

	m.service = NewService(deps)
	m.logger.Info("task module started", "stats_cache", deps.Cache != nil)
	return nil
}

// Stop stops the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("task module stopped")
	return nil
}

// Service returns the task service, nil before Start.
func (m *Module) Service() *Service {
	return m.service
}

// busPublisher publishes task events on the mono event bus.
type busPublisher struct {
	bus mono.EventBus
}

func (p *busPublisher) PublishCreated(ev events.TaskCreatedEvent) error {
	return events.TaskCreatedV1.Publish(p.bus, ev, nil)
}

func (p *busPublisher) PublishUpdated(ev events.TaskUpdatedEvent) error {
	return events.TaskUpdatedV1.Publish(p.bus, ev, nil)
}

func (p *busPublisher) PublishDeleted(ev events.TaskDeletedEvent) error {
	return events.TaskDeletedV1.Publish(p.bus, ev, nil)
}
