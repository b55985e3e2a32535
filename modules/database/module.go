package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-monolith/mono"
	"go.opentelemetry.io/otel/trace"
)

// Module hosts the connection manager as a mono module.
type Module struct {
	opts    Options
	manager *Manager
	tracer  trace.Tracer
	logger  *slog.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the database module. The pool is opened in Start.
func NewModule(opts Options, tracer trace.Tracer, logger *slog.Logger) *Module {
	return &Module{
		opts:   opts,
		tracer: tracer,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "database"
}

// Start opens the pool and bootstraps the schema.
func (m *Module) Start(ctx context.Context) error {
	m.logger.Info("connecting to PostgreSQL")

	manager, err := Open(ctx, m.opts, m.tracer, m.logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := manager.EnsureSchema(ctx); err != nil {
		manager.Close()
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	m.manager = manager
	m.logger.Info("database module started")
	return nil
}

// Stop closes the pool.
func (m *Module) Stop(_ context.Context) error {
	if m.manager == nil {
		return nil
	}
	m.logger.Info("closing database connection pool")
	m.manager.Close()
	return nil
}

// Manager returns the connection manager, nil before Start.
func (m *Module) Manager() *Manager {
	return m.manager
}

// Health pings the store and reports pool usage.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.manager == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database pool not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := m.manager.Status()
	details := map[string]any{
		"driver": "pgx/v5",
		"pool":   status,
	}

	if err := m.manager.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
			Details: details,
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}
