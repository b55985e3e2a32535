package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-monolith/mono"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	redisstore "github.com/gofiber/storage/redis/v3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/task-service/modules/activity"
	"github.com/example/task-service/modules/cache"
	"github.com/example/task-service/modules/database"
	"github.com/example/task-service/modules/task"
	"github.com/example/task-service/tracing"
)

// Config holds the HTTP surface settings.
type Config struct {
	AppName        string
	Version        string
	Environment    string
	Addr           string
	Prefix         string
	CORSOrigins    []string
	RequestTimeout time.Duration

	// RateLimitMax of 0 disables rate limiting.
	RateLimitMax    int
	RateLimitWindow time.Duration
	// RedisAddr and RedisPassword back the limiter when the cache is enabled.
	RedisAddr     string
	RedisPassword string

	ActivityEnabled bool
}

// StorageProbe reports database reachability for GET /health.
type StorageProbe interface {
	Ping(ctx context.Context) error
	Status() database.PoolStatus
}

// CacheProbe reports cache reachability for GET /health.
type CacheProbe interface {
	Ping(ctx context.Context) error
}

// healthProbeTimeout bounds the storage and cache probes of GET /health.
const healthProbeTimeout = 2 * time.Second

// Module provides the HTTP API.
type Module struct {
	cfg        Config
	app        *fiber.App
	taskModule *task.Module
	db         *database.Module
	cache      *cache.Module
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     *slog.Logger

	tasks      task.TaskPort
	activity   activity.ActivityPort
	storage    StorageProbe
	cacheProbe CacheProbe
	limitStore fiber.Storage
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.DependentModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new API module. cacheModule may be nil when the cache
// is disabled.
func NewModule(
	cfg Config,
	taskModule *task.Module,
	db *database.Module,
	cacheModule *cache.Module,
	tracer trace.Tracer,
	propagator propagation.TextMapPropagator,
	logger *slog.Logger,
) *Module {
	return &Module{
		cfg:        cfg,
		taskModule: taskModule,
		db:         db,
		cache:      cacheModule,
		tracer:     tracer,
		propagator: propagator,
		logger:     logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "api"
}

// Dependencies returns the modules whose services the API calls.
func (m *Module) Dependencies() []string {
	if !m.cfg.ActivityEnabled {
		return nil
	}
	return []string{"activity"}
}

// SetDependencyServiceContainer receives the service container of a dependency.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "activity" {
		m.activity = activity.NewActivityAdapter(container)
	}
}

// Start builds the fiber app and starts listening.
func (m *Module) Start(_ context.Context) error {
	if m.taskModule == nil || m.taskModule.Service() == nil {
		return fmt.Errorf("task module not started")
	}
	m.tasks = m.taskModule.Service()
	if m.db != nil && m.db.Manager() != nil {
		m.storage = m.db.Manager()
	}
	if m.cache != nil && m.cache.Cache() != nil {
		m.cacheProbe = m.cache.Cache()
	}

	if m.cfg.RateLimitMax > 0 && m.cacheProbe != nil {
		store, err := newRedisStorage(m.cfg.RedisAddr, m.cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("failed to create rate limit storage: %w", err)
		}
		m.limitStore = store
	}

	m.app = m.buildApp()

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("HTTP server listening", "addr", m.cfg.Addr, "prefix", m.cfg.Prefix)
		if err := m.app.Listen(m.cfg.Addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("API module started", "rate_limit", m.cfg.RateLimitMax, "activity", m.activity != nil)
	return nil
}

// Stop shuts down the HTTP server.
func (m *Module) Stop(ctx context.Context) error {
	if m.app != nil {
		if err := m.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	if m.limitStore != nil {
		if err := m.limitStore.Close(); err != nil {
			m.logger.Warn("failed to close rate limit storage", "error", err)
		}
	}
	m.logger.Info("API module stopped")
	return nil
}

// Health reports whether the HTTP server is running.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.app == nil {
		return mono.HealthStatus{Healthy: false, Message: "HTTP server not started"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"addr": m.cfg.Addr},
	}
}

// buildApp wires middleware and routes onto a new fiber app.
func (m *Module) buildApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               m.cfg.AppName,
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
	})

	app.Use(fiberrecover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path} ${locals:requestid}\n",
	}))
	origins := strings.Join(m.cfg.CORSOrigins, ",")
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		// Credentials cannot be combined with a wildcard origin. An empty
		// AllowHeaders reflects the preflight request headers.
		AllowCredentials: origins != "*" && !slices.Contains(m.cfg.CORSOrigins, "*"),
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,HEAD,OPTIONS",
	}))
	app.Use(tracing.Middleware(m.tracer, m.propagator, m.cfg.RequestTimeout))

	app.Get("/", m.info)
	app.Get("/health", m.health)

	api := app.Group(m.cfg.Prefix)
	if m.cfg.RateLimitMax > 0 {
		api.Use(m.rateLimiter())
	}

	tasks := api.Group("/tasks")
	tasks.Post("/", m.createTask)
	tasks.Get("/", m.listTasks)
	tasks.Get("/stats/summary", m.taskStats)
	tasks.Get("/:id", m.getTask)
	tasks.Put("/:id", m.updateTask)
	tasks.Delete("/:id", m.deleteTask)
	tasks.Get("/:id/activity", m.taskActivity)

	return app
}

func (m *Module) rateLimiter() fiber.Handler {
	cfg := limiter.Config{
		Max:        m.cfg.RateLimitMax,
		Expiration: m.cfg.RateLimitWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Error:   "rate_limited",
				Message: "Too many requests",
			})
		},
	}
	if m.limitStore != nil {
		cfg.Storage = m.limitStore
	}
	return limiter.New(cfg)
}

// newRedisStorage creates the shared limiter storage. The gofiber redis
// storage panics when it cannot connect, so the panic is turned into an error.
func newRedisStorage(addr, password string) (store *redisstore.Storage, err error) {
	host, port, err := parseRedisAddr(addr)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			store, err = nil, fmt.Errorf("redis storage: %v", r)
		}
	}()

	return redisstore.New(redisstore.Config{
		Host:     host,
		Port:     port,
		Password: password,
		PoolSize: 10,
	}), nil
}

// parseRedisAddr parses "host:port" into host and port.
func parseRedisAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid redis address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid redis port %q: %w", portStr, err)
	}
	if host == "" {
		host = "localhost"
	}
	return host, port, nil
}
