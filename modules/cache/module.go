package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-monolith/mono"
	"github.com/redis/go-redis/v9"
)

// Config holds cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	Prefix        string
	TTL           time.Duration
}

// Module provides the cache as a mono module.
type Module struct {
	cfg    Config
	cache  *Cache
	logger *slog.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new cache module.
func NewModule(cfg Config, logger *slog.Logger) *Module {
	return &Module{cfg: cfg, logger: logger}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "cache"
}

// Start connects to Redis.
func (m *Module) Start(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:         m.cfg.RedisAddr,
		Password:     m.cfg.RedisPassword,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	m.cache = New(client, m.cfg.Prefix, m.cfg.TTL)
	m.logger.Info("cache module started", "addr", m.cfg.RedisAddr, "prefix", m.cfg.Prefix, "ttl", m.cfg.TTL)
	return nil
}

// Stop closes the Redis connection.
func (m *Module) Stop(_ context.Context) error {
	if m.cache == nil {
		return nil
	}
	if err := m.cache.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	m.logger.Info("cache module stopped")
	return nil
}

// Cache returns the cache, nil before Start.
func (m *Module) Cache() *Cache {
	return m.cache
}

// Health pings Redis and reports hit statistics.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.cache == nil {
		return mono.HealthStatus{Healthy: false, Message: "cache not initialized"}
	}
	if err := m.cache.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("redis ping failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"stats": m.cache.Stats()},
	}
}
