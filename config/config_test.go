package config

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "task-service", cfg.AppName)
	assert.Equal(t, "1.0.0", cfg.Version)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:8080"}, cfg.CORSOrigins)
	assert.Equal(t, 20, cfg.Database.PoolSize)
	assert.Equal(t, 10, cfg.Database.MaxOverflow)
	assert.Equal(t, 30, cfg.Database.MaxConnections())
	assert.Equal(t, 30*time.Second, cfg.Database.PoolTimeout)
	assert.Equal(t, time.Hour, cfg.Database.PoolRecycle)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "task-service", cfg.Tracing.ServiceName)
	assert.Equal(t, DefaultSecretKey, cfg.SecretKey)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Activity.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_POOL_SIZE", "5")
	t.Setenv("DB_MAX_OVERFLOW", "2")
	t.Setenv("DB_POOL_RECYCLE", "600")
	t.Setenv("DB_POOL_TIMEOUT", "5s")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_ENDPOINT", "otel-collector:4317")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Database.PoolSize)
	assert.Equal(t, 7, cfg.Database.MaxConnections())
	assert.Equal(t, 10*time.Minute, cfg.Database.PoolRecycle)
	assert.Equal(t, 5*time.Second, cfg.Database.PoolTimeout)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otel-collector:4317", cfg.Tracing.ExporterEndpoint)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{
			name:    "malformed int",
			env:     map[string]string{"DB_POOL_SIZE": "twenty"},
			wantMsg: "DB_POOL_SIZE",
		},
		{
			name:    "malformed bool",
			env:     map[string]string{"OTEL_ENABLED": "maybe"},
			wantMsg: "OTEL_ENABLED",
		},
		{
			name:    "malformed duration",
			env:     map[string]string{"DB_POOL_TIMEOUT": "soon"},
			wantMsg: "DB_POOL_TIMEOUT",
		},
		{
			name:    "zero pool",
			env:     map[string]string{"DB_POOL_SIZE": "0"},
			wantMsg: "DB_POOL_SIZE must be at least 1",
		},
		{
			name:    "negative overflow",
			env:     map[string]string{"DB_MAX_OVERFLOW": "-1"},
			wantMsg: "DB_MAX_OVERFLOW",
		},
		{
			name:    "unknown log format",
			env:     map[string]string{"LOG_FORMAT": "xml"},
			wantMsg: "LOG_FORMAT",
		},
		{
			name:    "unknown log level",
			env:     map[string]string{"LOG_LEVEL": "LOUD"},
			wantMsg: "LOG_LEVEL",
		},
		{
			name:    "production with default secret",
			env:     map[string]string{"ENVIRONMENT": "production"},
			wantMsg: "SECRET_KEY must be changed",
		},
		{
			name:    "production with short secret",
			env:     map[string]string{"ENVIRONMENT": "production", "SECRET_KEY": "too-short"},
			wantMsg: "at least 32 characters",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, errors.Is(err, ErrConfigurationInvalid), "expected ErrConfigurationInvalid, got %v", err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestLoad_ProductionWithStrongSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SECRET_KEY", strings.Repeat("k", 32))

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_ReportsEveryViolation(t *testing.T) {
	t.Setenv("DB_POOL_SIZE", "0")
	t.Setenv("LOG_FORMAT", "yaml")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_POOL_SIZE")
	assert.Contains(t, err.Error(), "LOG_FORMAT")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("built from parts", func(t *testing.T) {
		d := DatabaseConfig{
			Host:           "db",
			Port:           5433,
			User:           "svc",
			Password:       "p@ss",
			Name:           "taskdb",
			SSLMode:        "disable",
			ConnectTimeout: 10 * time.Second,
		}

		dsn := d.DSN("task-service")
		assert.True(t, strings.HasPrefix(dsn, "postgres://svc:p%40ss@db:5433/taskdb?"), dsn)
		assert.Contains(t, dsn, "application_name=task-service")
		assert.Contains(t, dsn, "connect_timeout=10")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("url wins", func(t *testing.T) {
		d := DatabaseConfig{URL: "postgres://x@y/z", Host: "ignored"}
		assert.Equal(t, "postgres://x@y/z", d.DSN("task-service"))
	})
}
