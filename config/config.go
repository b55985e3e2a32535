// Package config resolves the service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfigurationInvalid is returned when the environment cannot produce a
// usable configuration. The process must not start when it is returned.
var ErrConfigurationInvalid = errors.New("configuration invalid")

// DefaultSecretKey is the development secret. It is rejected in production.
const DefaultSecretKey = "dev-secret-key-change-in-production"

const minProductionSecretLength = 32

// Config holds every setting the service reads at startup.
// It is built once in main and passed to the modules that need it.
type Config struct {
	AppName     string
	Version     string
	Environment string
	Debug       bool

	HTTPAddr        string
	APIPrefix       string
	CORSOrigins     []string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	Database  DatabaseConfig
	Tracing   TracingConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Activity  ActivityConfig

	SecretKey string
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL connection and pool settings.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	// PoolSize is the number of connections kept open.
	PoolSize int
	// MaxOverflow is how many extra connections may be opened under load.
	MaxOverflow    int
	PoolTimeout    time.Duration
	PoolRecycle    time.Duration
	ConnectTimeout time.Duration
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled          bool
	ExporterEndpoint string
	ServiceName      string
}

// CacheConfig holds Redis settings for the stats cache.
type CacheConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	StatsTTL      time.Duration
}

// RateLimitConfig holds API rate limiting settings. Max 0 disables it.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// ActivityConfig holds the activity feed settings.
type ActivityConfig struct {
	Enabled bool
	DBPath  string
}

// IsProduction reports whether the environment tag is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// DSN returns the PostgreSQL connection string. DATABASE_URL wins over the
// individual parts when set.
func (d DatabaseConfig) DSN(appName string) string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	q.Set("application_name", appName)
	q.Set("connect_timeout", strconv.Itoa(int(d.ConnectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

// MaxConnections is the hard cap on concurrent connections.
func (d DatabaseConfig) MaxConnections() int {
	return d.PoolSize + d.MaxOverflow
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	l := &loader{}

	cfg := &Config{
		AppName:         l.getEnv("APP_NAME", "task-service"),
		Version:         l.getEnv("VERSION", "1.0.0"),
		Environment:     l.getEnv("ENVIRONMENT", "development"),
		Debug:           l.getEnvBool("DEBUG", false),
		HTTPAddr:        l.getEnv("HTTP_ADDR", ":8000"),
		APIPrefix:       l.getEnv("API_V1_PREFIX", "/api/v1"),
		CORSOrigins:     splitList(l.getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		RequestTimeout:  l.getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: l.getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Database: DatabaseConfig{
			URL:            l.getEnv("DATABASE_URL", ""),
			Host:           l.getEnv("DB_HOST", "localhost"),
			Port:           l.getEnvInt("DB_PORT", 5432),
			User:           l.getEnv("DB_USER", "postgres"),
			Password:       l.getEnv("DB_PASSWORD", "postgres"),
			Name:           l.getEnv("DB_NAME", "taskdb"),
			SSLMode:        l.getEnv("DB_SSLMODE", "disable"),
			PoolSize:       l.getEnvInt("DB_POOL_SIZE", 20),
			MaxOverflow:    l.getEnvInt("DB_MAX_OVERFLOW", 10),
			PoolTimeout:    l.getEnvDuration("DB_POOL_TIMEOUT", 30*time.Second),
			PoolRecycle:    l.getEnvDuration("DB_POOL_RECYCLE", time.Hour),
			ConnectTimeout: l.getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:          l.getEnvBool("OTEL_ENABLED", false),
			ExporterEndpoint: l.getEnv("OTEL_EXPORTER_ENDPOINT", ""),
			ServiceName:      l.getEnv("OTEL_SERVICE_NAME", "task-service"),
		},
		Cache: CacheConfig{
			Enabled:       l.getEnvBool("CACHE_ENABLED", false),
			RedisAddr:     l.getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: l.getEnv("REDIS_PASSWORD", ""),
			StatsTTL:      l.getEnvDuration("STATS_CACHE_TTL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Max:    l.getEnvInt("RATE_LIMIT_MAX", 0),
			Window: l.getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Activity: ActivityConfig{
			Enabled: l.getEnvBool("ACTIVITY_ENABLED", true),
			DBPath:  l.getEnv("ACTIVITY_DB_PATH", "./activity.db"),
		},
		SecretKey: l.getEnv("SECRET_KEY", DefaultSecretKey),
		LogLevel:  strings.ToUpper(l.getEnv("LOG_LEVEL", "INFO")),
		LogFormat: strings.ToLower(l.getEnv("LOG_FORMAT", "json")),
	}

	if err := errors.Join(l.errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field rules. Every violation is reported.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("DB_POOL_SIZE must be at least 1, got %d", c.Database.PoolSize))
	}
	if c.Database.MaxOverflow < 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OVERFLOW must not be negative, got %d", c.Database.MaxOverflow))
	}
	if c.Database.PoolTimeout <= 0 {
		errs = append(errs, errors.New("DB_POOL_TIMEOUT must be positive"))
	}
	if c.Database.PoolRecycle <= 0 {
		errs = append(errs, errors.New("DB_POOL_RECYCLE must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.RateLimit.Max < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must not be negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("API_V1_PREFIX must start with '/', got %q", c.APIPrefix))
	}

	if c.IsProduction() {
		if len(c.SecretKey) < minProductionSecretLength {
			errs = append(errs, fmt.Errorf("SECRET_KEY must be at least %d characters in production", minProductionSecretLength))
		}
		if c.SecretKey == DefaultSecretKey {
			errs = append(errs, errors.New("SECRET_KEY must be changed from the default in production"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigurationInvalid, errors.Join(errs...))
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level. CRITICAL maps to error.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not recognized", c.LogLevel)
	}
}

// loader collects parse errors so Load can report all of them at once.
type loader struct {
	errs []error
}

// getEnv returns environment variable value or default.
func (l *loader) getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default.
func (l *loader) getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid int value for %s: %q", key, value))
		return defaultValue
	}
	return intVal
}

// getEnvBool returns environment variable as bool or default.
func (l *loader) getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid bool value for %s: %q", key, value))
		return defaultValue
	}
	return boolVal
}

// getEnvDuration accepts Go duration syntax or a bare number of seconds.
func (l *loader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	l.errs = append(l.errs, fmt.Errorf("invalid duration value for %s: %q", key, value))
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
