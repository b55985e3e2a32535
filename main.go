package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/task-service/config"
	"github.com/example/task-service/modules/activity"
	"github.com/example/task-service/modules/api"
	"github.com/example/task-service/modules/cache"
	"github.com/example/task-service/modules/database"
	"github.com/example/task-service/modules/task"
	"github.com/example/task-service/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting task service",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"addr", cfg.HTTPAddr,
		"cache", cfg.Cache.Enabled,
		"activity", cfg.Activity.Enabled,
		"tracing", cfg.Tracing.Enabled,
		"db_max_connections", cfg.Database.MaxConnections(),
	)

	ctx := context.Background()
	tp, err := tracing.Setup(ctx, tracing.Options{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.ExporterEndpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		Console:        cfg.Debug,
	}, logger.With("module", "tracing"))
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}
	tracer := tp.Tracer()

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Order: storage first, then the modules that hold references to it.
	dbModule := database.NewModule(database.Options{
		DSN:              cfg.Database.DSN(cfg.AppName),
		PoolSize:         cfg.Database.PoolSize,
		MaxOverflow:      cfg.Database.MaxOverflow,
		AcquireTimeout:   cfg.Database.PoolTimeout,
		Recycle:          cfg.Database.PoolRecycle,
		OverflowIdleTime: 5 * time.Minute,
	}, tracer, logger.With("module", "database"))
	app.Register(dbModule)

	var cacheModule *cache.Module
	if cfg.Cache.Enabled {
		cacheModule = cache.NewModule(cache.Config{
			RedisAddr:     cfg.Cache.RedisAddr,
			RedisPassword: cfg.Cache.RedisPassword,
			Prefix:        cfg.AppName + ":",
			TTL:           cfg.Cache.StatsTTL,
		}, logger.With("module", "cache"))
		app.Register(cacheModule)
	}

	if cfg.Activity.Enabled {
		app.Register(activity.NewModule(cfg.Activity.DBPath, cfg.Debug, logger.With("module", "activity")))
	}

	taskModule := task.NewModule(dbModule, cacheModule, tracer, logger.With("module", "task"))
	app.Register(taskModule)

	app.Register(api.NewModule(api.Config{
		AppName:         cfg.AppName,
		Version:         cfg.Version,
		Environment:     cfg.Environment,
		Addr:            cfg.HTTPAddr,
		Prefix:          cfg.APIPrefix,
		CORSOrigins:     cfg.CORSOrigins,
		RequestTimeout:  cfg.RequestTimeout,
		RateLimitMax:    cfg.RateLimit.Max,
		RateLimitWindow: cfg.RateLimit.Window,
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		ActivityEnabled: cfg.Activity.Enabled,
	}, taskModule, dbModule, cacheModule, tracer, tp.Propagator(), logger.With("module", "api")))

	if err := app.Start(ctx); err != nil {
		_ = tp.Shutdown(ctx)
		log.Fatalf("Failed to start application: %v", err)
	}
	logger.Info("task service started", "addr", cfg.HTTPAddr, "prefix", cfg.APIPrefix)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			// Spans from in-flight requests are flushed after the modules stop.
			"mono-app": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				stopErr := app.Stop(ctx)
				if err := tp.Shutdown(ctx); err != nil {
					logger.Error("failed to flush traces", "error", err)
				}
				return stopErr
			},
		},
	)

	exitCode := <-wait
	logger.Info("application exited", "code", exitCode)
	os.Exit(exitCode)
}

// newLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
// Config validation has already rejected unknown values.
func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", cfg.AppName)
}
