// Package database owns the PostgreSQL connection pool and hands out
// scoped sessions to the rest of the service.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/task-service/tracing"
)

// System is the db.system value recorded on storage spans.
const System = "postgresql"

// Session is the unit-of-work handle passed to WithSession callbacks.
// It is satisfied by pgx.Tx.
type Session interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Runner runs one unit of work inside a scoped session.
type Runner interface {
	WithSession(ctx context.Context, fn func(ctx context.Context, s Session) error) error
	WithReadOnlySession(ctx context.Context, fn func(ctx context.Context, s Session) error) error
}

// Options configures the pool.
type Options struct {
	DSN string
	// PoolSize connections are kept open at all times.
	PoolSize int
	// MaxOverflow extra connections may be opened under load and are closed
	// again once idle for OverflowIdleTime.
	MaxOverflow      int
	AcquireTimeout   time.Duration
	Recycle          time.Duration
	OverflowIdleTime time.Duration
}

// Manager is the connection manager.
type Manager struct {
	pool   *pgxpool.Pool
	opts   Options
	tracer trace.Tracer
	logger *slog.Logger
}

var _ Runner = (*Manager)(nil)

// PoolConfig translates Options into a pgxpool configuration.
func PoolConfig(opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	cfg.MinConns = int32(opts.PoolSize)
	cfg.MaxConns = int32(opts.PoolSize + opts.MaxOverflow)
	cfg.MaxConnLifetime = opts.Recycle
	if opts.OverflowIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.OverflowIdleTime
	}
	// Liveness probe before a connection is handed out.
	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		return conn.Ping(ctx) == nil
	}
	return cfg, nil
}

// Open creates the pool and verifies the store is reachable.
func Open(ctx context.Context, opts Options, tracer trace.Tracer, logger *slog.Logger) (*Manager, error) {
	cfg, err := PoolConfig(opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	m := &Manager{pool: pool, opts: opts, tracer: tracer, logger: logger}
	if err := m.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("connection pool ready",
		"size", opts.PoolSize,
		"max_overflow", opts.MaxOverflow,
		"acquire_timeout", opts.AcquireTimeout,
		"recycle", opts.Recycle)
	return m, nil
}

// Close closes every pooled connection.
func (m *Manager) Close() {
	m.pool.Close()
}

// Ping runs SELECT 1 on a pooled connection.
func (m *Manager) Ping(ctx context.Context) error {
	conn, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// WithSession runs fn in a read-write transaction on one connection. The
// transaction commits when fn returns nil and rolls back on error or panic.
// The connection is released on every path.
func (m *Manager) WithSession(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	return m.run(ctx, "db.session", pgx.TxOptions{}, fn)
}

// WithReadOnlySession runs fn in a read-only repeatable-read transaction so
// every statement in fn sees the same snapshot.
func (m *Manager) WithReadOnlySession(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	return m.run(ctx, "db.session.readonly", pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func (m *Manager) run(ctx context.Context, name string, txOpts pgx.TxOptions, fn func(ctx context.Context, s Session) error) error {
	ctx, span := m.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", System),
	))
	defer span.End()

	conn, err := m.acquire(ctx)
	if err != nil {
		tracing.RecordError(span, err, Kind(err))
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, txOpts)
	if err != nil {
		err = Classify(fmt.Errorf("failed to begin transaction: %w", err))
		tracing.RecordError(span, err, Kind(err))
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Runs on error and panic; the request context may already be done.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.logger.Warn("failed to roll back transaction", "error", rbErr)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		span.SetAttributes(attribute.Bool("db.rolled_back", true))
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		err = Classify(fmt.Errorf("failed to commit transaction: %w", err))
		tracing.RecordError(span, err, Kind(err))
		return err
	}
	committed = true
	return nil
}

// acquire waits at most AcquireTimeout for a connection.
func (m *Manager) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx := ctx
	if m.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, m.opts.AcquireTimeout)
		defer cancel()
	}

	conn, err := m.pool.Acquire(actx)
	if err == nil {
		return conn, nil
	}

	st := m.pool.Stat()
	saturated := st.AcquiredConns() >= st.MaxConns()
	err = classifyAcquireError(err, ctx.Err(), saturated)
	if errors.Is(err, ErrResourceExhausted) {
		m.logger.Warn("connection pool exhausted",
			"acquired", st.AcquiredConns(),
			"max", st.MaxConns(),
			"timeout", m.opts.AcquireTimeout)
	}
	return nil, err
}

// PoolStatus is a snapshot of pool usage.
type PoolStatus struct {
	Size       int32 `json:"size"`
	CheckedIn  int32 `json:"checked_in"`
	CheckedOut int32 `json:"checked_out"`
	Overflow   int32 `json:"overflow"`
	Total      int32 `json:"total"`
	Max        int32 `json:"max"`
}

func newPoolStatus(base, total, idle, acquired, maxConns int32) PoolStatus {
	return PoolStatus{
		Size:       base,
		CheckedIn:  idle,
		CheckedOut: acquired,
		Overflow:   max(0, total-base),
		Total:      total,
		Max:        maxConns,
	}
}

// Status reports current pool usage.
func (m *Manager) Status() PoolStatus {
	st := m.pool.Stat()
	return newPoolStatus(int32(m.opts.PoolSize), st.TotalConns(), st.IdleConns(), st.AcquiredConns(), st.MaxConns())
}
