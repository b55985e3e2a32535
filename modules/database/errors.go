package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for storage access.
var (
	// ErrResourceExhausted is returned when no pooled connection became
	// available within the acquisition timeout. Callers may retry.
	ErrResourceExhausted = errors.New("connection pool exhausted")

	// ErrStorageUnavailable is returned when the store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Error kinds attached to spans.
const (
	KindResourceExhausted  = "resource_exhausted"
	KindStorageUnavailable = "storage_unavailable"
	KindStorage            = "storage_error"
)

// Kind names the storage error class of err.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	default:
		return KindStorage
	}
}

// classifyAcquireError maps a failed pool acquisition onto the taxonomy.
// parentErr is the caller's context error, saturated reports whether every
// allowed connection was checked out when the wait gave up.
func classifyAcquireError(err, parentErr error, saturated bool) error {
	if parentErr != nil {
		// The caller went away or its own deadline passed.
		if saturated {
			return fmt.Errorf("%w: %w", ErrResourceExhausted, parentErr)
		}
		return parentErr
	}
	if errors.Is(err, context.DeadlineExceeded) && saturated {
		return fmt.Errorf("%w: no connection available: %w", ErrResourceExhausted, err)
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// Classify wraps connection-level failures with ErrStorageUnavailable and
// leaves every other error untouched.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrResourceExhausted) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}

func isConnectionError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, 57P0x covers shutdowns.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.Timeout(err) && !errors.Is(err, context.Canceled)
}
