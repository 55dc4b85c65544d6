package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for invalid write arguments.
var (
	ErrInvalidStreamName = errors.New("invalid stream name")
	ErrEmptyMessageType  = errors.New("message type is empty")
)

// wrongVersionPrefix is the literal the server raises on an expected-version
// mismatch. The client keys off this substring, not the SQLSTATE, because the
// in-memory store produces the same message without a Postgres error code.
const wrongVersionPrefix = "Wrong expected version"

// ConcurrencyError reports an optimistic-concurrency conflict on append.
// Actual is -1 when the stream did not exist at commit time, or when the
// server message could not be parsed.
type ConcurrencyError struct {
	StreamName string
	Expected   int64
	Actual     int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %s: expected version %d, actual %d",
		e.StreamName, e.Expected, e.Actual)
}

// IsConcurrencyError reports whether err is (or wraps) a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

// asConcurrencyError inspects a server-side error and converts an
// expected-version failure into a ConcurrencyError. The actual version is
// parsed from the trailing "Stream Version: N" fragment when present.
func asConcurrencyError(err error, streamName string, expected int64) (*ConcurrencyError, bool) {
	if err == nil || !strings.Contains(err.Error(), wrongVersionPrefix) {
		return nil, false
	}
	ce := &ConcurrencyError{StreamName: streamName, Expected: expected, Actual: -1}

	msg := err.Error()
	if i := strings.LastIndex(msg, "Stream Version: "); i >= 0 {
		tail := msg[i+len("Stream Version: "):]
		tail = strings.TrimRight(strings.TrimSpace(tail), ")")
		if v, perr := strconv.ParseInt(tail, 10, 64); perr == nil {
			ce.Actual = v
		}
	}
	return ce, true
}

// IsTransient reports whether err looks like a retryable infrastructure
// failure: connection loss, timeouts, or Postgres shutdown/overload states.
// Concurrency conflicts and invalid arguments are never transient.
func IsTransient(err error) bool {
	if err == nil || IsConcurrencyError(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", // admin_shutdown
			"57P02", // crash_shutdown
			"57P03", // cannot_connect_now
			"53300", // too_many_connections
			"40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

// IsFatal reports whether err indicates a broken deployment rather than a
// passing condition: missing schema objects or failed authentication.
func IsFatal(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42883", // undefined_function: message store functions not installed
			"42P01", // undefined_table
			"3F000", // invalid_schema_name
			"28000", // invalid_authorization_specification
			"28P01": // invalid_password
			return true
		}
	}
	return false
}
