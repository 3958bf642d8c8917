package record

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ValidationError reports caller misuse: unfiltered deletes, empty update
// sets, ambiguous single-record lookups, conflicting update paths,
// unsupported pagination fields, mismatched bulk-update templates.
// Validation errors are never retried and surface immediately.
type ValidationError struct {
	// Op names the operation that rejected its input.
	Op string

	// Reason is a human-readable description of the misuse.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return e.Reason
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(op, format string, args ...any) error {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConnectionFailure reports whether err looks like a transient connection
// problem: pool exhausted, connection refused, or connection dropped
// mid-operation. These are the errors the store layer retries.
func IsConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	if IsValidation(err) {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "closed pool")
}
