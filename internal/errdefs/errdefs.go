// Package errdefs defines the error kinds shared across the runtime.
// Callers classify failures with E/Errorf and branch on KindOf; everything
// that does not need classification wraps with plain fmt.Errorf.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary handling.
type Kind string

const (
	ConfigError             Kind = "config_error"
	AuthError               Kind = "auth_error"
	RateLimited             Kind = "rate_limited"
	StoreError              Kind = "store_error"
	ProviderError           Kind = "provider_error"
	ToolError               Kind = "tool_error"
	PermissionDenied        Kind = "permission_denied"
	PlanInvalid             Kind = "plan_invalid"
	ScheduledExecutionError Kind = "scheduled_execution_error"
)

// Sentinels used by the runner boundary.
var (
	ErrUserUnknown   = errors.New("user unknown")
	ErrNoOpenSession = errors.New("no open session")
)

// Error carries a kind, the operation that failed, and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind) + ": " + e.Op
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, unwrapping as needed. Errors without a
// kind report the empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
