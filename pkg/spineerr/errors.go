// Package spineerr defines the error taxonomy shared across the orchestration
// spine: every kinded error carries enough context for the retry executor,
// the circuit breakers, and the audit trail to reason about it uniformly.
package spineerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry/circuit-breaker/logging purposes.
// These are taxonomy kinds, not Go types: a single underlying condition
// (e.g. a dial timeout) is tagged with the kind that best describes how
// callers should react to it.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindAPI           Kind = "api"
	KindValidation    Kind = "validation"
	KindTimeout       Kind = "timeout"
	KindRateLimit     Kind = "rate_limit"
	KindAuthentication Kind = "authentication"
	KindFileSystem    Kind = "filesystem"
	KindToolExecution Kind = "tool_execution"
	KindParsing       Kind = "parsing"
	KindSecurity      Kind = "security"
	KindSystem        Kind = "system"
)

// Severity of an error, independent of its Kind.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// retryableKinds are the only kinds the retry executor (pkg/resilience)
// will automatically retry; everything else is terminal.
var retryableKinds = map[Kind]bool{
	KindNetwork:   true,
	KindTimeout:   true,
	KindRateLimit: true,
}

// Context carries the operational metadata attached to an Error.
type Context struct {
	Operation  string
	Timestamp  time.Time
	Metadata   map[string]interface{}
	StackTrace string
}

// Error is the structured error type propagated through the spine.
type Error struct {
	Kind        Kind
	Severity    Severity
	Ctx         Context
	IsRetryable bool
	Wrapped     error
}

func (e *Error) Error() string {
	if e.Ctx.Operation != "" {
		return fmt.Sprintf("%s: %s (%s/%s)", e.Ctx.Operation, e.wrappedMsg(), e.Kind, e.Severity)
	}
	return fmt.Sprintf("%s (%s/%s)", e.wrappedMsg(), e.Kind, e.Severity)
}

func (e *Error) wrappedMsg() string {
	if e.Wrapped != nil {
		return e.Wrapped.Error()
	}
	return string(e.Kind)
}

// Unwrap enables errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// New builds a kinded Error wrapping err with an operation and optional
// metadata. Severity defaults based on Kind when not overridden by WithSeverity.
func New(kind Kind, op string, err error, metadata map[string]interface{}) *Error {
	return &Error{
		Kind:     kind,
		Severity: defaultSeverity(kind),
		Ctx: Context{
			Operation: op,
			Timestamp: time.Now(),
			Metadata:  metadata,
		},
		IsRetryable: retryableKinds[kind],
		Wrapped:     err,
	}
}

// WithSeverity returns a copy of e with Severity overridden.
func (e *Error) WithSeverity(s Severity) *Error {
	clone := *e
	clone.Severity = s
	return &clone
}

func defaultSeverity(kind Kind) Severity {
	switch kind {
	case KindSecurity, KindAuthentication:
		return SeverityCritical
	case KindValidation, KindParsing:
		return SeverityMedium
	case KindSystem:
		return SeverityHigh
	default:
		return SeverityLow
	}
}

// IsRetryable reports whether err (possibly wrapped) should be retried by
// the resilience executor: only Network, Timeout and RateLimit kinds are
// retryable; Authentication and Validation are always terminal.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable
	}
	return false
}

// IsTerminal is the complement of IsRetryable for readability at call sites.
func IsTerminal(err error) bool {
	return !IsRetryable(err)
}

// KindOf extracts the Kind from a kinded error, or "" if err isn't one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
