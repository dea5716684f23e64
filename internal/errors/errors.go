package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Kind represents the category of a pipeline failure
type Kind int

const (
	// KindInternal - unexpected internal state
	KindInternal Kind = iota
	// KindConfig - missing or invalid configuration
	KindConfig
	// KindDependencyUnavailable - a backing store never answered its liveness probe
	KindDependencyUnavailable
	// KindSchemaSetupFailed - a constraint or index declaration could not be applied
	KindSchemaSetupFailed
	// KindSourceReadFailed - relational read failed or returned malformed rows
	KindSourceReadFailed
	// KindMissingEndpoint - edge upsert referenced a node that does not exist
	KindMissingEndpoint
	// KindWriteBatchFailed - graph write batch failed after exhausting retries
	KindWriteBatchFailed
	// KindTimeout - the run exceeded its deadline
	KindTimeout
	// KindRunInProgress - another run holds the single-flight guard
	KindRunInProgress
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, may impact functionality
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Sentinels for errors.Is matching by kind
var (
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable}
	ErrSchemaSetupFailed     = &Error{Kind: KindSchemaSetupFailed}
	ErrSourceReadFailed      = &Error{Kind: KindSourceReadFailed}
	ErrMissingEndpoint       = &Error{Kind: KindMissingEndpoint}
	ErrWriteBatchFailed      = &Error{Kind: KindWriteBatchFailed}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrRunInProgress         = &Error{Kind: KindRunInProgress}
	ErrConfig                = &Error{Kind: KindConfig}
)

// Error represents a structured error with context
type Error struct {
	Kind     Kind
	Severity Severity
	Message  string
	Cause    error
	Context  map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsFatal returns true if this error should stop execution
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString returns a detailed error message with sorted context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n", e.Severity, e.Kind, e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("Context:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, e.Context[k]))
		}
	}

	return sb.String()
}

// String returns the name used in reports and logs
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindDependencyUnavailable:
		return "DependencyUnavailable"
	case KindSchemaSetupFailed:
		return "SchemaSetupFailed"
	case KindSourceReadFailed:
		return "SourceReadFailed"
	case KindMissingEndpoint:
		return "MissingEndpoint"
	case KindWriteBatchFailed:
		return "WriteBatchFailed"
	case KindTimeout:
		return "Timeout"
	case KindRunInProgress:
		return "RunInProgress"
	default:
		return "Internal"
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// New creates a new error with the given kind, severity, and message
func New(kind Kind, severity Severity, message string) *Error {
	return &Error{
		Kind:     kind,
		Severity: severity,
		Message:  message,
		Context:  make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a kind and message
func Wrap(err error, kind Kind, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Kind:     kind,
		Severity: severity,
		Message:  message,
		Cause:    err,
		Context:  make(map[string]interface{}),
	}
}

// Convenience constructors

// DependencyUnavailable reports targets that never became reachable
func DependencyUnavailable(err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     KindDependencyUnavailable,
		Severity: SeverityCritical,
		Message:  fmt.Sprintf(format, args...),
		Cause:    err,
		Context:  make(map[string]interface{}),
	}
}

// SchemaSetupFailed wraps a failed constraint or index declaration
func SchemaSetupFailed(err error, format string, args ...interface{}) *Error {
	return Wrap(err, KindSchemaSetupFailed, SeverityCritical, fmt.Sprintf(format, args...))
}

// SourceReadFailed wraps a failed or malformed relational read
func SourceReadFailed(err error, format string, args ...interface{}) *Error {
	return Wrap(err, KindSourceReadFailed, SeverityCritical, fmt.Sprintf(format, args...))
}

// MissingEndpoint creates an edge-ordering error
func MissingEndpoint(format string, args ...interface{}) *Error {
	return New(KindMissingEndpoint, SeverityCritical, fmt.Sprintf(format, args...))
}

// WriteBatchFailed wraps a graph write failure that exhausted its retries
func WriteBatchFailed(err error, format string, args ...interface{}) *Error {
	return Wrap(err, KindWriteBatchFailed, SeverityCritical, fmt.Sprintf(format, args...))
}

// Timeout wraps a deadline expiry
func Timeout(err error, format string, args ...interface{}) *Error {
	return Wrap(err, KindTimeout, SeverityCritical, fmt.Sprintf(format, args...))
}

// RunInProgress rejects a concurrent run
func RunInProgress(format string, args ...interface{}) *Error {
	return New(KindRunInProgress, SeverityMedium, fmt.Sprintf(format, args...))
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(KindConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(KindInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// As finds the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsFatal checks if an error is fatal (should stop execution)
func IsFatal(err error) bool {
	if e, ok := As(err); ok {
		return e.IsFatal()
	}
	return false
}
