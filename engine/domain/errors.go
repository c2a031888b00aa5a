package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds the engine distinguishes. Adapters
// and providers convert raw library errors into one of these at their
// boundary; everything above tests with errors.Is / errors.As.
var (
	// ErrNotFound: the remote resource does not exist (deleted subreddit,
	// dead feed). Surfaced as an empty fetch plus a note, never retried.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited: 429 or a provider equivalent. The run is abandoned;
	// the scheduler fires again on its own cadence.
	ErrRateLimited = errors.New("rate limited")

	// ErrConfigMissing: a required credential or config key is absent.
	ErrConfigMissing = errors.New("configuration missing")
)

// Sentinel errors for scout validation failures.
var (
	ErrInvalidName    = errors.New("invalid scout name")
	ErrUnknownKind    = errors.New("unknown scout kind")
	ErrUnknownIntent  = errors.New("unknown intent")
	ErrUnknownTool    = errors.New("unknown tool")
	ErrNoPlatforms    = errors.New("generation scout needs at least one platform")
	ErrInvalidAction  = errors.New("unknown feedback action")
)

// TransientError wraps a network fault: timeout, 5xx, connection reset.
// Adapters may recover locally with a bounded retry; the executor never
// promotes it to a retry of the whole run.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for operation op.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StructuredOutputError reports model output that does not conform to the
// declared schema. Perturbed retries are futile for this kind, so the
// executor abandons the retry loop immediately.
type StructuredOutputError struct {
	Reason string
	Raw    string
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("structured output: %s", e.Reason)
}

// IsStructuredOutputFailure reports whether err is (or wraps) a
// StructuredOutputError.
func IsStructuredOutputFailure(err error) bool {
	var se *StructuredOutputError
	return errors.As(err, &se)
}

// MissingConfig wraps ErrConfigMissing with the absent key name.
func MissingConfig(key string) error {
	return fmt.Errorf("%s: %w", key, ErrConfigMissing)
}

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
