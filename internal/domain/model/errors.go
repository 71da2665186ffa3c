package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the application. Match with errors.Is.
var (
	// ErrProxyUnavailable means a provider requires a proxy and none matched.
	ErrProxyUnavailable = errors.New("no suitable proxy available")

	// ErrDecryption means a stored value failed authentication or could not be parsed.
	ErrDecryption = errors.New("credential decryption failed")

	// ErrConcurrencyConflict means an optimistic version check lost a race.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrScheduleComputation means a next run could not be derived from a schedule.
	ErrScheduleComputation = errors.New("cannot compute next run")
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is a shorthand constructor for ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an absent or foreign-owned entity. Callers cannot
// distinguish the two cases.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NotFound is a shorthand constructor for NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ProviderAutomationError wraps a failed automation attempt. It is retried
// within the attempt budget and then recorded on the provider result.
type ProviderAutomationError struct {
	ProviderID string
	Reason     string
	Err        error
}

func (e *ProviderAutomationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s automation failed: %s: %v", e.ProviderID, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider %s automation failed: %s", e.ProviderID, e.Reason)
}

func (e *ProviderAutomationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
