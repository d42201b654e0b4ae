/*
errors.go - Centralized error types for the membership engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Rule engines return these; the API layer maps them to HTTP statuses.

ERROR CATEGORIES:
  1. ValidationError    - An invariant would be violated by a write
  2. IneligibleError    - Medical claim tenure/arrears gate failed
  3. CapExceededError   - Annual medical disbursement cap would be exceeded
  4. ConfigurationError - Required settings (fund) are missing
  5. Store errors       - Not found, concurrent modification, duplicate keys

  Notification failures are NOT errors of the triggering operation: they
  are logged and counted, never returned (see membership/notify.go).

USAGE:
  if errors.Is(err, core.ErrCapExceeded) {
      var capErr *core.CapExceededError
      errors.As(err, &capErr)
      ...
  }

SEE ALSO:
  - membership/eligibility.go: Produces IneligibleError and CapExceededError
  - api/handlers.go: Maps errors to status codes
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the category of every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrIneligible is the category of every IneligibleError.
	ErrIneligible = errors.New("not eligible")

	// ErrCapExceeded is the category of every CapExceededError.
	ErrCapExceeded = errors.New("disbursement cap exceeded")

	// ErrConfiguration is the category of every ConfigurationError.
	ErrConfiguration = errors.New("configuration missing")

	// ErrInvalidTransition is returned when a status change is not an edge of the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateKey is returned when a run/idempotency key is already recorded.
	ErrDuplicateKey = errors.New("duplicate key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports an invariant violation on write.
type ValidationError struct {
	Field   string
	Message string
	Cause   error // optional underlying sentinel such as ErrInvalidTransition
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrValidation, e.Cause}
	}
	return []error{ErrValidation}
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError builds the ValidationError for an illegal lifecycle move.
func TransitionError(subject string, from, to any) *ValidationError {
	return &ValidationError{
		Field:   "status",
		Message: fmt.Sprintf("%s cannot move from %v to %v", subject, from, to),
		Cause:   ErrInvalidTransition,
	}
}

type IneligibleReason string

const (
	ReasonNoStartDate     IneligibleReason = "no_membership_start_date"
	ReasonTenureTooShort  IneligibleReason = "qualifying_period_not_met"
	ReasonArrears         IneligibleReason = "arrears_over_threshold"
	ReasonMemberNotActive IneligibleReason = "member_not_active"
)

// IneligibleError reports a failed medical-assistance gate.
type IneligibleError struct {
	MemberID MemberID
	Reason   IneligibleReason
	Detail   string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("member %s not eligible for medical assistance (%s): %s", e.MemberID, e.Reason, e.Detail)
}

func (e *IneligibleError) Unwrap() error {
	return ErrIneligible
}

// CapExceededError provides details about a disbursement cap breach.
type CapExceededError struct {
	Cap       Money
	Disbursed Money
	Available Money
	Requested Money
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("approving %s would exceed the annual disbursement limit: cap %s, disbursed %s, available %s",
		e.Requested, e.Cap, e.Disbursed, e.Available)
}

func (e *CapExceededError) Unwrap() error {
	return ErrCapExceeded
}

// ConfigurationError reports missing settings needed by an operation.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration is not set: %s", e.Setting)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid input or a failed business rule.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrIneligible) ||
		errors.Is(err, ErrCapExceeded) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
