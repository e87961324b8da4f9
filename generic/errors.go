/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these to status codes in exactly one place.

ERROR CATEGORIES:
  1. NotFound      - entry id does not exist
  2. InvalidState  - operation violates a lifecycle precondition
  3. Validation    - malformed input
  4. Auth          - caller identity/role checks
  5. Concurrency   - optimistic version check failed

USAGE:
  if errors.Is(err, generic.ErrInvalidState) {
      var ise *generic.InvalidStateError
      errors.As(err, &ise) // ise.Balance carries the remaining balance
  }

SEE ALSO:
  - api/respond.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")

	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")

	// ErrConcurrentModification is returned when a versioned update finds the
	// row changed since it was read.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// Invalid-state codes.
const (
	CodeAlreadyPaid     = "already_paid"
	CodeWaived          = "waived"
	CodeAlreadyWaived   = "already_waived"
	CodeCannotWaivePaid = "cannot_waive_paid"
	CodeExceedsBalance  = "exceeds_balance"
	CodeInvalidAmount   = "invalid_amount"
	CodeNegativeBalance = "negative_balance"
	CodeHasPayments     = "has_payments"
	CodeTerminal        = "terminal"
	CodeNotQuorate      = "not_quorate"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError reports a lifecycle precondition violation.
type InvalidStateError struct {
	Code    string
	Message string
	EntryID EntryID
	Balance *decimal.Decimal // remaining balance, when relevant to the caller
}

func (e *InvalidStateError) Error() string {
	if e.Balance != nil {
		return fmt.Sprintf("%s (remaining balance: %s)", e.Message, e.Balance.StringFixed(2))
	}
	return e.Message
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func invalidState(id EntryID, code, msg string) *InvalidStateError {
	return &InvalidStateError{Code: code, Message: msg, EntryID: id}
}

// NotFoundError names the missing thing.
type NotFoundError struct {
	What string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.What, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// EntryNotFound is the error stores return for a missing entry id.
func EntryNotFound(id EntryID) error { return &NotFoundError{What: "entry", ID: string(id)} }

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field-level input problems.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add appends a field error.
func (e *ValidationError) Add(field, msg string) { e.Fields = append(e.Fields, FieldError{field, msg}) }

// OrNil returns nil when no field errors were collected.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NewValidationError builds a single-field validation error.
func NewValidationError(field, msg string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: msg}}}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
