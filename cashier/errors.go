/*
errors.go - Centralized error types for the cashier engine

ERROR CATEGORIES:
  1. State errors - shift lifecycle violations (double open, double close)
  2. Validation errors - bad amounts or transaction shapes
  3. Persistence errors - gateway failures, always wrapped and propagated

Persistence failures are fail-fast: the operation aborts and in-memory state
is left untouched. The caller decides about retries and user messaging.
*/
package cashier

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrShiftNotFound is returned when a shift id has no backing record.
	ErrShiftNotFound = errors.New("shift not found")

	// ErrShiftAlreadyOpen is returned when opening a shift while another is
	// open anywhere, including a concurrent open that won the claim race.
	ErrShiftAlreadyOpen = errors.New("a shift is already open")

	// ErrShiftNotOpen is returned when mutating the ledger with no open
	// shift, or for a shift other than the current one.
	ErrShiftNotOpen = errors.New("shift is not open")

	// ErrShiftAlreadyClosed is returned on any attempt to close or mutate a
	// shift that is already closed. Double-close must fail loudly, never
	// silently succeed.
	ErrShiftAlreadyClosed = errors.New("shift is already closed")

	// ErrInvalidShiftState is returned for lifecycle transitions attempted
	// from the wrong state, e.g. EndSession before SubmitActualAmounts.
	ErrInvalidShiftState = errors.New("invalid shift state for operation")

	// ErrInvalidAmount is returned for negative amounts where a non-negative
	// value is required (starting floats, counted actuals).
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrReservedTransactionType is returned when a caller tries to append a
	// shift_open/shift_close marker directly.
	ErrReservedTransactionType = errors.New("transaction type is reserved for the session manager")

	// ErrInvalidChannel is returned for a payment channel outside cash/nonCash.
	ErrInvalidChannel = errors.New("invalid payment channel")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StateError describes a rejected lifecycle transition.
type StateError struct {
	ShiftID   ShiftID
	From      ShiftStatus
	Attempted string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s shift %s in state %q", e.Attempted, e.ShiftID, e.From)
}

func (e *StateError) Unwrap() error {
	switch e.From {
	case ShiftClosed:
		return ErrShiftAlreadyClosed
	default:
		return ErrInvalidShiftState
	}
}

// AmountError describes a rejected amount.
type AmountError struct {
	Field string
	Value decimal.Decimal
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("invalid amount for %s: %s", e.Field, e.Value)
}

func (e *AmountError) Unwrap() error { return ErrInvalidAmount }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is the caller's fault rather than
// a persistence failure. The API layer maps these to 4xx.
func IsClientError(err error) bool {
	return errors.Is(err, ErrShiftAlreadyOpen) ||
		errors.Is(err, ErrShiftNotOpen) ||
		errors.Is(err, ErrShiftAlreadyClosed) ||
		errors.Is(err, ErrInvalidShiftState) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrReservedTransactionType) ||
		errors.Is(err, ErrInvalidChannel)
}

// IsNotFound reports whether the error indicates a missing shift.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrShiftNotFound)
}

func validateNonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return &AmountError{Field: field, Value: v}
	}
	return nil
}
