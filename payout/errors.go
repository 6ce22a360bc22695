/*
errors.go - Centralized error types for the payout engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with errors.Is / errors.As or the helpers below.

ERROR CATEGORIES:
  1. Validation errors - Missing or malformed input, nothing persisted
  2. Business rejections - Wrong state, insufficient balance, duplicates
  3. Infrastructure errors - Store failures, commit failures (wrapped, not classified)

HTTP MAPPING (see api/handlers.go):
  validation -> 400, not found -> 404, state/duplicate/in-progress -> 409,
  insufficient balance -> 422, anything else -> 500

SEE ALSO:
  - processor.go: Records non-rejection errors as FAILED payouts
  - charges/service.go: Insufficient balance leaves a charge PENDING
*/
package payout

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("validation failed")

	ErrPayoutNotFound  = errors.New("payout not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrChargeNotFound  = errors.New("pending charge not found")

	// ErrPayoutNotPending is returned when processing, cancelling or deleting a
	// payout that already left PENDING. The payout is left untouched.
	ErrPayoutNotPending = errors.New("payout is not pending")

	// ErrChargeNotPending mirrors ErrPayoutNotPending for charges.
	ErrChargeNotPending = errors.New("pending charge is not pending")

	// ErrDuplicatePayout is returned by stores when the live-payout uniqueness
	// index on (account, type, period start, period end) rejects an insert.
	ErrDuplicatePayout = errors.New("payout already exists for account and period")

	// ErrInsufficientBalance is returned when a debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrentModification is returned when an optimistic version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrLedgerAccountNotConfigured is returned when no GL counter-account is
	// mapped for a tenant and payout type.
	ErrLedgerAccountNotConfigured = errors.New("ledger account not configured")

	// ErrInvalidPosting is returned by the poster for a non-positive amount, an
	// unknown payout type, or a posting whose debit and credit accounts coincide.
	ErrInvalidPosting = errors.New("invalid posting")

	// ErrInvalidPeriod is returned when a date range ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrCycleInProgress is returned when another cycle holds the lock for the
	// same tenant and period.
	ErrCycleInProgress = errors.New("payout cycle already in progress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func requiredField(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}

// StateError reports an attempted transition from a status that does not allow it.
type StateError struct {
	Kind   string // "payout" or "charge"
	ID     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.Kind, e.ID, e.Status, StatusPending)
}

func (e *StateError) Unwrap() error {
	if e.Kind == "charge" {
		return ErrChargeNotPending
	}
	return ErrPayoutNotPending
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: available %s, requested %s, shortfall %s",
		e.AccountID, e.Available.StringFixed(2), e.Requested.StringFixed(2),
		e.Requested.Sub(e.Available).StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// StageError is returned by the cycle orchestrator when a stage fails and the
// cycle is aborted.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("payout cycle aborted at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input or a
// business rule rather than an infrastructure fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPayoutNotPending) ||
		errors.Is(err, ErrChargeNotPending) ||
		errors.Is(err, ErrDuplicatePayout) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrCycleInProgress)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPayoutNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrChargeNotFound)
}

// IsRejection returns true for errors that must leave the target record as it
// was: bad input, a missing target, or a target no longer pending.
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPayoutNotFound) ||
		errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrPayoutNotPending) ||
		errors.Is(err, ErrChargeNotPending)
}
