/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All ledger-level error types in one place. The payroll package defines
  its own calculation errors and wraps these when a ledger operation fails.

ERROR CATEGORIES:
  1. Ledger errors - Posting and idempotency failures
  2. Validation errors - Malformed periods, unit mismatches
  3. Lookup errors - Missing accounts or plans

USAGE:
    if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
        // period already finalized
    }

SEE ALSO:
  - ledger.go: Uses these errors
  - payroll/errors.go: Calculation error taxonomy
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected when a finalize is retried.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrTransactionFailed is returned when a transaction cannot be persisted.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrUnitMismatch is returned when amounts with different units are combined.
	ErrUnitMismatch = errors.New("unit mismatch")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPlanNotFound is returned when a referenced plan doesn't exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrEntityNotFound is returned when a referenced entity doesn't exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// LimitExceededError describes a posting that would push an account past
// its annual limit.
type LimitExceededError struct {
	EntityID  EntityID
	AccountID AccountID
	Limit     Amount
	Used      Amount
	Requested Amount
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("annual limit exceeded for %s/%s: limit %s, used %s, requested %s",
		e.EntityID, e.AccountID, e.Limit.Value, e.Used.Value, e.Requested.Value)
}

// PeriodError reports a malformed period.
type PeriodError struct {
	Period Period
}

func (e *PeriodError) Error() string {
	return fmt.Sprintf("invalid period %s", e.Period)
}

func (e *PeriodError) Unwrap() error {
	return ErrInvalidPeriod
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrUnitMismatch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrEntityNotFound)
}
