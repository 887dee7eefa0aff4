package payroll

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput is returned when a calculation cannot proceed with the given input.
	// No payslip is produced.
	ErrInvalidInput = errors.New("invalid input")

	// ErrReconciliationViolation means an emitted payslip broke the net pay equation.
	// It indicates a defect, never a user error.
	ErrReconciliationViolation = errors.New("reconciliation violation")

	// ErrAuthoritativeUnavailable is returned when the remote calculation failed or timed out.
	ErrAuthoritativeUnavailable = errors.New("authoritative calculation unavailable")
)

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, format string, args ...any) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ReconciliationViolationError carries both sides of the failed equation.
type ReconciliationViolationError struct {
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *ReconciliationViolationError) Error() string {
	return fmt.Sprintf("reconciliation violation: net pay %s, expected %s", e.Actual, e.Expected)
}

func (e *ReconciliationViolationError) Unwrap() error {
	return ErrReconciliationViolation
}

// IsInvalidInput reports whether err is a caller input problem.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
