/*
Package generic provides the domain-agnostic ledger engine.

PURPOSE:
  This package holds the types and algorithms that do not know anything
  about payroll rules: decimal amounts, ledger transactions, periods, the
  append-only ledger itself, and annual limit arithmetic. The payroll
  package layers jurisdiction rules on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal quantity with a unit (currency or hours)
  - Transaction: An immutable ledger entry posted when a period is finalized
  - EntityID/AccountID: Type-safe identifiers (subject, contribution account)

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: decimal.Decimal everywhere, rounding only at emission
  3. Type Safety: Subject and account identifiers cannot be mixed up
  4. Idempotency: Every posted transaction carries an idempotency key

USAGE:
  amount := generic.NewAmount(120, generic.UnitCurrency)
  tx := generic.Transaction{
      EntityID:  "emp-123",
      AccountID: "retirement",
      Delta:     amount,
      Type:      generic.TxContribution,
  }

SEE ALSO:
  - ledger.go: Append-only ledger interface
  - policy.go: Annual limit policies and cap arithmetic
  - balance.go: Headroom computed from the ledger
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitCurrency Unit = "currency"
	UnitHours    Unit = "hours"
)

// CentPlaces is the number of decimal places currency values carry once emitted.
const CentPlaces int32 = 2

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func ZeroAmount(unit Unit) Amount {
	return Amount{Value: decimal.Zero, Unit: unit}
}

// MustParseDecimal parses s or returns zero. Intended for literals in tables and tests.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(CentPlaces)
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) Round2() Amount               { return Amount{Value: Round2(a.Value), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampZero returns the amount, or zero when it is negative.
func (a Amount) ClampZero() Amount {
	if a.IsNegative() {
		return a.Zero()
	}
	return a
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type AccountID string
type TransactionID string

// ResourceType identifies what a ledger account tracks.
// Domain packages define their own concrete types; this package has no
// knowledge of specific deduction or earning codes.
//
//   // In payroll/types.go
//   type Code string
//   func (c Code) ResourceID() string     { return string(c) }
//   func (c Code) ResourceDomain() string { return "payroll" }
type ResourceType interface {
	ResourceID() string
	ResourceDomain() string
}

// =============================================================================
// TRANSACTION - Atomic posting to an account
// =============================================================================

type TransactionType string

const (
	TxContribution TransactionType = "contribution" // Withheld or employer-paid amount counted against annual limits
	TxEarning      TransactionType = "earning"      // Gross, vacation and net amounts for YTD reporting
	TxPeriodClose  TransactionType = "period_close" // Marker written once per finalized period
	TxAdjustment   TransactionType = "adjustment"   // Manual admin correction
	TxReversal     TransactionType = "reversal"     // Undo a previous transaction
)

type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	AccountID      AccountID
	ResourceType   ResourceType
	EffectiveAt    TimePoint
	Delta          Amount
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedBy string
	CreatedAt TimePoint
}

// Sum adds the deltas of txs in the given unit.
func Sum(txs []Transaction, unit Unit) Amount {
	total := ZeroAmount(unit)
	for _, tx := range txs {
		total = total.Add(tx.Delta)
	}
	return total
}
