/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the source of truth for year-to-date totals. Every finalized
  pay period posts its contributions and earnings here, and YTD figures are
  always derived by summing postings. There is no separate running total
  that could drift from the history.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

CORRECTIONS:
  A wrong posting is never edited. A reversal with the opposite sign is
  appended and both remain visible in the history.

EXAMPLE FLOW:
  1. Period Jan 1-14 finalized: retirement +120, cpp +98.40
  2. Period Jan 15-28 finalized: retirement +120, cpp +98.40
  3. YTD retirement = 240

SEE ALSO:
  - store.go: Low-level persistence interface
  - payroll/ytd.go: Payroll wrapper posting one batch per finalized period
*/
package generic

import "context"

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the source of truth for every posted amount.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete.
//   - Immutable: Once written, transactions cannot be modified.
type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple transactions atomically.
	// A finalized pay period is always written as one batch.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns all transactions for entity+account, chronologically.
	Transactions(ctx context.Context, entityID EntityID, accountID AccountID) ([]Transaction, error)

	// TransactionsInRange returns transactions effective in [period.Start, period.End].
	TransactionsInRange(ctx context.Context, entityID EntityID, accountID AccountID, period Period) ([]Transaction, error)

	// TotalInRange sums the deltas posted to an account within period.
	TotalInRange(ctx context.Context, entityID EntityID, accountID AccountID, period Period, unit Unit) (Amount, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true

		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, entityID EntityID, accountID AccountID) ([]Transaction, error) {
	return l.Store.Load(ctx, entityID, accountID)
}

func (l *DefaultLedger) TransactionsInRange(ctx context.Context, entityID EntityID, accountID AccountID, period Period) ([]Transaction, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return l.Store.LoadRange(ctx, entityID, accountID, period.Start, period.End)
}

func (l *DefaultLedger) TotalInRange(ctx context.Context, entityID EntityID, accountID AccountID, period Period, unit Unit) (Amount, error) {
	txs, err := l.TransactionsInRange(ctx, entityID, accountID, period)
	if err != nil {
		return Amount{}, err
	}
	for _, tx := range txs {
		if tx.Delta.Unit != "" && tx.Delta.Unit != unit {
			return Amount{}, ErrUnitMismatch
		}
	}
	return Sum(txs, unit), nil
}
