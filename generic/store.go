/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the boundary between the ledger and the database. Implementations
  exist for SQLite, PostgreSQL and memory; all of them keep append-only
  semantics.

APPEND-ONLY CONTRACT:
  - Append(): Single transaction write
  - AppendBatch(): Atomic multi-transaction write
  - NO Update() or Delete() methods exist

ATOMIC BATCHES:
  Finalizing a pay period writes one posting per deduction code plus the
  period marker. Either all are written or none are, so a crash can never
  leave a half-finalized period behind.

IMPLEMENTATIONS:
  - store/sqlite: SQLite
  - store/postgres: PostgreSQL via pgx
  - generic/store: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// Store handles persistence of transactions.
// Store is APPEND-ONLY. Corrections are made via reversal transactions.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for entity+account, ordered by EffectiveAt.
	Load(ctx context.Context, entityID EntityID, accountID AccountID) ([]Transaction, error)

	// LoadRange returns transactions effective in [from, to].
	LoadRange(ctx context.Context, entityID EntityID, accountID AccountID, from, to TimePoint) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
