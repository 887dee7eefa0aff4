/*
Package postgres provides a PostgreSQL implementation of the storage interfaces.

PURPOSE:
  Same contract and schema as store/sqlite, for deployments where several
  service instances share one ledger. Uniqueness of idempotency keys is
  enforced by the database, so two instances finalizing the same period race
  safely: one batch commits, the other gets ErrDuplicateIdempotencyKey.

INTERFACES IMPLEMENTED:
  generic.Store, generic.TxStore, factory.RecordStore

USAGE:
  store, err := postgres.New(ctx, "postgres://payroll@localhost/payroll")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Store implements the storage interfaces on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ generic.TxStore     = (*Store)(nil)
	_ factory.RecordStore = (*Store)(nil)
)

// New connects and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse database url")
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "connect")
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, pkgerrors.Wrap(err, "failed to migrate database")
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS transactions (
		seq BIGSERIAL UNIQUE,
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		effective_at DATE NOT NULL,
		delta_value NUMERIC NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json JSONB,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_entity_account_date
		ON transactions(entity_id, account_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS retirement_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json JSONB NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`)
	return err
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

// dbtx is satisfied by both the pool and an open pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectTransactions = `
	SELECT id, entity_id, account_id, resource_type, effective_at, delta_value::text, delta_unit,
	       tx_type, reference_id, reason, idempotency_key, metadata_json::text, created_by, created_at
	FROM transactions
`

func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, s.pool, tx)
}

func appendTx(ctx context.Context, db dbtx, tx generic.Transaction) error {
	var metadata *string
	if len(tx.Metadata) > 0 {
		b, err := json.Marshal(tx.Metadata)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to encode metadata")
		}
		m := string(b)
		metadata = &m
	}

	resourceID := string(tx.AccountID)
	if tx.ResourceType != nil {
		resourceID = tx.ResourceType.ResourceID()
	}

	_, err := db.Exec(ctx, `
		INSERT INTO transactions
		(id, entity_id, account_id, resource_type, effective_at, delta_value, delta_unit,
		 tx_type, reference_id, reason, idempotency_key, metadata_json, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13)
	`,
		string(tx.ID),
		string(tx.EntityID),
		string(tx.AccountID),
		resourceID,
		tx.EffectiveAt.Time,
		tx.Delta.Value,
		string(tx.Delta.Unit),
		string(tx.Type),
		optional(tx.ReferenceID),
		optional(tx.Reason),
		optional(tx.IdempotencyKey),
		metadata,
		optional(tx.CreatedBy),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return generic.ErrDuplicateIdempotencyKey
		}
		return pkgerrors.Wrap(err, "failed to append transaction")
	}
	return nil
}

// AppendBatch adds multiple transactions in one database transaction.
func (s *Store) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	return s.WithTx(ctx, func(st generic.Store) error {
		return st.AppendBatch(ctx, txs)
	})
}

func (s *Store) Load(ctx context.Context, entityID generic.EntityID, accountID generic.AccountID) ([]generic.Transaction, error) {
	return load(ctx, s.pool, entityID, accountID)
}

func load(ctx context.Context, db dbtx, entityID generic.EntityID, accountID generic.AccountID) ([]generic.Transaction, error) {
	return queryTransactions(ctx, db, selectTransactions+`
		WHERE entity_id = $1 AND account_id = $2
		ORDER BY effective_at, seq
	`, string(entityID), string(accountID))
}

func (s *Store) LoadRange(ctx context.Context, entityID generic.EntityID, accountID generic.AccountID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return loadRange(ctx, s.pool, entityID, accountID, from, to)
}

func loadRange(ctx context.Context, db dbtx, entityID generic.EntityID, accountID generic.AccountID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return queryTransactions(ctx, db, selectTransactions+`
		WHERE entity_id = $1 AND account_id = $2
		  AND effective_at BETWEEN $3 AND $4
		ORDER BY effective_at, seq
	`, string(entityID), string(accountID), from.Time, to.Time)
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return exists(ctx, s.pool, idempotencyKey)
}

func exists(ctx context.Context, db dbtx, idempotencyKey string) (bool, error) {
	var found bool
	err := db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM transactions WHERE idempotency_key = $1)",
		idempotencyKey,
	).Scan(&found)
	return found, err
}

func queryTransactions(ctx context.Context, db dbtx, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query transactions")
	}
	defer rows.Close()

	var out []generic.Transaction
	for rows.Next() {
		var (
			tx                                      generic.Transaction
			id, entity, account, resource           string
			effectiveAt, createdAt                  time.Time
			deltaValue, deltaUnit, txType           string
			reference, reason, key, meta, createdBy *string
		)
		if err := rows.Scan(&id, &entity, &account, &resource, &effectiveAt, &deltaValue, &deltaUnit,
			&txType, &reference, &reason, &key, &meta, &createdBy, &createdAt); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan transaction")
		}

		tx.ID = generic.TransactionID(id)
		tx.EntityID = generic.EntityID(entity)
		tx.AccountID = generic.AccountID(account)
		tx.ResourceType = generic.GetOrCreateResource(resource)
		tx.EffectiveAt = generic.NewTimePoint(effectiveAt.Year(), effectiveAt.Month(), effectiveAt.Day())
		tx.CreatedAt = generic.TimePoint{Time: createdAt.UTC()}
		tx.Delta = generic.Amount{Value: generic.MustParseDecimal(deltaValue), Unit: generic.Unit(deltaUnit)}
		tx.Type = generic.TransactionType(txType)
		tx.ReferenceID = deref(reference)
		tx.Reason = deref(reason)
		tx.IdempotencyKey = deref(key)
		tx.CreatedBy = deref(createdBy)
		if meta != nil {
			if err := json.Unmarshal([]byte(*meta), &tx.Metadata); err != nil {
				return nil, pkgerrors.Wrapf(err, "transaction %s: bad metadata", id)
			}
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			if seen[tx.IdempotencyKey] {
				return generic.ErrDuplicateIdempotencyKey
			}
			seen[tx.IdempotencyKey] = true
		}
		if err := appendTx(ctx, ts.tx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) Load(ctx context.Context, entityID generic.EntityID, accountID generic.AccountID) ([]generic.Transaction, error) {
	return load(ctx, ts.tx, entityID, accountID)
}

func (ts *txStore) LoadRange(ctx context.Context, entityID generic.EntityID, accountID generic.AccountID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return loadRange(ctx, ts.tx, entityID, accountID, from, to)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return exists(ctx, ts.tx, idempotencyKey)
}

// =============================================================================
// PLAN STORE
// =============================================================================

func (s *Store) SavePlanRecord(ctx context.Context, rec factory.PlanRecord) error {
	version := rec.Version
	if version < 1 {
		version = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO retirement_plans (id, name, config_json, version)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = retirement_plans.version + 1,
			updated_at = now()
	`, rec.ID, rec.Name, rec.ConfigJSON, version)
	return pkgerrors.Wrapf(err, "save plan %s", rec.ID)
}

func (s *Store) GetPlanRecord(ctx context.Context, id string) (*factory.PlanRecord, error) {
	var p factory.PlanRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, config_json::text, version, created_at, updated_at
		FROM retirement_plans WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.ConfigJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.ErrPlanNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "get plan %s", id)
	}
	return &p, nil
}

func (s *Store) ListPlanRecords(ctx context.Context) ([]factory.PlanRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, config_json::text, version, created_at, updated_at
		FROM retirement_plans ORDER BY name, id
	`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list plans")
	}
	defer rows.Close()

	var out []factory.PlanRecord
	for rows.Next() {
		var p factory.PlanRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.ConfigJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, pkgerrors.Wrap(err, "scan plan")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE transactions, retirement_plans")
	return err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
