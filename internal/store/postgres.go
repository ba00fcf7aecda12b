package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// commitLockKey is a stable PostgreSQL advisory lock key used to serialise
// commit validation across all ledger instances sharing one database.
// The value is arbitrary but must be consistent across instances.
const commitLockKey = int64(7_421_903_118)

// Schema creates the backing table for PostgresStore. Callers run it once at
// deployment time (or at startup through EnsureSchema).
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_records (
    tbl     TEXT   NOT NULL,
    pk      TEXT   NOT NULL,
    sk      TEXT   NOT NULL,
    payload JSONB  NOT NULL,
    version BIGINT NOT NULL,
    PRIMARY KEY (tbl, pk, sk)
)`

// PostgresStore persists records to a PostgreSQL database.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresStore backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create ledger_records table: %w", err)
	}
	return nil
}

// Begin implements Store.
func (s *PostgresStore) Begin(_ context.Context) (Transaction, error) {
	return &postgresTxn{store: s, buf: newTxnBuffer()}, nil
}

type postgresTxn struct {
	store *PostgresStore
	buf   *txnBuffer
}

// Get implements Transaction.
func (t *postgresTxn) Get(ctx context.Context, key Key) (*Record, error) {
	if t.buf.closed {
		return nil, ErrClosed
	}
	if values, ok := t.buf.overlay(key); ok {
		return &Record{Key: key, Values: copyValues(values)}, nil
	}

	var values map[string]any
	var version int64
	err := t.store.pool.QueryRow(ctx,
		"SELECT payload, version FROM ledger_records WHERE tbl = $1 AND pk = $2 AND sk = $3",
		key.Table, key.Partition, key.Sort,
	).Scan(&values, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		t.buf.observe(key, 0)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	t.buf.observe(key, version)
	return &Record{Key: key, Values: values, Version: version}, nil
}

// Put implements Transaction.
func (t *postgresTxn) Put(_ context.Context, key Key, values map[string]any) error {
	if t.buf.closed {
		return ErrClosed
	}
	t.buf.writes[key] = copyValues(values)
	return nil
}

// Scan implements Transaction.
func (t *postgresTxn) Scan(ctx context.Context, table, partition string, opts ScanOptions) ([]*Record, error) {
	if t.buf.closed {
		return nil, ErrClosed
	}

	rows, err := t.store.pool.Query(ctx,
		"SELECT sk, payload, version FROM ledger_records WHERE tbl = $1 AND pk = $2 ORDER BY sk ASC",
		table, partition,
	)
	if err != nil {
		return nil, fmt.Errorf("scan partition: %w", err)
	}
	defer rows.Close()

	var committed []*Record
	for rows.Next() {
		var sort string
		var values map[string]any
		var version int64
		if err := rows.Scan(&sort, &values, &version); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		committed = append(committed, &Record{
			Key:     Key{Table: table, Partition: partition, Sort: sort},
			Values:  values,
			Version: version,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan partition: %w", err)
	}

	out := t.buf.mergeScan(table, partition, committed, opts)
	for _, r := range out {
		if _, buffered := t.buf.overlay(r.Key); !buffered {
			t.buf.observe(r.Key, r.Version)
		}
	}
	return out, nil
}

// Commit implements Transaction.
// It acquires the advisory lock, re-reads the version of every key in the
// validation set, and applies buffered writes — all within a single SQL
// transaction, matching the optimistic protocol of the other backends.
func (t *postgresTxn) Commit(ctx context.Context) error {
	if t.buf.closed {
		return ErrClosed
	}
	t.buf.closed = true

	tx, err := t.store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent commit validations with a transaction-scoped
	// advisory lock. The lock is released when the transaction ends.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", commitLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	validate := func(key Key) error {
		var current int64
		err := tx.QueryRow(ctx,
			"SELECT version FROM ledger_records WHERE tbl = $1 AND pk = $2 AND sk = $3",
			key.Table, key.Partition, key.Sort,
		).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("validate record version: %w", err)
		}
		if !t.buf.validates(key, current) {
			return ErrConflict
		}
		return nil
	}
	for key := range t.buf.reads {
		if err := validate(key); err != nil {
			return err
		}
	}
	for key := range t.buf.writes {
		if _, alsoRead := t.buf.reads[key]; alsoRead {
			continue
		}
		if err := validate(key); err != nil {
			return err
		}
	}

	for key, values := range t.buf.writes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_records (tbl, pk, sk, payload, version)
			 VALUES ($1, $2, $3, $4, 1)
			 ON CONFLICT (tbl, pk, sk) DO UPDATE
			 SET payload = EXCLUDED.payload, version = ledger_records.version + 1`,
			key.Table, key.Partition, key.Sort, values,
		); err != nil {
			return fmt.Errorf("apply write: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	t.store.logger.Debug("transaction committed",
		zap.Int("writes", len(t.buf.writes)),
		zap.Int("reads", len(t.buf.reads)),
	)
	return nil
}

// Abort implements Transaction.
func (t *postgresTxn) Abort(_ context.Context) error {
	t.buf.closed = true
	return nil
}
