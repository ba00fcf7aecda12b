// Package store provides the transactional record store the ledger runs on.
//
// Records are addressed by (table, partition key, sort key) and carry a
// monotonically increasing version. Transactions buffer writes and validate
// optimistically at commit: every record read during the transaction must
// still be at the version it was read at, and every written key that was not
// read must still be absent. A transaction that loses this validation fails
// with ErrConflict and leaves no partial state behind.
//
// Three implementations are provided:
//   - MemoryStore:   in-process, for testing and single-node development.
//   - PostgresStore: durable, backed by a pgx connection pool.
//   - PebbleStore:   durable, backed by an embedded pebble database.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no record exists at the key.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by Commit when a concurrent transaction
	// touched one of this transaction's keys first.
	ErrConflict = errors.New("transaction conflict")

	// ErrClosed is returned when a transaction is used after Commit or Abort.
	ErrClosed = errors.New("transaction already closed")
)

// Key addresses a single record.
type Key struct {
	Table     string
	Partition string
	Sort      string
}

// Record is a stored row. Values is a flat JSON-compatible document.
// Version starts at 1 on first write and increases by 1 per overwrite.
type Record struct {
	Key     Key
	Values  map[string]any
	Version int64
}

// ScanOptions controls the ordering and size of a Scan result.
type ScanOptions struct {
	// Reverse returns records in descending sort-key order.
	Reverse bool
	// Limit caps the number of returned records; 0 means no cap.
	Limit int
	// StartSort and EndSort bound the sort-key range (inclusive).
	// Empty strings leave the corresponding bound open.
	StartSort string
	EndSort   string
}

// Transaction is a single atomic unit of reads and buffered writes.
// Implementations are not safe for concurrent use by multiple goroutines;
// each request owns exactly one transaction.
type Transaction interface {
	// Get returns the record at key, or ErrNotFound. The observed version
	// (or absence) joins the commit-time validation set.
	Get(ctx context.Context, key Key) (*Record, error)

	// Put buffers a write of values at key. The write becomes visible to
	// subsequent Get/Scan calls on this transaction and is applied at Commit.
	Put(ctx context.Context, key Key, values map[string]any) error

	// Scan returns the records of one partition ordered by sort key.
	// Scanned versions join the commit-time validation set.
	Scan(ctx context.Context, table, partition string, opts ScanOptions) ([]*Record, error)

	// Commit validates the read set and applies buffered writes atomically.
	// Returns ErrConflict if validation fails.
	Commit(ctx context.Context) error

	// Abort discards all buffered writes. Safe to call after Commit.
	Abort(ctx context.Context) error
}

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context) (Transaction, error)
}
