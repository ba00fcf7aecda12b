package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[Key]*Record)}
}

// Begin implements Store.
func (s *MemoryStore) Begin(_ context.Context) (Transaction, error) {
	return &memoryTxn{store: s, buf: newTxnBuffer()}, nil
}

type memoryTxn struct {
	store *MemoryStore
	buf   *txnBuffer
}

// Get implements Transaction.
func (t *memoryTxn) Get(_ context.Context, key Key) (*Record, error) {
	if t.buf.closed {
		return nil, ErrClosed
	}
	if values, ok := t.buf.overlay(key); ok {
		return &Record{Key: key, Values: copyValues(values)}, nil
	}

	t.store.mu.RLock()
	r, ok := t.store.records[key]
	t.store.mu.RUnlock()

	if !ok {
		t.buf.observe(key, 0)
		return nil, ErrNotFound
	}
	t.buf.observe(key, r.Version)
	return &Record{Key: key, Values: copyValues(r.Values), Version: r.Version}, nil
}

// Put implements Transaction.
func (t *memoryTxn) Put(_ context.Context, key Key, values map[string]any) error {
	if t.buf.closed {
		return ErrClosed
	}
	t.buf.writes[key] = copyValues(values)
	return nil
}

// Scan implements Transaction.
func (t *memoryTxn) Scan(_ context.Context, table, partition string, opts ScanOptions) ([]*Record, error) {
	if t.buf.closed {
		return nil, ErrClosed
	}

	t.store.mu.RLock()
	var committed []*Record
	for key, r := range t.store.records {
		if key.Table != table || key.Partition != partition {
			continue
		}
		committed = append(committed, &Record{Key: key, Values: copyValues(r.Values), Version: r.Version})
	}
	t.store.mu.RUnlock()

	out := t.buf.mergeScan(table, partition, committed, opts)
	for _, r := range out {
		if _, buffered := t.buf.overlay(r.Key); !buffered {
			t.buf.observe(r.Key, r.Version)
		}
	}
	return out, nil
}

// Commit implements Transaction.
func (t *memoryTxn) Commit(_ context.Context) error {
	if t.buf.closed {
		return ErrClosed
	}
	t.buf.closed = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	validate := func(key Key) bool {
		var current int64
		if r, ok := t.store.records[key]; ok {
			current = r.Version
		}
		return t.buf.validates(key, current)
	}
	for key := range t.buf.reads {
		if !validate(key) {
			return ErrConflict
		}
	}
	for key := range t.buf.writes {
		if !validate(key) {
			return ErrConflict
		}
	}

	for key, values := range t.buf.writes {
		version := int64(1)
		if r, ok := t.store.records[key]; ok {
			version = r.Version + 1
		}
		t.store.records[key] = &Record{Key: key, Values: copyValues(values), Version: version}
	}
	return nil
}

// Abort implements Transaction.
func (t *memoryTxn) Abort(_ context.Context) error {
	t.buf.closed = true
	return nil
}
