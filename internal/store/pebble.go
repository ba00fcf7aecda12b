package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// keySep separates the table, partition and sort components of a pebble key.
// It is a byte that cannot appear in identifiers, so encoded keys preserve
// the (table, partition, sort) ordering.
const keySep = byte(0x00)

// PebbleStore is a durable, embedded Store implementation backed by a
// pebble database. Commit validation is serialised by a process-wide mutex,
// so it is suitable for single-node deployments.
type PebbleStore struct {
	db *pebble.DB
	// commitMu serialises commit validation and apply.
	commitMu sync.Mutex
}

// pebbleValue is the on-disk encoding of one record.
type pebbleValue struct {
	Version int64          `json:"version"`
	Values  map[string]any `json:"values"`
}

// OpenPebble opens (or creates) a pebble database at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache: pebble.NewCache(32 << 20),
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %q: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// Begin implements Store.
func (s *PebbleStore) Begin(_ context.Context) (Transaction, error) {
	return &pebbleTxn{store: s, buf: newTxnBuffer()}, nil
}

func encodeKey(key Key) []byte {
	out := make([]byte, 0, len(key.Table)+len(key.Partition)+len(key.Sort)+2)
	out = append(out, key.Table...)
	out = append(out, keySep)
	out = append(out, key.Partition...)
	out = append(out, keySep)
	out = append(out, key.Sort...)
	return out
}

func partitionPrefix(table, partition string) []byte {
	out := make([]byte, 0, len(table)+len(partition)+2)
	out = append(out, table...)
	out = append(out, keySep)
	out = append(out, partition...)
	out = append(out, keySep)
	return out
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) read(key Key) (*pebbleValue, error) {
	raw, closer, err := s.db.Get(encodeKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	defer closer.Close()

	var v pebbleValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &v, nil
}

type pebbleTxn struct {
	store *PebbleStore
	buf   *txnBuffer
}

// Get implements Transaction.
func (t *pebbleTxn) Get(_ context.Context, key Key) (*Record, error) {
	if t.buf.closed {
		return nil, ErrClosed
	}
	if values, ok := t.buf.overlay(key); ok {
		return &Record{Key: key, Values: copyValues(values)}, nil
	}

	v, err := t.store.read(key)
	if errors.Is(err, ErrNotFound) {
		t.buf.observe(key, 0)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.buf.observe(key, v.Version)
	return &Record{Key: key, Values: v.Values, Version: v.Version}, nil
}

// Put implements Transaction.
func (t *pebbleTxn) Put(_ context.Context, key Key, values map[string]any) error {
	if t.buf.closed {
		return ErrClosed
	}
	t.buf.writes[key] = copyValues(values)
	return nil
}

// Scan implements Transaction.
func (t *pebbleTxn) Scan(_ context.Context, table, partition string, opts ScanOptions) ([]*Record, error) {
	if t.buf.closed {
		return nil, ErrClosed
	}

	prefix := partitionPrefix(table, partition)
	iter, err := t.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	var committed []*Record
	for iter.First(); iter.Valid(); iter.Next() {
		sort := string(bytes.TrimPrefix(iter.Key(), prefix))
		var v pebbleValue
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		committed = append(committed, &Record{
			Key:     Key{Table: table, Partition: partition, Sort: sort},
			Values:  v.Values,
			Version: v.Version,
		})
	}
	if err := iter.Error(); err != nil {
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
func (t *pebbleTxn) Commit(_ context.Context) error {
	if t.buf.closed {
		return ErrClosed
	}
	t.buf.closed = true

	t.store.commitMu.Lock()
	defer t.store.commitMu.Unlock()

	currentVersion := func(key Key) (int64, error) {
		v, err := t.store.read(key)
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return v.Version, nil
	}
	validate := func(key Key) error {
		current, err := currentVersion(key)
		if err != nil {
			return err
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

	batch := t.store.db.NewBatch()
	defer batch.Close()
	for key, values := range t.buf.writes {
		current, err := currentVersion(key)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(pebbleValue{Version: current + 1, Values: values})
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if err := batch.Set(encodeKey(key), raw, nil); err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Abort implements Transaction.
func (t *pebbleTxn) Abort(_ context.Context) error {
	t.buf.closed = true
	return nil
}
