package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/scalar-labs/scalardl-sub000/internal/crypto"
	"github.com/scalar-labs/scalardl-sub000/internal/store"
)

// Asset is the view of one asset version handed to contract logic.
type Asset struct {
	ID   string `json:"id"`
	Age  int    `json:"age"`
	Data string `json:"data"`
}

// inputEntry is one asset's observed age inside a proof's input snapshot.
type inputEntry struct {
	Age int `json:"age"`
}

// Ledger is the transaction-scoped accessor contract logic reads and writes
// assets through. Every Get feeds the read-set accumulator; Put is deferred
// until Flush so that all versions written by one request share the same
// read-set snapshot and nonce.
type Ledger struct {
	tx        store.Transaction
	table     string
	namespace string
	nonce     string
	signer    crypto.Signer
	auditor   crypto.Signer // nil unless auditor mode is enabled

	readSet map[string]int
	tails   map[string]*Proof // committed tail per asset read so far
	hasTail map[string]bool
	pending []string          // asset ids in first-put order
	writes  map[string]string // asset id -> pending output payload
}

// New creates a Ledger bound to one open transaction. signer produces the
// operator proof signatures; auditor may be nil.
func New(tx store.Transaction, table, namespace, nonce string, signer, auditor crypto.Signer) *Ledger {
	return &Ledger{
		tx:        tx,
		table:     table,
		namespace: namespace,
		nonce:     nonce,
		signer:    signer,
		auditor:   auditor,
		readSet:   make(map[string]int),
		tails:     make(map[string]*Proof),
		hasTail:   make(map[string]bool),
		writes:    make(map[string]string),
	}
}

// Get returns the current (max-age) version of an asset, or ErrNotFound.
// A pending Put from this same request reads back as the version it will
// become, without joining the read set.
func (l *Ledger) Get(ctx context.Context, id string) (*Asset, error) {
	if data, ok := l.writes[id]; ok {
		age := 0
		if tail, err := l.tail(ctx, id, false); err == nil {
			age = tail.Age + 1
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return &Asset{ID: id, Age: age, Data: data}, nil
	}

	tail, err := l.tail(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return &Asset{ID: id, Age: tail.Age, Data: tail.Output}, nil
}

// GetAt returns the version of an asset at a specific age, or ErrNotFound.
func (l *Ledger) GetAt(ctx context.Context, id string, age int) (*Asset, error) {
	proof, err := GetProof(ctx, l.tx, l.table, l.namespace, id, age)
	if err != nil {
		return nil, err
	}
	l.readSet[id] = age
	return &Asset{ID: id, Age: age, Data: proof.Output}, nil
}

// Put stages a new version of an asset. A second Put to the same id within
// one request replaces the staged payload; one request produces at most one
// new age per asset.
func (l *Ledger) Put(_ context.Context, id, data string) error {
	if id == "" {
		return fmt.Errorf("asset id is required")
	}
	if _, ok := l.writes[id]; !ok {
		l.pending = append(l.pending, id)
	}
	l.writes[id] = data
	return nil
}

// tail reads and caches the committed max-age proof of an asset.
// track controls whether the read joins the read-set accumulator.
func (l *Ledger) tail(ctx context.Context, id string, track bool) (*Proof, error) {
	if cached, ok := l.tails[id]; ok || l.hasTail[id] {
		if cached == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if track {
			l.readSet[id] = cached.Age
		}
		return cached, nil
	}

	records, err := l.tx.Scan(ctx, l.table, id, store.ScanOptions{Reverse: true, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("read asset tail: %w", err)
	}
	l.hasTail[id] = true
	if len(records) == 0 {
		l.tails[id] = nil
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	age, err := strconv.Atoi(records[0].Key.Sort)
	if err != nil {
		return nil, fmt.Errorf("malformed age sort key %q: %w", records[0].Key.Sort, err)
	}
	proof, err := proofFromValues(l.namespace, id, age, records[0].Values)
	if err != nil {
		return nil, err
	}
	l.tails[id] = proof
	if track {
		l.readSet[id] = proof.Age
	}
	return proof, nil
}

// inputFor serializes the read-set snapshot for a version of id, excluding
// the asset's own entry. Map keys marshal in sorted order, so the snapshot
// is deterministic.
func (l *Ledger) inputFor(id string) (string, error) {
	snapshot := make(map[string]inputEntry, len(l.readSet))
	for readID, age := range l.readSet {
		if readID == id {
			continue
		}
		snapshot[readID] = inputEntry{Age: age}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal input snapshot: %w", err)
	}
	return string(raw), nil
}

// ExecutionContext carries the request fields stored alongside each proof so
// validation can re-check the original signature later.
type ExecutionContext struct {
	ContractID       string
	Argument         string
	EntityID         string
	KeyVersion       int
	RequestSignature []byte
}

// Flush materialises all staged Puts into proof-linked records on the
// transaction, in first-put order, and returns the produced proofs.
// Every proof shares this request's nonce and read-set snapshot.
func (l *Ledger) Flush(ctx context.Context, exec ExecutionContext) ([]*Proof, error) {
	proofs := make([]*Proof, 0, len(l.pending))
	for _, id := range l.pending {
		age := 0
		prevHash := GenesisPrevHash
		tail, err := l.tail(ctx, id, false)
		if err == nil {
			age = tail.Age + 1
			prevHash = tail.Hash
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		input, err := l.inputFor(id)
		if err != nil {
			return nil, err
		}

		proof := &Proof{
			Namespace:        l.namespace,
			ID:               id,
			Age:              age,
			Nonce:            l.nonce,
			Input:            input,
			Output:           l.writes[id],
			ContractID:       exec.ContractID,
			Argument:         exec.Argument,
			EntityID:         exec.EntityID,
			KeyVersion:       exec.KeyVersion,
			RequestSignature: exec.RequestSignature,
			PrevHash:         prevHash,
		}
		proof.Hash = proof.ComputeHash()

		if proof.Signature, err = l.signer.Sign(proof.SignedBytes()); err != nil {
			return nil, fmt.Errorf("sign proof for %s age %d: %w", id, age, err)
		}
		if l.auditor != nil {
			if proof.AuditorSignature, err = l.auditor.Sign(proof.SignedBytes()); err != nil {
				return nil, fmt.Errorf("auditor-sign proof for %s age %d: %w", id, age, err)
			}
		}

		key := store.Key{Table: l.table, Partition: id, Sort: ageSort(age)}
		if err := l.tx.Put(ctx, key, proof.toValues()); err != nil {
			return nil, fmt.Errorf("append proof record: %w", err)
		}
		proofs = append(proofs, proof)
	}
	return proofs, nil
}

// GetProof reads the stored proof of one asset version.
func GetProof(ctx context.Context, tx store.Transaction, table, namespace, id string, age int) (*Proof, error) {
	record, err := tx.Get(ctx, store.Key{Table: table, Partition: id, Sort: ageSort(age)})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s age %d", ErrNotFound, id, age)
	}
	if err != nil {
		return nil, fmt.Errorf("read proof: %w", err)
	}
	return proofFromValues(namespace, id, age, record.Values)
}

// LatestProof reads the stored proof at an asset's current max age.
func LatestProof(ctx context.Context, tx store.Transaction, table, namespace, id string) (*Proof, error) {
	records, err := tx.Scan(ctx, table, id, store.ScanOptions{Reverse: true, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("read latest proof: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	age, err := strconv.Atoi(records[0].Key.Sort)
	if err != nil {
		return nil, fmt.Errorf("malformed age sort key %q: %w", records[0].Key.Sort, err)
	}
	return proofFromValues(namespace, id, age, records[0].Values)
}

// ScanProofs reads the stored proofs of an asset over an inclusive age
// range, ascending.
func ScanProofs(ctx context.Context, tx store.Transaction, table, namespace, id string, startAge, endAge int) ([]*Proof, error) {
	records, err := tx.Scan(ctx, table, id, store.ScanOptions{
		StartSort: ageSort(startAge),
		EndSort:   ageSort(endAge),
	})
	if err != nil {
		return nil, fmt.Errorf("scan proofs: %w", err)
	}
	proofs := make([]*Proof, 0, len(records))
	for _, r := range records {
		age, err := strconv.Atoi(r.Key.Sort)
		if err != nil {
			return nil, fmt.Errorf("malformed age sort key %q: %w", r.Key.Sort, err)
		}
		p, err := proofFromValues(namespace, id, age, r.Values)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
	}
	return proofs, nil
}
