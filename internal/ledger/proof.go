// Package ledger implements the tamper-evident asset proof chain.
//
// Every asset is an ordered sequence of versions identified by a
// non-negative age. Each version carries an AssetProof: a hash over the
// version's fields chained to the previous age's hash, signed by the ledger
// operator (and, in auditor mode, counter-signed by the auditor). Any party
// holding the records can recompute the hashes and detect tampering.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned when an asset (or one of its ages) does not exist.
var ErrNotFound = errors.New("asset not found")

// GenesisPrevHash is the prev_hash of every asset's age-0 record.
const GenesisPrevHash = ""

// Proof is the stored, signed, hash-linked record of one asset version.
type Proof struct {
	Namespace string `json:"namespace,omitempty"`
	ID        string `json:"id"`
	Age       int    `json:"age"`

	// Nonce is the nonce of the execution request that produced this
	// version. Unique per request, not per asset.
	Nonce string `json:"nonce"`

	// Input is the JSON snapshot of other assets' ages read while producing
	// this version.
	Input string `json:"input"`

	// Output is the version's payload as produced by the contract.
	Output string `json:"output"`

	// The execution context, kept so the original request signature can be
	// re-validated during ledger validation.
	ContractID       string `json:"contract_id"`
	Argument         string `json:"argument"`
	EntityID         string `json:"entity_id"`
	KeyVersion       int    `json:"key_version"`
	RequestSignature []byte `json:"request_signature"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`

	// Signature is the ledger operator's signature over SignedBytes.
	// AuditorSignature is the auditor's, present only in auditor mode.
	Signature        []byte `json:"signature"`
	AuditorSignature []byte `json:"auditor_signature,omitempty"`
}

// ComputeHash returns the hex SHA-256 digest over the proof's chained
// fields. Recomputing it from a stored record and comparing to the stored
// Hash detects tampering with any covered field.
func (p *Proof) ComputeHash() string {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(p.Namespace))
	writeChunk(&buf, []byte(p.ID))
	writeUint32(&buf, uint32(p.Age))
	writeChunk(&buf, []byte(p.Nonce))
	writeChunk(&buf, []byte(p.Input))
	writeChunk(&buf, []byte(p.Output))
	writeChunk(&buf, []byte(p.PrevHash))
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// SignedBytes is the canonical byte projection covered by the operator and
// auditor proof signatures. It covers the hash (and therefore, transitively,
// every hashed field) plus the chain position.
func (p *Proof) SignedBytes() []byte {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(p.Namespace))
	writeChunk(&buf, []byte(p.ID))
	writeUint32(&buf, uint32(p.Age))
	writeChunk(&buf, []byte(p.Nonce))
	writeChunk(&buf, []byte(p.Input))
	writeChunk(&buf, []byte(p.Hash))
	writeChunk(&buf, []byte(p.PrevHash))
	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// writeChunk frames a variable-length field with its byte length. Nonce,
// input, and output are caller-influenced strings, so without the frame two
// different field splits could hash or sign identically.
func writeChunk(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// ageSort formats an age as a fixed-width sort key so lexicographic order
// matches numeric order.
func ageSort(age int) string {
	return fmt.Sprintf("%010d", age)
}

func (p *Proof) toValues() map[string]any {
	return map[string]any{
		"nonce":             p.Nonce,
		"input":             p.Input,
		"output":            p.Output,
		"contract_id":       p.ContractID,
		"argument":          p.Argument,
		"entity_id":         p.EntityID,
		"key_version":       p.KeyVersion,
		"request_signature": base64.StdEncoding.EncodeToString(p.RequestSignature),
		"prev_hash":         p.PrevHash,
		"hash":              p.Hash,
		"signature":         base64.StdEncoding.EncodeToString(p.Signature),
		"auditor_signature": base64.StdEncoding.EncodeToString(p.AuditorSignature),
	}
}

func proofFromValues(namespace, id string, age int, values map[string]any) (*Proof, error) {
	p := &Proof{
		Namespace:  namespace,
		ID:         id,
		Age:        age,
		Nonce:      stringValue(values["nonce"]),
		Input:      stringValue(values["input"]),
		Output:     stringValue(values["output"]),
		ContractID: stringValue(values["contract_id"]),
		Argument:   stringValue(values["argument"]),
		EntityID:   stringValue(values["entity_id"]),
		KeyVersion: intValue(values["key_version"]),
		PrevHash:   stringValue(values["prev_hash"]),
		Hash:       stringValue(values["hash"]),
	}
	for _, f := range []struct {
		name string
		dst  *[]byte
	}{
		{"request_signature", &p.RequestSignature},
		{"signature", &p.Signature},
		{"auditor_signature", &p.AuditorSignature},
	} {
		raw, err := base64.StdEncoding.DecodeString(stringValue(values[f.name]))
		if err != nil {
			return nil, fmt.Errorf("decode %s of %s age %d: %w", f.name, id, age, err)
		}
		if len(raw) > 0 {
			*f.dst = raw
		}
	}
	return p, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// intValue tolerates the numeric types the store backends produce: int from
// the memory store, float64 from JSON-decoding backends.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
