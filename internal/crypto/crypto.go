// Package crypto implements the signature layer of the ledger.
//
// It provides:
//   - Signer / Validator — the two-sided signing contract every request and
//     proof goes through
//   - EcdsaSigner / EcdsaValidator — asymmetric mode (P-256, SHA-256, ASN.1)
//   - HmacSigner — symmetric mode (HMAC-SHA256); one type serves both sides
//   - Registry — resolves (entityId, keyVersion) to the registered
//     certificate or secret, backed by the record store
//   - KeyManager — creates/loads the operator's signing key on disk
package crypto

import "errors"

var (
	// ErrSignatureMismatch is returned by Validate when the signature does
	// not cover the given bytes. Callers must treat it as fatal for the
	// request being validated.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrKeyNotFound is returned when no certificate or secret is registered
	// for the requested entity and key version.
	ErrKeyNotFound = errors.New("key not found for entity")

	// ErrAlreadyRegistered is returned when a certificate or secret already
	// exists for an entity and key version. Registered keys are immutable.
	ErrAlreadyRegistered = errors.New("key already registered for entity")
)

// Signer produces a signature over a byte sequence.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Validator checks a signature over a byte sequence. A failed check returns
// ErrSignatureMismatch rather than a boolean so it cannot be ignored by
// accident.
type Validator interface {
	Validate(data, signature []byte) error
}
