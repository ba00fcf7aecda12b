// Package model defines the canonical request and result types of the
// ledger, their signing-byte projections, and the public status surface.
//
// Each request kind projects to an order-stable byte sequence via
// SignedBytes; client and service recompute the same bytes independently, so
// one validation code path serves every kind. Fields that select what to
// fetch rather than assert what was signed (retrieval age, function ids) are
// deliberately excluded from the projection.
package model

// StatusCode is the public outcome classification of every operation.
type StatusCode string

const (
	StatusOK StatusCode = "OK"

	// Request-level failures.
	StatusConflict         StatusCode = "CONFLICT"
	StatusInvalidRequest   StatusCode = "INVALID_REQUEST"
	StatusInvalidSignature StatusCode = "INVALID_SIGNATURE"

	// Resolution failures.
	StatusKeyNotFound       StatusCode = "KEY_NOT_FOUND"
	StatusContractNotFound  StatusCode = "CONTRACT_NOT_FOUND"
	StatusFunctionNotFound  StatusCode = "FUNCTION_NOT_FOUND"
	StatusNamespaceNotFound StatusCode = "NAMESPACE_NOT_FOUND"
	StatusAssetNotFound     StatusCode = "ASSET_NOT_FOUND"

	// Contract-level failures.
	StatusContractContextualError StatusCode = "CONTRACT_CONTEXTUAL_ERROR"
	StatusInvalidFunction         StatusCode = "INVALID_FUNCTION"

	// Tamper findings, reported by the validation service.
	StatusInvalidContract    StatusCode = "INVALID_CONTRACT"
	StatusInvalidNonce       StatusCode = "INVALID_NONCE"
	StatusInvalidPrevHash    StatusCode = "INVALID_PREV_HASH"
	StatusInvalidOutput      StatusCode = "INVALID_OUTPUT"
	StatusInconsistentStates StatusCode = "INCONSISTENT_STATES"
	StatusInvalidProof       StatusCode = "INVALID_PROOF_SIGNATURE"

	// Infrastructure failures.
	StatusDatabaseError StatusCode = "DATABASE_ERROR"
	StatusUnknownError  StatusCode = "UNKNOWN_ERROR"
)
