package model

import "github.com/scalar-labs/scalardl-sub000/internal/ledger"

// ContractExecutionResult is the immutable value returned to the caller of
// a successful execution. It is never persisted as-is; the proofs inside it
// are what the store holds.
type ContractExecutionResult struct {
	ContractResult string          `json:"contract_result,omitempty"`
	FunctionResult string          `json:"function_result,omitempty"`
	LedgerProofs   []*ledger.Proof `json:"ledger_proofs"`
	AuditorProofs  []*ledger.Proof `json:"auditor_proofs,omitempty"`
}

// LedgerValidationResult reports the outcome of re-walking a proof chain
// range. A non-OK code is a finding, not a failure: discovering tampering is
// the expected successful outcome of validation.
type LedgerValidationResult struct {
	Code         StatusCode    `json:"status_code"`
	Detail       string        `json:"detail,omitempty"`
	LedgerProof  *ledger.Proof `json:"ledger_proof,omitempty"`
	AuditorProof *ledger.Proof `json:"auditor_proof,omitempty"`
}
