package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/scalar-labs/scalardl-sub000/internal/crypto"
)

// ContractExecutionRequest asks the engine to run a registered contract,
// optionally followed by registered functions, within one transaction.
type ContractExecutionRequest struct {
	Nonce            string   `json:"nonce,omitempty"`
	EntityID         string   `json:"entity_id"`
	KeyVersion       int      `json:"key_version"`
	ContractID       string   `json:"contract_id"`
	ContractArgument string   `json:"contract_argument"`
	FunctionIDs      []string `json:"function_ids,omitempty"`
	FunctionArgument string   `json:"function_argument,omitempty"`
	Signature        []byte   `json:"signature"`
	AuditorSignature []byte   `json:"auditor_signature,omitempty"`
}

// EffectiveNonce returns the explicit nonce, or the one embedded in the
// contract argument JSON under the "nonce" key. The embedded form is the
// older argument encoding and is kept for compatibility.
func (r *ContractExecutionRequest) EffectiveNonce() string {
	if r.Nonce != "" {
		return r.Nonce
	}
	var arg struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal([]byte(r.ContractArgument), &arg); err != nil {
		return ""
	}
	return arg.Nonce
}

// SignedBytes covers (contract_id, contract_argument, entity_id,
// key_version) only. Function ids and the function argument are the caller's
// choice on top of an already-valid contract call and are deliberately
// outside the signature.
func (r *ContractExecutionRequest) SignedBytes() []byte {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(r.ContractID))
	writeChunk(&buf, []byte(r.ContractArgument))
	writeChunk(&buf, []byte(r.EntityID))
	writeUint32(&buf, uint32(r.KeyVersion))
	return buf.Bytes()
}

// ValidateWith recomputes the canonical bytes and checks the signature.
func (r *ContractExecutionRequest) ValidateWith(v crypto.Validator) error {
	return validateSigned(v, "contract execution",
		"(contract_id, contract_argument, entity_id, key_version)",
		r.SignedBytes(), r.Signature)
}

// ContractRegistrationRequest registers contract logic scoped to the
// registering entity. The same contract id under a different entity is a
// distinct contract.
type ContractRegistrationRequest struct {
	ContractID         string          `json:"contract_id"`
	ContractBinaryName string          `json:"contract_binary_name"`
	ContractBytecode   []byte          `json:"contract_bytecode,omitempty"`
	Properties         json.RawMessage `json:"properties,omitempty"`
	EntityID           string          `json:"entity_id"`
	KeyVersion         int             `json:"key_version"`
	Signature          []byte          `json:"signature"`
}

// SignedBytes covers every registration field in declaration order.
func (r *ContractRegistrationRequest) SignedBytes() []byte {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(r.ContractID))
	writeChunk(&buf, []byte(r.ContractBinaryName))
	writeChunk(&buf, r.ContractBytecode)
	writeChunk(&buf, r.Properties)
	writeChunk(&buf, []byte(r.EntityID))
	writeUint32(&buf, uint32(r.KeyVersion))
	return buf.Bytes()
}

// ValidateWith recomputes the canonical bytes and checks the signature.
func (r *ContractRegistrationRequest) ValidateWith(v crypto.Validator) error {
	return validateSigned(v, "contract registration",
		"(contract_id, binary_name, bytecode, properties, entity_id, key_version)",
		r.SignedBytes(), r.Signature)
}

// FunctionRegistrationRequest registers side-effecting function logic scoped
// to the registering entity.
type FunctionRegistrationRequest struct {
	FunctionID         string `json:"function_id"`
	FunctionBinaryName string `json:"function_binary_name"`
	FunctionBytecode   []byte `json:"function_bytecode,omitempty"`
	EntityID           string `json:"entity_id"`
	KeyVersion         int    `json:"key_version"`
	Signature          []byte `json:"signature"`
}

// SignedBytes covers every registration field in declaration order.
func (r *FunctionRegistrationRequest) SignedBytes() []byte {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(r.FunctionID))
	writeChunk(&buf, []byte(r.FunctionBinaryName))
	writeChunk(&buf, r.FunctionBytecode)
	writeChunk(&buf, []byte(r.EntityID))
	writeUint32(&buf, uint32(r.KeyVersion))
	return buf.Bytes()
}

// ValidateWith recomputes the canonical bytes and checks the signature.
func (r *FunctionRegistrationRequest) ValidateWith(v crypto.Validator) error {
	return validateSigned(v, "function registration",
		"(function_id, binary_name, bytecode, entity_id, key_version)",
		r.SignedBytes(), r.Signature)
}

// CertificateRegistrationRequest binds a certificate to an entity and key
// version. Registration bootstraps trust and is guarded by operator
// authentication rather than an entity signature.
type CertificateRegistrationRequest struct {
	EntityID       string `json:"entity_id"`
	KeyVersion     int    `json:"key_version"`
	CertificatePEM string `json:"certificate_pem"`
}

// SecretRegistrationRequest binds an HMAC secret to an entity and key
// version.
type SecretRegistrationRequest struct {
	EntityID   string `json:"entity_id"`
	KeyVersion int    `json:"key_version"`
	Secret     []byte `json:"secret"`
}

// LedgerValidationRequest asks the validation service to re-walk an asset's
// proof chain over an inclusive age range.
type LedgerValidationRequest struct {
	Namespace  string `json:"namespace,omitempty"`
	AssetID    string `json:"asset_id"`
	StartAge   int    `json:"start_age"`
	EndAge     int    `json:"end_age"`
	EntityID   string `json:"entity_id"`
	KeyVersion int    `json:"key_version"`
	Signature  []byte `json:"signature"`
}

// SignedBytes covers the asset selection, the requested range, and the
// requesting identity.
func (r *LedgerValidationRequest) SignedBytes() []byte {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(r.Namespace))
	writeChunk(&buf, []byte(r.AssetID))
	writeUint32(&buf, uint32(r.StartAge))
	writeUint32(&buf, uint32(r.EndAge))
	writeChunk(&buf, []byte(r.EntityID))
	writeUint32(&buf, uint32(r.KeyVersion))
	return buf.Bytes()
}

// ValidateWith recomputes the canonical bytes and checks the signature.
func (r *LedgerValidationRequest) ValidateWith(v crypto.Validator) error {
	return validateSigned(v, "ledger validation",
		"(namespace, asset_id, start_age, end_age, entity_id, key_version)",
		r.SignedBytes(), r.Signature)
}

// AssetProofRetrievalRequest fetches the stored proof of one asset version.
// Age selects which version to fetch, not what was asserted, so it is
// excluded from the signed bytes on purpose: a signature authorises
// retrieval for the asset, at any age.
type AssetProofRetrievalRequest struct {
	Namespace  string `json:"namespace,omitempty"`
	AssetID    string `json:"asset_id"`
	Age        int    `json:"age"` // negative means latest
	EntityID   string `json:"entity_id"`
	KeyVersion int    `json:"key_version"`
	Signature  []byte `json:"signature"`
}

// SignedBytes covers the asset selection and requesting identity, excluding
// the age.
func (r *AssetProofRetrievalRequest) SignedBytes() []byte {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(r.Namespace))
	writeChunk(&buf, []byte(r.AssetID))
	writeChunk(&buf, []byte(r.EntityID))
	writeUint32(&buf, uint32(r.KeyVersion))
	return buf.Bytes()
}

// ValidateWith recomputes the canonical bytes and checks the signature.
func (r *AssetProofRetrievalRequest) ValidateWith(v crypto.Validator) error {
	return validateSigned(v, "asset proof retrieval",
		"(namespace, asset_id, entity_id, key_version)",
		r.SignedBytes(), r.Signature)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// writeChunk frames a variable-length field with its byte length. Without
// the frame one signature would validate two requests whose field boundaries
// shift, e.g. ("create", "-evil x") and ("create-evil", " x").
func writeChunk(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func validateSigned(v crypto.Validator, kind, fields string, data, signature []byte) error {
	if len(signature) == 0 {
		return NewStatusError(StatusInvalidSignature,
			"%s request: missing signature over %s", kind, fields)
	}
	if err := v.Validate(data, signature); err != nil {
		return WrapStatusError(StatusInvalidSignature, err,
			"%s request: signature over %s failed", kind, fields)
	}
	return nil
}
