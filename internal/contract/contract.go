// Package contract defines the registered-logic model of the ledger:
// contract and function entries scoped to their owning entity, the
// interfaces their logic implements, and the loaders that turn stored
// entries into callable instances (in-process Go constructors or uploaded
// WebAssembly byte-code).
package contract

import (
	"context"
	"encoding/json"

	"github.com/scalar-labs/scalardl-sub000/internal/ledger"
	"github.com/scalar-labs/scalardl-sub000/internal/model"
)

// Env is the execution environment handed to contract logic. It scopes the
// logic to the request's transaction and identity.
type Env interface {
	// Ledger is the transaction-scoped asset accessor. Every Get joins the
	// read-set snapshot recorded in the produced proofs.
	Ledger() *ledger.Ledger

	// Properties returns the JSON document stored at registration time,
	// if any.
	Properties() (json.RawMessage, bool)

	// Invoke executes another registered contract of the same owner as a
	// sub-call within the same transaction. At most one level of nesting is
	// allowed; deeper attempts fail with a contextual error.
	Invoke(ctx context.Context, contractID, argument string) (string, error)
}

// Contract is deterministic registered logic that reads and writes assets.
type Contract interface {
	Invoke(ctx context.Context, env Env, argument string) (string, error)
}

// Database is the restricted store view handed to function logic. It
// refuses access to ledger-owned tables; functions may only touch auxiliary
// application tables.
type Database interface {
	Get(ctx context.Context, table, partition, sort string) (map[string]any, error)
	Put(ctx context.Context, table, partition, sort string, values map[string]any) error
	Scan(ctx context.Context, table, partition string) ([]map[string]any, error)
}

// Function is side-effecting registered logic run alongside a contract,
// writing outside the tamper-evident chain.
type Function interface {
	Invoke(ctx context.Context, db Database, contractArgument, functionArgument string) (string, error)
}

// Entry is a stored contract or function registration. Immutable once
// registered; the true key is (ID, EntityID, KeyVersion), so the same id
// under different owners names different logic.
type Entry struct {
	ID         string          `json:"id"`
	BinaryName string          `json:"binary_name"`
	Bytecode   []byte          `json:"bytecode,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
	EntityID   string          `json:"entity_id"`
	KeyVersion int             `json:"key_version"`
}

// ContextualError builds the error contract logic returns to reject its
// argument: a business-rule violation or malformed payload, fatal for the
// request but carrying a distinct public status.
func ContextualError(format string, args ...any) error {
	return model.NewStatusError(model.StatusContractContextualError, format, args...)
}
