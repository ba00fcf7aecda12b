// Package engine implements the contract execution engine: it validates
// request signatures, resolves registered logic, runs it inside one store
// transaction, and commits the resulting proof-linked asset versions.
//
// A request moves through validate-signature, resolve-contract,
// open-transaction, run-contract, optional nested contract, optional
// functions, and commit; every failure aborts the transaction and surfaces
// one public status code. The engine is also the translation point that
// maps lower-layer errors onto the model.StatusCode surface.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/contract"
	"github.com/scalar-labs/scalardl-sub000/internal/crypto"
	"github.com/scalar-labs/scalardl-sub000/internal/ledger"
	"github.com/scalar-labs/scalardl-sub000/internal/model"
	"github.com/scalar-labs/scalardl-sub000/internal/store"
)

// maxNestedDepth bounds contract sub-calls: a contract may invoke one other
// contract, and that one may not invoke further.
const maxNestedDepth = 1

// AuditorConfig enables the dual-signature protocol. When enabled, every
// execution request must carry the auditor's signature over its nonce, and
// every committed proof is counter-signed with Signer.
type AuditorConfig struct {
	Enabled    bool
	EntityID   string
	KeyVersion int
	Signer     crypto.Signer
}

// Engine executes signed contract requests against the ledger.
type Engine struct {
	store      store.Store
	keys       *crypto.Registry
	contracts  *contract.Registry
	namespaces *store.Namespaces
	signer     crypto.Signer
	auditor    AuditorConfig
	logger     *zap.Logger
}

// New creates an Engine. signer is the ledger operator's proof-signing key.
func New(s store.Store, keys *crypto.Registry, contracts *contract.Registry, namespaces *store.Namespaces, signer crypto.Signer, auditor AuditorConfig, logger *zap.Logger) *Engine {
	return &Engine{
		store:      s,
		keys:       keys,
		contracts:  contracts,
		namespaces: namespaces,
		signer:     signer,
		auditor:    auditor,
		logger:     logger,
	}
}

// Execute runs one contract execution request to completion.
func (e *Engine) Execute(ctx context.Context, req *model.ContractExecutionRequest) (*model.ContractExecutionResult, error) {
	if req.ContractID == "" || req.EntityID == "" || req.KeyVersion <= 0 {
		return nil, model.NewStatusError(model.StatusInvalidRequest,
			"contract id, entity id and positive key version are required")
	}
	nonce := req.EffectiveNonce()
	if nonce == "" {
		return nil, model.NewStatusError(model.StatusInvalidRequest,
			"request carries no nonce, explicitly or in the contract argument")
	}

	// Signature validation happens before any transaction is opened.
	validator, err := e.keys.Validator(ctx, req.EntityID, req.KeyVersion)
	if err != nil {
		return nil, e.translate(err)
	}
	if err := req.ValidateWith(validator); err != nil {
		return nil, err
	}
	if err := e.checkAuditorSignature(ctx, req, nonce); err != nil {
		return nil, err
	}

	// Resolve the contract and any declared functions up front so a
	// resolution failure never opens a transaction.
	entry, err := e.contracts.GetContract(ctx, req.ContractID, req.EntityID, req.KeyVersion)
	if err != nil {
		return nil, e.translate(err)
	}
	logic, err := e.contracts.ContractInstance(entry)
	if err != nil {
		return nil, e.translate(err)
	}

	if len(req.FunctionIDs) > 0 && req.FunctionArgument == "" {
		return nil, model.NewStatusError(model.StatusContractContextualError,
			"functions declared without a function argument")
	}
	functions := make([]contract.Function, 0, len(req.FunctionIDs))
	for _, fid := range req.FunctionIDs {
		fentry, err := e.contracts.GetFunction(ctx, fid, req.EntityID, req.KeyVersion)
		if err != nil {
			return nil, e.translate(err)
		}
		fn, err := e.contracts.FunctionInstance(fentry)
		if err != nil {
			return nil, e.translate(err)
		}
		functions = append(functions, fn)
	}

	table, namespace, err := e.resolveNamespace(req.ContractArgument)
	if err != nil {
		return nil, e.translate(err)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, model.WrapStatusError(model.StatusDatabaseError, err, "open transaction")
	}
	defer tx.Abort(ctx) //nolint:errcheck

	var auditorSigner crypto.Signer
	if e.auditor.Enabled {
		auditorSigner = e.auditor.Signer
	}
	l := ledger.New(tx, table, namespace, nonce, e.signer, auditorSigner)

	env := &execEnv{engine: e, ledger: l, entry: entry, depth: 0}
	contractResult, err := logic.Invoke(ctx, env, req.ContractArgument)
	if err != nil {
		return nil, e.translate(err)
	}

	functionResult, err := e.runFunctions(ctx, tx, table, functions, req)
	if err != nil {
		return nil, e.translate(err)
	}

	proofs, err := l.Flush(ctx, ledger.ExecutionContext{
		ContractID:       req.ContractID,
		Argument:         req.ContractArgument,
		EntityID:         req.EntityID,
		KeyVersion:       req.KeyVersion,
		RequestSignature: req.Signature,
	})
	if err != nil {
		return nil, e.translate(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, e.translate(err)
	}

	e.logger.Debug("contract executed",
		zap.String("contract_id", req.ContractID),
		zap.String("entity_id", req.EntityID),
		zap.String("nonce", nonce),
		zap.Int("proofs", len(proofs)),
	)

	result := &model.ContractExecutionResult{
		ContractResult: contractResult,
		FunctionResult: functionResult,
		LedgerProofs:   proofs,
	}
	if e.auditor.Enabled {
		result.AuditorProofs = auditorView(proofs)
	}
	return result, nil
}

// checkAuditorSignature enforces the dual-signature protocol on the request
// side: the auditor must have signed this request's nonce.
func (e *Engine) checkAuditorSignature(ctx context.Context, req *model.ContractExecutionRequest, nonce string) error {
	if !e.auditor.Enabled {
		return nil
	}
	if len(req.AuditorSignature) == 0 {
		return model.NewStatusError(model.StatusInvalidSignature,
			"auditor mode requires an auditor signature over the nonce")
	}
	validator, err := e.keys.Validator(ctx, e.auditor.EntityID, e.auditor.KeyVersion)
	if err != nil {
		return e.translate(err)
	}
	if err := validator.Validate([]byte(nonce), req.AuditorSignature); err != nil {
		return model.WrapStatusError(model.StatusInvalidSignature, err,
			"auditor signature over nonce failed")
	}
	return nil
}

// resolveNamespace extracts the optional namespace from the argument JSON
// and maps it to the physical asset table.
func (e *Engine) resolveNamespace(argument string) (table, namespace string, err error) {
	var arg struct {
		Namespace string `json:"namespace"`
	}
	// A non-JSON argument simply has no namespace; contracts are free to
	// define their own argument encoding.
	_ = json.Unmarshal([]byte(argument), &arg)

	table, err = e.namespaces.Resolve(arg.Namespace)
	if err != nil {
		return "", "", err
	}
	return table, arg.Namespace, nil
}

func (e *Engine) runFunctions(ctx context.Context, tx store.Transaction, assetTable string, functions []contract.Function, req *model.ContractExecutionRequest) (string, error) {
	if len(functions) == 0 {
		return "", nil
	}

	db := newGuardedDatabase(tx, assetTable)
	var results []string
	for i, fn := range functions {
		out, err := fn.Invoke(ctx, db, req.ContractArgument, req.FunctionArgument)
		if err != nil {
			if code := model.CodeOf(err); code != model.StatusUnknownError {
				return "", err
			}
			return "", model.WrapStatusError(model.StatusInvalidFunction, err,
				"function %s failed", req.FunctionIDs[i])
		}
		if out != "" {
			results = append(results, out)
		}
	}

	switch len(results) {
	case 0:
		return "", nil
	case 1:
		return results[0], nil
	default:
		raw, err := json.Marshal(results)
		if err != nil {
			return "", fmt.Errorf("marshal function results: %w", err)
		}
		return string(raw), nil
	}
}

// auditorView re-frames proofs as the auditor's: the auditor counter-
// signature becomes the proof signature.
func auditorView(proofs []*ledger.Proof) []*ledger.Proof {
	out := make([]*ledger.Proof, 0, len(proofs))
	for _, p := range proofs {
		q := *p
		q.Signature = p.AuditorSignature
		q.AuditorSignature = nil
		out = append(out, &q)
	}
	return out
}

// translate maps internal errors onto the public status surface. More
// specific classifications are never downgraded: an error already carrying
// a status passes through unchanged.
func (e *Engine) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case model.CodeOf(err) != model.StatusUnknownError:
		return err
	case errors.Is(err, store.ErrConflict):
		return model.WrapStatusError(model.StatusConflict, err, "concurrent writer won; retry with a fresh nonce")
	case errors.Is(err, crypto.ErrKeyNotFound):
		return model.WrapStatusError(model.StatusKeyNotFound, err, "no registered key")
	case errors.Is(err, crypto.ErrAlreadyRegistered):
		return model.WrapStatusError(model.StatusInvalidRequest, err, "key entry is immutable")
	case errors.Is(err, contract.ErrContractNotFound):
		return model.WrapStatusError(model.StatusContractNotFound, err, "no contract for this entity")
	case errors.Is(err, contract.ErrFunctionNotFound):
		return model.WrapStatusError(model.StatusFunctionNotFound, err, "no function for this entity")
	case errors.Is(err, contract.ErrAlreadyRegistered):
		return model.WrapStatusError(model.StatusInvalidRequest, err, "logic entry is immutable")
	case errors.Is(err, contract.ErrUnloadable):
		return model.WrapStatusError(model.StatusInvalidRequest, err, "logic entry is not loadable")
	case errors.Is(err, store.ErrNamespaceNotFound):
		return model.WrapStatusError(model.StatusNamespaceNotFound, err, "unresolvable namespace")
	case errors.Is(err, ledger.ErrNotFound):
		return model.WrapStatusError(model.StatusAssetNotFound, err, "no such asset version")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrClosed):
		return model.WrapStatusError(model.StatusDatabaseError, err, "storage failure")
	default:
		return model.WrapStatusError(model.StatusUnknownError, err, "execution failed")
	}
}

// execEnv implements contract.Env for one execution request. Nested
// invocations share the transaction-scoped ledger and bump depth.
type execEnv struct {
	engine *Engine
	ledger *ledger.Ledger
	entry  *contract.Entry
	depth  int
}

// Ledger implements contract.Env.
func (env *execEnv) Ledger() *ledger.Ledger {
	return env.ledger
}

// Properties implements contract.Env.
func (env *execEnv) Properties() (json.RawMessage, bool) {
	if len(env.entry.Properties) == 0 {
		return nil, false
	}
	return env.entry.Properties, true
}

// Invoke implements contract.Env.
func (env *execEnv) Invoke(ctx context.Context, contractID, argument string) (string, error) {
	if env.depth >= maxNestedDepth {
		return "", model.NewStatusError(model.StatusContractContextualError,
			"nested contract invocation exceeds depth %d", maxNestedDepth)
	}

	entry, err := env.engine.contracts.GetContract(ctx, contractID, env.entry.EntityID, env.entry.KeyVersion)
	if err != nil {
		return "", env.engine.translate(err)
	}
	logic, err := env.engine.contracts.ContractInstance(entry)
	if err != nil {
		return "", env.engine.translate(err)
	}

	nested := &execEnv{engine: env.engine, ledger: env.ledger, entry: entry, depth: env.depth + 1}
	return logic.Invoke(ctx, nested, argument)
}
