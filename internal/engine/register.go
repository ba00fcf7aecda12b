package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/contract"
	"github.com/scalar-labs/scalardl-sub000/internal/ledger"
	"github.com/scalar-labs/scalardl-sub000/internal/model"
)

// RegisterCertificate binds a PEM certificate to (entityId, keyVersion).
// The request is operator-authenticated upstream rather than self-signed;
// a certificate cannot vouch for itself before it is registered.
func (e *Engine) RegisterCertificate(ctx context.Context, req *model.CertificateRegistrationRequest) error {
	if req.EntityID == "" || req.KeyVersion <= 0 || req.CertificatePEM == "" {
		return model.NewStatusError(model.StatusInvalidRequest,
			"entity id, positive key version and certificate are required")
	}
	if err := e.keys.RegisterCertificate(ctx, req.EntityID, req.KeyVersion, []byte(req.CertificatePEM)); err != nil {
		return e.translate(err)
	}
	return nil
}

// RegisterSecret binds an HMAC secret to (entityId, keyVersion).
func (e *Engine) RegisterSecret(ctx context.Context, req *model.SecretRegistrationRequest) error {
	if req.EntityID == "" || req.KeyVersion <= 0 || len(req.Secret) == 0 {
		return model.NewStatusError(model.StatusInvalidRequest,
			"entity id, positive key version and secret are required")
	}
	if err := e.keys.RegisterSecret(ctx, req.EntityID, req.KeyVersion, req.Secret); err != nil {
		return e.translate(err)
	}
	return nil
}

// RegisterContract stores contract logic under the requesting entity after
// validating its signature against the registered key.
func (e *Engine) RegisterContract(ctx context.Context, req *model.ContractRegistrationRequest) error {
	validator, err := e.keys.Validator(ctx, req.EntityID, req.KeyVersion)
	if err != nil {
		return e.translate(err)
	}
	if err := req.ValidateWith(validator); err != nil {
		return err
	}

	entry := &contract.Entry{
		ID:         req.ContractID,
		BinaryName: req.ContractBinaryName,
		Bytecode:   req.ContractBytecode,
		Properties: req.Properties,
		EntityID:   req.EntityID,
		KeyVersion: req.KeyVersion,
	}
	if err := e.contracts.RegisterContract(ctx, entry); err != nil {
		return e.translate(err)
	}
	return nil
}

// RegisterFunction stores function logic under the requesting entity after
// validating its signature against the registered key.
func (e *Engine) RegisterFunction(ctx context.Context, req *model.FunctionRegistrationRequest) error {
	validator, err := e.keys.Validator(ctx, req.EntityID, req.KeyVersion)
	if err != nil {
		return e.translate(err)
	}
	if err := req.ValidateWith(validator); err != nil {
		return err
	}

	entry := &contract.Entry{
		ID:         req.FunctionID,
		BinaryName: req.FunctionBinaryName,
		Bytecode:   req.FunctionBytecode,
		EntityID:   req.EntityID,
		KeyVersion: req.KeyVersion,
	}
	if err := e.contracts.RegisterFunction(ctx, entry); err != nil {
		return e.translate(err)
	}
	return nil
}

// Proof fetches the stored proof of one committed asset version. A negative
// age selects the latest version.
func (e *Engine) Proof(ctx context.Context, req *model.AssetProofRetrievalRequest) (*ledger.Proof, error) {
	if req.AssetID == "" {
		return nil, model.NewStatusError(model.StatusInvalidRequest, "asset id is required")
	}
	validator, err := e.keys.Validator(ctx, req.EntityID, req.KeyVersion)
	if err != nil {
		return nil, e.translate(err)
	}
	if err := req.ValidateWith(validator); err != nil {
		return nil, err
	}

	table, err := e.namespaces.Resolve(req.Namespace)
	if err != nil {
		return nil, e.translate(err)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, model.WrapStatusError(model.StatusDatabaseError, err, "open transaction")
	}
	defer tx.Abort(ctx) //nolint:errcheck

	var proof *ledger.Proof
	if req.Age < 0 {
		proof, err = ledger.LatestProof(ctx, tx, table, req.Namespace, req.AssetID)
	} else {
		proof, err = ledger.GetProof(ctx, tx, table, req.Namespace, req.AssetID, req.Age)
	}
	if err != nil {
		return nil, e.translate(err)
	}

	e.logger.Debug("proof retrieved",
		zap.String("asset_id", req.AssetID),
		zap.Int("age", proof.Age),
	)
	return proof, nil
}
