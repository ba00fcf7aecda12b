// Package validation re-walks committed proof chains to detect tampering in
// the backing store. Findings are results, not errors: a detected
// inconsistency is the service doing its job, reported with the status code
// naming what broke and the offending proof attached.
package validation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/crypto"
	"github.com/scalar-labs/scalardl-sub000/internal/ledger"
	"github.com/scalar-labs/scalardl-sub000/internal/model"
	"github.com/scalar-labs/scalardl-sub000/internal/store"
)

// Identity names a proof-signing party whose key is resolvable through the
// key registry.
type Identity struct {
	EntityID   string
	KeyVersion int
}

// Service validates asset proof chains against the store's current content.
type Service struct {
	store      store.Store
	keys       *crypto.Registry
	namespaces *store.Namespaces
	operator   Identity
	auditor    *Identity // nil unless auditor mode is enabled
	logger     *zap.Logger
}

// New creates a validation Service. operator names the key that signed the
// ledger's proofs; auditor may be nil.
func New(s store.Store, keys *crypto.Registry, namespaces *store.Namespaces, operator Identity, auditor *Identity, logger *zap.Logger) *Service {
	return &Service{
		store:      s,
		keys:       keys,
		namespaces: namespaces,
		operator:   operator,
		auditor:    auditor,
		logger:     logger,
	}
}

// Validate re-walks the proof chain of one asset over the requested
// inclusive age range. Request-level failures (bad signature, unknown asset)
// return errors; chain findings return a result whose code names the first
// defect encountered, walking oldest to newest.
func (s *Service) Validate(ctx context.Context, req *model.LedgerValidationRequest) (*model.LedgerValidationResult, error) {
	if req.AssetID == "" {
		return nil, model.NewStatusError(model.StatusInvalidRequest, "asset id is required")
	}
	if req.EndAge < req.StartAge {
		return nil, model.NewStatusError(model.StatusInvalidRequest,
			"end age %d precedes start age %d", req.EndAge, req.StartAge)
	}

	validator, err := s.keys.Validator(ctx, req.EntityID, req.KeyVersion)
	if err != nil {
		return nil, s.wrapKeyErr(err)
	}
	if err := req.ValidateWith(validator); err != nil {
		return nil, err
	}

	table, err := s.namespaces.Resolve(req.Namespace)
	if err != nil {
		return nil, model.WrapStatusError(model.StatusNamespaceNotFound, err, "unresolvable namespace")
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, model.WrapStatusError(model.StatusDatabaseError, err, "open transaction")
	}
	defer tx.Abort(ctx) //nolint:errcheck

	latest, err := ledger.LatestProof(ctx, tx, table, req.Namespace, req.AssetID)
	if err != nil {
		return nil, model.WrapStatusError(model.StatusAssetNotFound, err,
			"asset %s has no committed versions", req.AssetID)
	}

	// Clamp the requested range to what exists.
	start := req.StartAge
	if start < 0 {
		start = 0
	}
	end := req.EndAge
	if end > latest.Age {
		end = latest.Age
	}
	if end < start {
		return nil, model.NewStatusError(model.StatusInvalidRequest,
			"requested range [%d,%d] is beyond the chain tail %d", req.StartAge, req.EndAge, latest.Age)
	}

	operatorValidator, err := s.keys.Validator(ctx, s.operator.EntityID, s.operator.KeyVersion)
	if err != nil {
		return nil, s.wrapKeyErr(err)
	}
	var auditorValidator crypto.Validator
	if s.auditor != nil {
		if auditorValidator, err = s.keys.Validator(ctx, s.auditor.EntityID, s.auditor.KeyVersion); err != nil {
			return nil, s.wrapKeyErr(err)
		}
	}

	// Anchor the link check on the record just below the range, so a range
	// starting mid-chain still verifies its backward link.
	prevHash := ledger.GenesisPrevHash
	if start > 0 {
		anchor, err := ledger.GetProof(ctx, tx, table, req.Namespace, req.AssetID, start-1)
		if err != nil {
			return s.finding(req, model.StatusInconsistentStates, nil,
				"record below range start (age %d) is missing", start-1), nil
		}
		prevHash = anchor.Hash
	}

	proofs, err := ledger.ScanProofs(ctx, tx, table, req.Namespace, req.AssetID, start, end)
	if err != nil {
		return nil, model.WrapStatusError(model.StatusDatabaseError, err, "scan proof range")
	}

	seenNonces := make(map[string]int, end-start+1)
	var proof *ledger.Proof
	next := 0
	for age := start; age <= end; age++ {
		// The scan returns what exists in ascending age order; a skipped age
		// is a hole in the chain.
		if next >= len(proofs) || proofs[next].Age != age {
			return s.finding(req, model.StatusInconsistentStates, nil,
				"record at age %d is missing", age), nil
		}
		proof = proofs[next]
		next++

		if proof.ComputeHash() != proof.Hash {
			return s.finding(req, model.StatusInvalidOutput, proof,
				"stored hash at age %d does not match its recomputation", age), nil
		}
		if proof.PrevHash != prevHash {
			return s.finding(req, model.StatusInvalidPrevHash, proof,
				"backward link at age %d does not match age %d", age, age-1), nil
		}
		if err := operatorValidator.Validate(proof.SignedBytes(), proof.Signature); err != nil {
			return s.finding(req, model.StatusInvalidProof, proof,
				"operator proof signature at age %d: %v", age, err), nil
		}
		if auditorValidator != nil {
			if err := auditorValidator.Validate(proof.SignedBytes(), proof.AuditorSignature); err != nil {
				return s.finding(req, model.StatusInvalidProof, proof,
					"auditor proof signature at age %d: %v", age, err), nil
			}
		}
		if code := s.checkRequest(ctx, proof); code != model.StatusOK {
			return s.finding(req, code, proof,
				"stored execution request at age %d does not verify", age), nil
		}
		if prior, dup := seenNonces[proof.Nonce]; dup {
			return s.finding(req, model.StatusInvalidNonce, proof,
				"nonce at age %d replays age %d", age, prior), nil
		}
		seenNonces[proof.Nonce] = age

		prevHash = proof.Hash
	}

	s.logger.Debug("chain validated",
		zap.String("asset_id", req.AssetID),
		zap.String("namespace", req.Namespace),
		zap.Int("start_age", start),
		zap.Int("end_age", end),
	)

	result := &model.LedgerValidationResult{Code: model.StatusOK, LedgerProof: proof}
	if s.auditor != nil && proof != nil {
		q := *proof
		q.Signature = proof.AuditorSignature
		q.AuditorSignature = nil
		result.AuditorProof = &q
	}
	return result, nil
}

// checkRequest re-validates the original execution request stored alongside
// a proof. An unverifiable request means the recorded contract call cannot
// have produced this version legitimately.
func (s *Service) checkRequest(ctx context.Context, proof *ledger.Proof) model.StatusCode {
	stored := &model.ContractExecutionRequest{
		ContractID:       proof.ContractID,
		ContractArgument: proof.Argument,
		EntityID:         proof.EntityID,
		KeyVersion:       proof.KeyVersion,
		Signature:        proof.RequestSignature,
	}
	validator, err := s.keys.Validator(ctx, proof.EntityID, proof.KeyVersion)
	if err != nil {
		return model.StatusInvalidContract
	}
	if err := stored.ValidateWith(validator); err != nil {
		return model.StatusInvalidContract
	}
	return model.StatusOK
}

func (s *Service) finding(req *model.LedgerValidationRequest, code model.StatusCode, proof *ledger.Proof, format string, args ...any) *model.LedgerValidationResult {
	detail := fmt.Sprintf(format, args...)
	s.logger.Warn("chain defect detected",
		zap.String("asset_id", req.AssetID),
		zap.String("namespace", req.Namespace),
		zap.String("code", string(code)),
		zap.String("detail", detail),
	)
	return &model.LedgerValidationResult{Code: code, Detail: detail, LedgerProof: proof}
}

func (s *Service) wrapKeyErr(err error) error {
	return model.WrapStatusError(model.StatusKeyNotFound, err, "no registered key")
}
