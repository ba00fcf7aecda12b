package validation_test

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/crypto"
	"github.com/scalar-labs/scalardl-sub000/internal/ledger"
	"github.com/scalar-labs/scalardl-sub000/internal/model"
	"github.com/scalar-labs/scalardl-sub000/internal/store"
	"github.com/scalar-labs/scalardl-sub000/internal/validation"
)

type fixture struct {
	store    *store.MemoryStore
	keys     *crypto.Registry
	svc      *validation.Service
	operator *crypto.EcdsaSigner
	client   *crypto.EcdsaSigner
	auditor  *crypto.HmacSigner
}

func newFixture(t *testing.T, withAuditor bool) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	logger := zap.NewNop()
	keys := crypto.NewRegistry(s, logger)
	namespaces := store.NewNamespaces()

	f := &fixture{store: s, keys: keys}

	var err error
	if f.operator, err = crypto.GenerateEcdsaSigner(); err != nil {
		t.Fatalf("generate operator key: %v", err)
	}
	pem, err := f.operator.PublicKeyPEM()
	if err != nil {
		t.Fatalf("operator public key: %v", err)
	}
	if err := keys.RegisterCertificate(ctx, "ledger-operator", 1, pem); err != nil {
		t.Fatalf("register operator: %v", err)
	}

	if f.client, err = crypto.GenerateEcdsaSigner(); err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	pem, err = f.client.PublicKeyPEM()
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}
	if err := keys.RegisterCertificate(ctx, "alice", 1, pem); err != nil {
		t.Fatalf("register client: %v", err)
	}

	var auditorIdentity *validation.Identity
	if withAuditor {
		f.auditor = crypto.NewHmacSigner([]byte("auditor-secret"))
		if err := keys.RegisterSecret(ctx, "auditor", 1, []byte("auditor-secret")); err != nil {
			t.Fatalf("register auditor: %v", err)
		}
		auditorIdentity = &validation.Identity{EntityID: "auditor", KeyVersion: 1}
	}

	f.svc = validation.New(s, keys, namespaces,
		validation.Identity{EntityID: "ledger-operator", KeyVersion: 1},
		auditorIdentity, logger)
	return f
}

// appendVersion commits one asset version the way an execution would:
// proof-linked, operator-signed, with a verifiable stored request.
func (f *fixture) appendVersion(t *testing.T, id, nonce, data string) *ledger.Proof {
	t.Helper()
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Abort(ctx) //nolint:errcheck

	var auditorSigner crypto.Signer
	if f.auditor != nil {
		auditorSigner = f.auditor
	}
	l := ledger.New(tx, store.DefaultAssetTable, "", nonce, f.operator, auditorSigner)
	if err := l.Put(ctx, id, data); err != nil {
		t.Fatalf("put: %v", err)
	}

	req := &model.ContractExecutionRequest{
		Nonce:            nonce,
		EntityID:         "alice",
		KeyVersion:       1,
		ContractID:       "upsert",
		ContractArgument: fmt.Sprintf(`{"id":%q,"data":%s}`, id, data),
	}
	if req.Signature, err = f.client.Sign(req.SignedBytes()); err != nil {
		t.Fatalf("sign request: %v", err)
	}

	proofs, err := l.Flush(ctx, ledger.ExecutionContext{
		ContractID:       req.ContractID,
		Argument:         req.ContractArgument,
		EntityID:         req.EntityID,
		KeyVersion:       req.KeyVersion,
		RequestSignature: req.Signature,
	})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return proofs[0]
}

// tamper rewrites stored fields of one committed record, bypassing the
// ledger the way an attacker with store access would.
func (f *fixture) tamper(t *testing.T, id string, age int, mutate func(values map[string]any)) {
	t.Helper()
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Abort(ctx) //nolint:errcheck

	key := store.Key{Table: store.DefaultAssetTable, Partition: id, Sort: fmt.Sprintf("%010d", age)}
	rec, err := tx.Get(ctx, key)
	if err != nil {
		t.Fatalf("read record to tamper: %v", err)
	}
	values := make(map[string]any, len(rec.Values))
	for k, v := range rec.Values {
		values[k] = v
	}
	mutate(values)
	if err := tx.Put(ctx, key, values); err != nil {
		t.Fatalf("write tampered record: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit tampering: %v", err)
	}
}

func (f *fixture) request(t *testing.T, id string, start, end int) *model.LedgerValidationRequest {
	t.Helper()
	req := &model.LedgerValidationRequest{
		AssetID:    id,
		StartAge:   start,
		EndAge:     end,
		EntityID:   "alice",
		KeyVersion: 1,
	}
	var err error
	if req.Signature, err = f.client.Sign(req.SignedBytes()); err != nil {
		t.Fatalf("sign validation request: %v", err)
	}
	return req
}

func TestValidate_intactChain(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 3; i++ {
		f.appendVersion(t, "doc", fmt.Sprintf("n-%d", i), fmt.Sprintf(`{"v":%d}`, i))
	}

	// The range end clamps to the chain tail.
	res, err := f.svc.Validate(context.Background(), f.request(t, "doc", 0, 100))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Code != model.StatusOK {
		t.Fatalf("code = %v (%s), want OK", res.Code, res.Detail)
	}
	if res.LedgerProof == nil || res.LedgerProof.Age != 2 {
		t.Errorf("result proof = %+v, want age 2", res.LedgerProof)
	}
}

func TestValidate_tamperedOutput(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 3; i++ {
		f.appendVersion(t, "doc", fmt.Sprintf("n-%d", i), fmt.Sprintf(`{"v":%d}`, i))
	}
	f.tamper(t, "doc", 1, func(values map[string]any) {
		values["output"] = `{"v":999}`
	})

	res, err := f.svc.Validate(context.Background(), f.request(t, "doc", 0, 2))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Code != model.StatusInvalidOutput {
		t.Fatalf("code = %v, want %v", res.Code, model.StatusInvalidOutput)
	}
	if res.LedgerProof == nil || res.LedgerProof.Age != 1 {
		t.Errorf("offending proof age = %+v, want 1", res.LedgerProof)
	}

	// Ranges that exclude the tampered age still verify: each record's
	// stored hash anchors the link below it.
	for _, r := range [][2]int{{0, 0}, {2, 2}} {
		res, err := f.svc.Validate(context.Background(), f.request(t, "doc", r[0], r[1]))
		if err != nil {
			t.Fatalf("validate [%d,%d]: %v", r[0], r[1], err)
		}
		if res.Code != model.StatusOK {
			t.Errorf("range [%d,%d] code = %v (%s), want OK", r[0], r[1], res.Code, res.Detail)
		}
	}
}

func TestValidate_forgedHash(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 2; i++ {
		f.appendVersion(t, "doc", fmt.Sprintf("n-%d", i), fmt.Sprintf(`{"v":%d}`, i))
	}

	// An attacker rewriting the output and recomputing the hash keeps the
	// record internally consistent but cannot re-sign it.
	tx, err := f.store.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	orig, err := ledger.GetProof(context.Background(), tx, store.DefaultAssetTable, "", "doc", 1)
	tx.Abort(context.Background()) //nolint:errcheck
	if err != nil {
		t.Fatalf("read proof: %v", err)
	}
	forged := *orig
	forged.Output = `{"v":999}`
	forged.Hash = forged.ComputeHash()

	f.tamper(t, "doc", 1, func(values map[string]any) {
		values["output"] = forged.Output
		values["hash"] = forged.Hash
	})

	res, err := f.svc.Validate(context.Background(), f.request(t, "doc", 0, 1))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Code != model.StatusInvalidProof {
		t.Fatalf("code = %v, want %v", res.Code, model.StatusInvalidProof)
	}
}

func TestValidate_brokenBackwardLink(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 3; i++ {
		f.appendVersion(t, "doc", fmt.Sprintf("n-%d", i), fmt.Sprintf(`{"v":%d}`, i))
	}

	tx, err := f.store.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	orig, err := ledger.GetProof(context.Background(), tx, store.DefaultAssetTable, "", "doc", 2)
	tx.Abort(context.Background()) //nolint:errcheck
	if err != nil {
		t.Fatalf("read proof: %v", err)
	}
	relinked := *orig
	relinked.PrevHash = "0000000000000000"
	relinked.Hash = relinked.ComputeHash()

	f.tamper(t, "doc", 2, func(values map[string]any) {
		values["prev_hash"] = relinked.PrevHash
		values["hash"] = relinked.Hash
	})

	res, err := f.svc.Validate(context.Background(), f.request(t, "doc", 0, 2))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Code != model.StatusInvalidPrevHash {
		t.Fatalf("code = %v, want %v", res.Code, model.StatusInvalidPrevHash)
	}
	if res.LedgerProof == nil || res.LedgerProof.Age != 2 {
		t.Errorf("offending proof age = %+v, want 2", res.LedgerProof)
	}
}

func TestValidate_missingRecords(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 2; i++ {
		f.appendVersion(t, "doc", fmt.Sprintf("n-%d", i), fmt.Sprintf(`{"v":%d}`, i))
	}

	// A raw record far beyond the tail leaves a gap below it.
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = tx.Put(ctx, store.Key{Table: store.DefaultAssetTable, Partition: "doc", Sort: fmt.Sprintf("%010d", 7)},
		map[string]any{"output": "orphan"})
	if err != nil {
		t.Fatalf("put orphan: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit orphan: %v", err)
	}

	res, err := f.svc.Validate(ctx, f.request(t, "doc", 0, 7))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Code != model.StatusInconsistentStates {
		t.Fatalf("gap code = %v, want %v", res.Code, model.StatusInconsistentStates)
	}

	// A range anchored on a missing record below it is inconsistent too.
	res, err = f.svc.Validate(ctx, f.request(t, "doc", 4, 7))
	if err != nil {
		t.Fatalf("validate anchored: %v", err)
	}
	if res.Code != model.StatusInconsistentStates {
		t.Fatalf("anchor code = %v, want %v", res.Code, model.StatusInconsistentStates)
	}
}

func TestValidate_replayedNonce(t *testing.T) {
	f := newFixture(t, false)
	f.appendVersion(t, "doc", "n-0", `{"v":0}`)
	f.appendVersion(t, "doc", "n-0", `{"v":1}`)

	res, err := f.svc.Validate(context.Background(), f.request(t, "doc", 0, 1))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Code != model.StatusInvalidNonce {
		t.Fatalf("code = %v, want %v", res.Code, model.StatusInvalidNonce)
	}
}

func TestValidate_forgedExecutionRequest(t *testing.T) {
	f := newFixture(t, false)
	f.appendVersion(t, "doc", "n-0", `{"v":0}`)

	// The argument is outside the proof hash yet inside the stored request
	// signature, so rewriting it is caught by re-validating the request.
	f.tamper(t, "doc", 0, func(values map[string]any) {
		values["argument"] = `{"id":"doc","data":{"v":"forged"}}`
	})

	res, err := f.svc.Validate(context.Background(), f.request(t, "doc", 0, 0))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Code != model.StatusInvalidContract {
		t.Fatalf("code = %v, want %v", res.Code, model.StatusInvalidContract)
	}
}

func TestValidate_requestFailures(t *testing.T) {
	f := newFixture(t, false)
	f.appendVersion(t, "doc", "n-0", `{"v":0}`)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, f.request(t, "ghost", 0, 0))
	if got := model.CodeOf(err); got != model.StatusAssetNotFound {
		t.Errorf("unknown asset status = %v, want %v", got, model.StatusAssetNotFound)
	}

	req := f.request(t, "doc", 0, 0)
	req.EndAge = 5 // changes the signed bytes
	_, err = f.svc.Validate(ctx, req)
	if got := model.CodeOf(err); got != model.StatusInvalidSignature {
		t.Errorf("tampered request status = %v, want %v", got, model.StatusInvalidSignature)
	}

	_, err = f.svc.Validate(ctx, f.request(t, "doc", 3, 2))
	if got := model.CodeOf(err); got != model.StatusInvalidRequest {
		t.Errorf("inverted range status = %v, want %v", got, model.StatusInvalidRequest)
	}

	_, err = f.svc.Validate(ctx, f.request(t, "doc", 5, 9))
	if got := model.CodeOf(err); got != model.StatusInvalidRequest {
		t.Errorf("beyond-tail range status = %v, want %v", got, model.StatusInvalidRequest)
	}
}

func TestValidate_auditorMode(t *testing.T) {
	f := newFixture(t, true)
	for i := 0; i < 2; i++ {
		f.appendVersion(t, "doc", fmt.Sprintf("n-%d", i), fmt.Sprintf(`{"v":%d}`, i))
	}
	ctx := context.Background()

	res, err := f.svc.Validate(ctx, f.request(t, "doc", 0, 1))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Code != model.StatusOK {
		t.Fatalf("code = %v (%s), want OK", res.Code, res.Detail)
	}
	if res.AuditorProof == nil {
		t.Fatalf("no auditor proof in result")
	}
	if err := f.auditor.Validate(res.AuditorProof.SignedBytes(), res.AuditorProof.Signature); err != nil {
		t.Errorf("auditor proof signature: %v", err)
	}

	// Stripping the counter-signature is itself a detectable defect.
	f.tamper(t, "doc", 1, func(values map[string]any) {
		values["auditor_signature"] = ""
	})
	res, err = f.svc.Validate(ctx, f.request(t, "doc", 0, 1))
	if err != nil {
		t.Fatalf("validate stripped: %v", err)
	}
	if res.Code != model.StatusInvalidProof {
		t.Fatalf("stripped code = %v, want %v", res.Code, model.StatusInvalidProof)
	}
}
