package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/contract"
	"github.com/scalar-labs/scalardl-sub000/internal/contract/generic"
	"github.com/scalar-labs/scalardl-sub000/internal/crypto"
	"github.com/scalar-labs/scalardl-sub000/internal/engine"
	"github.com/scalar-labs/scalardl-sub000/internal/handler"
	"github.com/scalar-labs/scalardl-sub000/internal/model"
	"github.com/scalar-labs/scalardl-sub000/internal/store"
	"github.com/scalar-labs/scalardl-sub000/internal/validation"
)

type env struct {
	router *gin.Engine
	admin  *handler.AdminAuth
	client *crypto.EcdsaSigner
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemory()
	logger := zap.NewNop()
	keys := crypto.NewRegistry(s, logger)

	native := contract.NewNativeLoader()
	generic.Bind(native)
	contracts := contract.NewRegistry(s, native, nil, logger)
	namespaces := store.NewNamespaces()

	operator, err := crypto.GenerateEcdsaSigner()
	if err != nil {
		t.Fatalf("generate operator key: %v", err)
	}
	pem, err := operator.PublicKeyPEM()
	if err != nil {
		t.Fatalf("operator public key: %v", err)
	}
	if err := keys.RegisterCertificate(context.Background(), "ledger-operator", 1, pem); err != nil {
		t.Fatalf("register operator key: %v", err)
	}

	e := engine.New(s, keys, contracts, namespaces, operator, engine.AuditorConfig{}, logger)
	v := validation.New(s, keys, namespaces,
		validation.Identity{EntityID: "ledger-operator", KeyVersion: 1}, nil, logger)
	admin := handler.NewAdminAuth([]byte("test-admin-secret"), "scalardl", 0)

	h := handler.New(e, v, admin, logger)
	router := gin.New()
	h.Register(router.Group("/api/v1"))
	router.GET("/healthz", handler.Healthz)

	client, err := crypto.GenerateEcdsaSigner()
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	return &env{router: router, admin: admin, client: client}
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) adminHeaders(t *testing.T) map[string]string {
	t.Helper()
	token, err := e.admin.Issue("ops")
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// registerAlice registers the test client's certificate and a contract.
func (e *env) registerAlice(t *testing.T) {
	t.Helper()
	pem, err := e.client.PublicKeyPEM()
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}
	w := e.do(t, http.MethodPost, "/api/v1/certificates", model.CertificateRegistrationRequest{
		EntityID:       "alice",
		KeyVersion:     1,
		CertificatePEM: string(pem),
	}, e.adminHeaders(t))
	if w.Code != http.StatusCreated {
		t.Fatalf("register certificate: status %d body %s", w.Code, w.Body.String())
	}

	reg := model.ContractRegistrationRequest{
		ContractID:         "create",
		ContractBinaryName: generic.BinaryCreateObject,
		EntityID:           "alice",
		KeyVersion:         1,
	}
	if reg.Signature, err = e.client.Sign(reg.SignedBytes()); err != nil {
		t.Fatalf("sign registration: %v", err)
	}
	w = e.do(t, http.MethodPost, "/api/v1/contracts", reg, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register contract: status %d body %s", w.Code, w.Body.String())
	}
}

func (e *env) execute(t *testing.T, nonce, argument string) *httptest.ResponseRecorder {
	t.Helper()
	req := model.ContractExecutionRequest{
		Nonce:            nonce,
		EntityID:         "alice",
		KeyVersion:       1,
		ContractID:       "create",
		ContractArgument: argument,
	}
	var err error
	if req.Signature, err = e.client.Sign(req.SignedBytes()); err != nil {
		t.Fatalf("sign execution: %v", err)
	}
	return e.do(t, http.MethodPost, "/api/v1/contracts/execute", req, nil)
}

func TestKeyRegistrationRequiresAdminToken(t *testing.T) {
	e := newEnv(t)
	pem, _ := e.client.PublicKeyPEM()
	body := model.CertificateRegistrationRequest{
		EntityID:       "alice",
		KeyVersion:     1,
		CertificatePEM: string(pem),
	}

	w := e.do(t, http.MethodPost, "/api/v1/certificates", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/v1/certificates", body,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/v1/certificates", body, e.adminHeaders(t))
	if w.Code != http.StatusCreated {
		t.Errorf("good token: status = %d body %s, want 201", w.Code, w.Body.String())
	}
}

func TestExecuteEndpoint(t *testing.T) {
	e := newEnv(t)
	e.registerAlice(t)

	w := e.execute(t, "n-1", `{"id":"doc","data":{"v":1}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("execute: status = %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		StatusCode   model.StatusCode  `json:"status_code"`
		LedgerProofs []json.RawMessage `json:"ledger_proofs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.StatusCode != model.StatusOK || len(resp.LedgerProofs) != 1 {
		t.Errorf("response = %s", w.Body.String())
	}

	// Re-creating the same asset is a contextual failure: HTTP 400 with the
	// contract's status code.
	w = e.execute(t, "n-2", `{"id":"doc","data":{"v":2}}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate create: status = %d, want 400", w.Code)
	}

	// An unregistered contract id is a 404.
	req := model.ContractExecutionRequest{
		Nonce:            "n-3",
		EntityID:         "alice",
		KeyVersion:       1,
		ContractID:       "missing",
		ContractArgument: `{}`,
	}
	req.Signature, _ = e.client.Sign(req.SignedBytes())
	w = e.do(t, http.MethodPost, "/api/v1/contracts/execute", req, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown contract: status = %d, want 404", w.Code)
	}

	// A broken signature is a 401.
	req.ContractID = "create"
	req.ContractArgument = `{"id":"other","data":{}}`
	req.Signature = []byte("forged")
	w = e.do(t, http.MethodPost, "/api/v1/contracts/execute", req, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("forged signature: status = %d, want 401", w.Code)
	}
}

func TestProofEndpoint(t *testing.T) {
	e := newEnv(t)
	e.registerAlice(t)
	if w := e.execute(t, "n-1", `{"id":"doc","data":{"v":1}}`); w.Code != http.StatusOK {
		t.Fatalf("execute: status = %d body %s", w.Code, w.Body.String())
	}

	retrieval := model.AssetProofRetrievalRequest{
		AssetID:    "doc",
		Age:        -1,
		EntityID:   "alice",
		KeyVersion: 1,
	}
	sig, err := e.client.Sign(retrieval.SignedBytes())
	if err != nil {
		t.Fatalf("sign retrieval: %v", err)
	}

	query := url.Values{}
	query.Set("entity_id", "alice")
	query.Set("key_version", "1")
	query.Set("signature", base64.StdEncoding.EncodeToString(sig))
	w := e.do(t, http.MethodGet, "/api/v1/assets/doc/proof?"+query.Encode(), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("proof: status = %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Proof struct {
			ID   string `json:"id"`
			Age  int    `json:"age"`
			Hash string `json:"hash"`
		} `json:"proof"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Proof.ID != "doc" || resp.Proof.Age != 0 || resp.Proof.Hash == "" {
		t.Errorf("proof = %+v", resp.Proof)
	}

	// Same signature, explicit age query, unknown age.
	query.Set("age", "9")
	w = e.do(t, http.MethodGet, "/api/v1/assets/doc/proof?"+query.Encode(), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown age: status = %d, want 404", w.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	e := newEnv(t)
	e.registerAlice(t)
	for i := 0; i < 2; i++ {
		arg := fmt.Sprintf(`{"id":"doc-%d","data":{"v":%d}}`, i, i)
		if w := e.execute(t, fmt.Sprintf("n-%d", i), arg); w.Code != http.StatusOK {
			t.Fatalf("execute %d: status = %d body %s", i, w.Code, w.Body.String())
		}
	}

	req := model.LedgerValidationRequest{
		AssetID:    "doc-0",
		StartAge:   0,
		EndAge:     10,
		EntityID:   "alice",
		KeyVersion: 1,
	}
	var err error
	if req.Signature, err = e.client.Sign(req.SignedBytes()); err != nil {
		t.Fatalf("sign validation: %v", err)
	}
	w := e.do(t, http.MethodPost, "/api/v1/ledgers/validate", req, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("validate: status = %d body %s", w.Code, w.Body.String())
	}
	var result model.LedgerValidationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Code != model.StatusOK {
		t.Errorf("validation code = %v (%s), want OK", result.Code, result.Detail)
	}

	// Unknown asset is a request error, not a finding.
	req.AssetID = "ghost"
	req.Signature, _ = e.client.Sign(req.SignedBytes())
	w = e.do(t, http.MethodPost, "/api/v1/ledgers/validate", req, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown asset: status = %d, want 404", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handler.RateLimiter(1, 2))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	got := make(map[int]int)
	var throttled *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		got[w.Code]++
		if w.Code == http.StatusTooManyRequests {
			throttled = w
		}
	}
	if got[http.StatusOK] != 2 || got[http.StatusTooManyRequests] != 3 {
		t.Errorf("status distribution = %v, want 2 OK and 3 throttled", got)
	}
	if throttled == nil || throttled.Header().Get("Retry-After") != "1" {
		t.Error("throttled response missing Retry-After header")
	}
}
