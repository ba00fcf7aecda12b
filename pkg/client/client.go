// Package client provides the Go SDK for the ledger service: it builds the
// canonical signing bytes of each request kind, signs them with the holder's
// key, and talks to the HTTP API.
//
// The byte projections here deliberately mirror the service's own; both
// sides recompute them independently, so a client built from this package
// interoperates with any conforming ledger.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Signer signs canonical request bytes with the holder's registered key.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// ecdsaSigner signs with a P-256 private key, matching a registered
// certificate.
type ecdsaSigner struct {
	key *ecdsa.PrivateKey
}

func (s *ecdsaSigner) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return sig, nil
}

// NewECDSASigner parses a PEM private key (SEC1 or PKCS#8).
func NewECDSASigner(keyPEM []byte) (Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return &ecdsaSigner{key: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, want *ecdsa.PrivateKey", parsed)
	}
	return &ecdsaSigner{key: key}, nil
}

// hmacSigner signs with a shared secret, matching a registered secret.
type hmacSigner struct {
	secret []byte
}

func (s *hmacSigner) Sign(data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// NewHMACSigner wraps a shared secret as a Signer.
func NewHMACSigner(secret []byte) Signer {
	return &hmacSigner{secret: secret}
}

// Proof is one signed, hash-linked asset version as returned by the
// service.
type Proof struct {
	Namespace        string `json:"namespace,omitempty"`
	ID               string `json:"id"`
	Age              int    `json:"age"`
	Nonce            string `json:"nonce"`
	Input            string `json:"input"`
	Output           string `json:"output"`
	ContractID       string `json:"contract_id"`
	Argument         string `json:"argument"`
	EntityID         string `json:"entity_id"`
	KeyVersion       int    `json:"key_version"`
	RequestSignature []byte `json:"request_signature"`
	PrevHash         string `json:"prev_hash"`
	Hash             string `json:"hash"`
	Signature        []byte `json:"signature"`
	AuditorSignature []byte `json:"auditor_signature,omitempty"`
}

// ExecutionResult is the outcome of a successful contract execution.
type ExecutionResult struct {
	ContractResult string  `json:"contract_result"`
	FunctionResult string  `json:"function_result"`
	LedgerProofs   []Proof `json:"ledger_proofs"`
	AuditorProofs  []Proof `json:"auditor_proofs,omitempty"`
}

// ValidationResult is the outcome of a ledger validation. A non-OK
// StatusCode is a finding about the chain, not a request failure.
type ValidationResult struct {
	StatusCode   string `json:"status_code"`
	Detail       string `json:"detail,omitempty"`
	LedgerProof  *Proof `json:"ledger_proof,omitempty"`
	AuditorProof *Proof `json:"auditor_proof,omitempty"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	HTTPStatus int
	StatusCode string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger: %s (%s, HTTP %d)", e.Message, e.StatusCode, e.HTTPStatus)
}

// Client is the ledger SDK entry point, bound to one entity identity.
type Client struct {
	baseURL    string
	httpClient *http.Client

	entityID   string
	keyVersion int
	signer     Signer

	adminToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithECDSAKeyPEM sets the entity's PEM-encoded P-256 private key.
func WithECDSAKeyPEM(keyPEM []byte) Option {
	return func(c *Client) error {
		signer, err := NewECDSASigner(keyPEM)
		if err != nil {
			return err
		}
		c.signer = signer
		return nil
	}
}

// WithHMACSecret sets the entity's shared secret.
func WithHMACSecret(secret []byte) Option {
	return func(c *Client) error {
		c.signer = NewHMACSigner(secret)
		return nil
	}
}

// WithSigner sets an externally managed Signer (an HSM wrapper, say).
func WithSigner(s Signer) Option {
	return func(c *Client) error {
		c.signer = s
		return nil
	}
}

// WithAdminToken attaches the operator bearer token required by the key
// registration endpoints.
func WithAdminToken(token string) Option {
	return func(c *Client) error {
		c.adminToken = token
		return nil
	}
}

// New creates a Client for entityID at the given key version.
//
//	c, err := client.New("http://localhost:8080", "alice", 1,
//	    client.WithECDSAKeyPEM(keyPEM),
//	)
func New(baseURL, entityID string, keyVersion int, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		entityID:   entityID,
		keyVersion: keyVersion,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RegisterCertificate registers the entity's PEM certificate (or bare
// public key). Requires WithAdminToken.
func (c *Client) RegisterCertificate(ctx context.Context, certPEM string) error {
	body := map[string]any{
		"entity_id":       c.entityID,
		"key_version":     c.keyVersion,
		"certificate_pem": certPEM,
	}
	return c.post(ctx, "/api/v1/certificates", body, nil)
}

// RegisterSecret registers the entity's HMAC secret. Requires
// WithAdminToken.
func (c *Client) RegisterSecret(ctx context.Context, secret []byte) error {
	body := map[string]any{
		"entity_id":   c.entityID,
		"key_version": c.keyVersion,
		"secret":      secret,
	}
	return c.post(ctx, "/api/v1/secrets", body, nil)
}

// RegisterContract registers contract logic under this entity. bytecode may
// be nil for entries resolved by binary name on the service side.
func (c *Client) RegisterContract(ctx context.Context, id, binaryName string, bytecode []byte, properties json.RawMessage) error {
	if c.signer == nil {
		return fmt.Errorf("client has no signing key")
	}

	var buf bytes.Buffer
	writeChunk(&buf, []byte(id))
	writeChunk(&buf, []byte(binaryName))
	writeChunk(&buf, bytecode)
	writeChunk(&buf, properties)
	writeChunk(&buf, []byte(c.entityID))
	writeUint32(&buf, uint32(c.keyVersion))
	signature, err := c.signer.Sign(buf.Bytes())
	if err != nil {
		return fmt.Errorf("sign registration: %w", err)
	}

	body := map[string]any{
		"contract_id":          id,
		"contract_binary_name": binaryName,
		"contract_bytecode":    bytecode,
		"properties":           properties,
		"entity_id":            c.entityID,
		"key_version":          c.keyVersion,
		"signature":            signature,
	}
	return c.post(ctx, "/api/v1/contracts", body, nil)
}

// RegisterFunction registers function logic under this entity.
func (c *Client) RegisterFunction(ctx context.Context, id, binaryName string, bytecode []byte) error {
	if c.signer == nil {
		return fmt.Errorf("client has no signing key")
	}

	var buf bytes.Buffer
	writeChunk(&buf, []byte(id))
	writeChunk(&buf, []byte(binaryName))
	writeChunk(&buf, bytecode)
	writeChunk(&buf, []byte(c.entityID))
	writeUint32(&buf, uint32(c.keyVersion))
	signature, err := c.signer.Sign(buf.Bytes())
	if err != nil {
		return fmt.Errorf("sign registration: %w", err)
	}

	body := map[string]any{
		"function_id":          id,
		"function_binary_name": binaryName,
		"function_bytecode":    bytecode,
		"entity_id":            c.entityID,
		"key_version":          c.keyVersion,
		"signature":            signature,
	}
	return c.post(ctx, "/api/v1/functions", body, nil)
}

// ExecuteOption customises one Execute call.
type ExecuteOption func(*executeCall)

type executeCall struct {
	nonce            string
	functionIDs      []string
	functionArgument string
}

// WithNonce overrides the generated request nonce. Nonces must be unique
// per request; a replayed nonce is a detectable chain defect.
func WithNonce(nonce string) ExecuteOption {
	return func(e *executeCall) { e.nonce = nonce }
}

// WithFunctions runs the given registered functions after the contract,
// feeding them functionArgument.
func WithFunctions(functionIDs []string, functionArgument string) ExecuteOption {
	return func(e *executeCall) {
		e.functionIDs = functionIDs
		e.functionArgument = functionArgument
	}
}

// Execute runs a registered contract with a freshly generated nonce.
func (c *Client) Execute(ctx context.Context, contractID, argument string, opts ...ExecuteOption) (*ExecutionResult, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("client has no signing key")
	}

	call := &executeCall{nonce: uuid.New().String()}
	for _, o := range opts {
		o(call)
	}

	// The signature covers the contract call and identity; the nonce and
	// function selection ride alongside.
	var buf bytes.Buffer
	writeChunk(&buf, []byte(contractID))
	writeChunk(&buf, []byte(argument))
	writeChunk(&buf, []byte(c.entityID))
	writeUint32(&buf, uint32(c.keyVersion))
	signature, err := c.signer.Sign(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign execution: %w", err)
	}

	body := map[string]any{
		"nonce":             call.nonce,
		"entity_id":         c.entityID,
		"key_version":       c.keyVersion,
		"contract_id":       contractID,
		"contract_argument": argument,
		"signature":         signature,
	}
	if len(call.functionIDs) > 0 {
		body["function_ids"] = call.functionIDs
		body["function_argument"] = call.functionArgument
	}

	var result ExecutionResult
	if err := c.post(ctx, "/api/v1/contracts/execute", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Validate asks the service to re-walk an asset's proof chain over the
// inclusive age range. The result's StatusCode reports what, if anything,
// is broken.
func (c *Client) Validate(ctx context.Context, namespace, assetID string, startAge, endAge int) (*ValidationResult, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("client has no signing key")
	}

	var buf bytes.Buffer
	writeChunk(&buf, []byte(namespace))
	writeChunk(&buf, []byte(assetID))
	writeUint32(&buf, uint32(startAge))
	writeUint32(&buf, uint32(endAge))
	writeChunk(&buf, []byte(c.entityID))
	writeUint32(&buf, uint32(c.keyVersion))
	signature, err := c.signer.Sign(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign validation: %w", err)
	}

	body := map[string]any{
		"namespace":   namespace,
		"asset_id":    assetID,
		"start_age":   startAge,
		"end_age":     endAge,
		"entity_id":   c.entityID,
		"key_version": c.keyVersion,
		"signature":   signature,
	}

	var result ValidationResult
	if err := c.post(ctx, "/api/v1/ledgers/validate", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Proof fetches the stored proof of one asset version. A negative age means
// the latest. One signature authorises retrieval at any age of the asset.
func (c *Client) Proof(ctx context.Context, namespace, assetID string, age int) (*Proof, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("client has no signing key")
	}

	var buf bytes.Buffer
	writeChunk(&buf, []byte(namespace))
	writeChunk(&buf, []byte(assetID))
	writeChunk(&buf, []byte(c.entityID))
	writeUint32(&buf, uint32(c.keyVersion))
	signature, err := c.signer.Sign(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign retrieval: %w", err)
	}

	query := url.Values{}
	if namespace != "" {
		query.Set("namespace", namespace)
	}
	query.Set("age", strconv.Itoa(age))
	query.Set("entity_id", c.entityID)
	query.Set("key_version", strconv.Itoa(c.keyVersion))
	query.Set("signature", base64.StdEncoding.EncodeToString(signature))

	endpoint := fmt.Sprintf("%s/api/v1/assets/%s/proof?%s",
		c.baseURL, url.PathEscape(assetID), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var wrapper struct {
		Proof Proof `json:"proof"`
	}
	if err := c.do(req, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Proof, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, StatusCode: "UNKNOWN_ERROR"}
		var parsed struct {
			StatusCode string `json:"status_code"`
			Error      string `json:"error"`
		}
		if json.Unmarshal(body, &parsed) == nil && parsed.StatusCode != "" {
			apiErr.StatusCode = parsed.StatusCode
			apiErr.Message = parsed.Error
		} else {
			apiErr.Message = string(body)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// writeChunk frames a variable-length field with its byte length, matching
// the service's canonical projection byte for byte.
func writeChunk(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}
