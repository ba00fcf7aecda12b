package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// EcdsaSigner signs with an ECDSA P-256 private key over a SHA-256 digest,
// producing ASN.1 DER signatures.
type EcdsaSigner struct {
	key *ecdsa.PrivateKey
}

// NewEcdsaSigner wraps an existing private key.
func NewEcdsaSigner(key *ecdsa.PrivateKey) *EcdsaSigner {
	return &EcdsaSigner{key: key}
}

// NewEcdsaSignerFromPEM parses a PEM-encoded EC private key (SEC 1 or PKCS#8).
func NewEcdsaSignerFromPEM(keyPEM []byte) (*EcdsaSigner, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return &EcdsaSigner{key: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want *ecdsa.PrivateKey", parsed)
	}
	return &EcdsaSigner{key: key}, nil
}

// GenerateEcdsaSigner creates a signer with a fresh P-256 key.
func GenerateEcdsaSigner() (*EcdsaSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	return &EcdsaSigner{key: key}, nil
}

// Sign implements Signer.
func (s *EcdsaSigner) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return sig, nil
}

// PublicKeyPEM returns the signer's public key as a PKIX PEM block, suitable
// for registration as the validating side.
func (s *EcdsaSigner) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// PrivateKeyPEM returns the signer's private key as a SEC 1 PEM block.
func (s *EcdsaSigner) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(s.key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// EcdsaValidator validates ASN.1 ECDSA signatures against a public key taken
// from an x509 certificate or a bare PKIX public key block.
type EcdsaValidator struct {
	pub *ecdsa.PublicKey
}

// NewEcdsaValidator parses a PEM block holding either a CERTIFICATE or a
// PUBLIC KEY and returns a validator over the contained ECDSA key.
func NewEcdsaValidator(certPEM []byte) (*EcdsaValidator, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in certificate")
	}

	var parsed any
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		parsed = cert.PublicKey
	default:
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		parsed = pub
	}

	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want *ecdsa.PublicKey", parsed)
	}
	return &EcdsaValidator{pub: pub}, nil
}

// Validate implements Validator.
func (v *EcdsaValidator) Validate(data, signature []byte) error {
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(v.pub, digest[:], signature) {
		return ErrSignatureMismatch
	}
	return nil
}
