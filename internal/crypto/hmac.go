package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HmacSigner signs and validates with a shared HMAC-SHA256 secret.
// The same value serves as both Signer and Validator; whoever holds the
// secret can do either, which is the nature of the symmetric mode.
type HmacSigner struct {
	secret []byte
}

// NewHmacSigner wraps a shared secret.
func NewHmacSigner(secret []byte) *HmacSigner {
	return &HmacSigner{secret: secret}
}

// Sign implements Signer.
func (s *HmacSigner) Sign(data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Validate implements Validator.
func (s *HmacSigner) Validate(data, signature []byte) error {
	expected, _ := s.Sign(data)
	if !hmac.Equal(expected, signature) {
		return ErrSignatureMismatch
	}
	return nil
}
