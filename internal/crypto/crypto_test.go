package crypto_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/crypto"
	"github.com/scalar-labs/scalardl-sub000/internal/store"
)

var ctx = context.Background()

func TestEcdsa_signValidateRoundTrip(t *testing.T) {
	signer, err := crypto.GenerateEcdsaSigner()
	if err != nil {
		t.Fatal(err)
	}
	pubPEM, err := signer.PublicKeyPEM()
	if err != nil {
		t.Fatal(err)
	}
	validator, err := crypto.NewEcdsaValidator(pubPEM)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("create-object{\"id\":\"a1\"}entity-x")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := validator.Validate(data, sig); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
}

func TestEcdsa_mutationDetected(t *testing.T) {
	signer, _ := crypto.GenerateEcdsaSigner()
	pubPEM, _ := signer.PublicKeyPEM()
	validator, _ := crypto.NewEcdsaValidator(pubPEM)

	data := []byte("payload under signature")
	sig, _ := signer.Sign(data)

	mutated := append([]byte(nil), data...)
	mutated[0] ^= 0x01
	if err := validator.Validate(mutated, sig); !errors.Is(err, crypto.ErrSignatureMismatch) {
		t.Errorf("mutated data: expected ErrSignatureMismatch, got %v", err)
	}

	badSig := append([]byte(nil), sig...)
	badSig[len(badSig)-1] ^= 0x01
	if err := validator.Validate(data, badSig); !errors.Is(err, crypto.ErrSignatureMismatch) {
		t.Errorf("mutated signature: expected ErrSignatureMismatch, got %v", err)
	}
}

func TestEcdsa_roundTripThroughPEM(t *testing.T) {
	signer, _ := crypto.GenerateEcdsaSigner()
	keyPEM, err := signer.PrivateKeyPEM()
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := crypto.NewEcdsaSignerFromPEM(keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := reloaded.Sign([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}

	pubPEM, _ := signer.PublicKeyPEM()
	validator, _ := crypto.NewEcdsaValidator(pubPEM)
	if err := validator.Validate([]byte("x"), sig); err != nil {
		t.Errorf("reloaded key signature rejected: %v", err)
	}
}

func TestHmac_signValidateRoundTrip(t *testing.T) {
	signer := crypto.NewHmacSigner([]byte("shared-secret"))

	data := []byte("symmetric mode payload")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := signer.Validate(data, sig); err != nil {
		t.Errorf("valid mac rejected: %v", err)
	}
	if err := signer.Validate(append(data, 'x'), sig); !errors.Is(err, crypto.ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch, got %v", err)
	}

	other := crypto.NewHmacSigner([]byte("different-secret"))
	if err := other.Validate(data, sig); !errors.Is(err, crypto.ErrSignatureMismatch) {
		t.Errorf("wrong secret: expected ErrSignatureMismatch, got %v", err)
	}
}

func TestRegistry_resolvesByEntityAndVersion(t *testing.T) {
	reg := crypto.NewRegistry(store.NewMemory(), zap.NewNop())

	signer, _ := crypto.GenerateEcdsaSigner()
	pubPEM, _ := signer.PublicKeyPEM()
	if err := reg.RegisterCertificate(ctx, "entity-x", 1, pubPEM); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterSecret(ctx, "entity-y", 1, []byte("secret")); err != nil {
		t.Fatal(err)
	}

	v, err := reg.Validator(ctx, "entity-x", 1)
	if err != nil {
		t.Fatal(err)
	}
	sig, _ := signer.Sign([]byte("data"))
	if err := v.Validate([]byte("data"), sig); err != nil {
		t.Errorf("certificate validator: %v", err)
	}

	v, err = reg.Validator(ctx, "entity-y", 1)
	if err != nil {
		t.Fatal(err)
	}
	mac, _ := crypto.NewHmacSigner([]byte("secret")).Sign([]byte("data"))
	if err := v.Validate([]byte("data"), mac); err != nil {
		t.Errorf("secret validator: %v", err)
	}
}

func TestRegistry_unknownKeyVersionFailsClosed(t *testing.T) {
	reg := crypto.NewRegistry(store.NewMemory(), zap.NewNop())

	signer, _ := crypto.GenerateEcdsaSigner()
	pubPEM, _ := signer.PublicKeyPEM()
	if err := reg.RegisterCertificate(ctx, "entity-x", 1, pubPEM); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Validator(ctx, "entity-x", 2); !errors.Is(err, crypto.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	if _, err := reg.Validator(ctx, "entity-z", 1); !errors.Is(err, crypto.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestRegistry_entriesAreImmutable(t *testing.T) {
	reg := crypto.NewRegistry(store.NewMemory(), zap.NewNop())

	signer, _ := crypto.GenerateEcdsaSigner()
	pubPEM, _ := signer.PublicKeyPEM()
	if err := reg.RegisterCertificate(ctx, "entity-x", 1, pubPEM); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterCertificate(ctx, "entity-x", 1, pubPEM); !errors.Is(err, crypto.ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}

	// A new key version is a fresh entry, not a mutation.
	if err := reg.RegisterCertificate(ctx, "entity-x", 2, pubPEM); err != nil {
		t.Errorf("key rotation rejected: %v", err)
	}
}

func TestKeyManager_loadOrCreate(t *testing.T) {
	dir := t.TempDir()

	m := crypto.NewKeyManager(dir, "ledger")
	if err := m.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	sig, err := m.Signer().Sign([]byte("boot"))
	if err != nil {
		t.Fatal(err)
	}

	// A second manager over the same dir must load the same key.
	m2 := crypto.NewKeyManager(dir, "ledger")
	if err := m2.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	pubPEM, _ := m2.Signer().PublicKeyPEM()
	validator, _ := crypto.NewEcdsaValidator(pubPEM)
	if err := validator.Validate([]byte("boot"), sig); err != nil {
		t.Errorf("reloaded key differs from created key: %v", err)
	}
}
