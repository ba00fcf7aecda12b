package crypto

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/store"
)

// Tables holding registered key material.
const (
	TableCertificate = "certificate"
	TableSecret      = "secret"
)

// Registry resolves (entityId, keyVersion) pairs to registered certificates
// or HMAC secrets. Entries are immutable once registered; multiple key
// versions may coexist for rotation.
type Registry struct {
	store  store.Store
	logger *zap.Logger
}

// NewRegistry creates a key Registry over the given store.
func NewRegistry(s store.Store, logger *zap.Logger) *Registry {
	return &Registry{store: s, logger: logger}
}

func keyVersionSort(keyVersion int) string {
	return fmt.Sprintf("%010d", keyVersion)
}

// RegisterCertificate stores a PEM certificate (or bare public key) for an
// entity and key version. Fails with ErrAlreadyRegistered on re-registration.
func (r *Registry) RegisterCertificate(ctx context.Context, entityID string, keyVersion int, certPEM []byte) error {
	// Parse up front so a malformed certificate never lands in the store.
	if _, err := NewEcdsaValidator(certPEM); err != nil {
		return fmt.Errorf("invalid certificate: %w", err)
	}
	return r.register(ctx, TableCertificate, entityID, keyVersion, map[string]any{
		"pem":           string(certPEM),
		"registered_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// RegisterSecret stores an HMAC secret for an entity and key version.
func (r *Registry) RegisterSecret(ctx context.Context, entityID string, keyVersion int, secret []byte) error {
	if len(secret) == 0 {
		return fmt.Errorf("empty secret")
	}
	return r.register(ctx, TableSecret, entityID, keyVersion, map[string]any{
		"secret":        base64.StdEncoding.EncodeToString(secret),
		"registered_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Registry) register(ctx context.Context, table, entityID string, keyVersion int, values map[string]any) error {
	if entityID == "" || keyVersion <= 0 {
		return fmt.Errorf("entity id and positive key version are required")
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin registration: %w", err)
	}
	defer tx.Abort(ctx) //nolint:errcheck

	key := store.Key{Table: table, Partition: entityID, Sort: keyVersionSort(keyVersion)}
	if _, err := tx.Get(ctx, key); err == nil {
		return fmt.Errorf("%w: %s v%d", ErrAlreadyRegistered, entityID, keyVersion)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("check existing key: %w", err)
	}

	if err := tx.Put(ctx, key, values); err != nil {
		return fmt.Errorf("store key entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit key entry: %w", err)
	}

	r.logger.Info("key registered",
		zap.String("table", table),
		zap.String("entity_id", entityID),
		zap.Int("key_version", keyVersion),
	)
	return nil
}

// Validator resolves the registered validating side for an entity and key
// version: an EcdsaValidator when a certificate is registered, an HmacSigner
// when a secret is. An unknown pair fails closed with ErrKeyNotFound.
func (r *Registry) Validator(ctx context.Context, entityID string, keyVersion int) (Validator, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin key lookup: %w", err)
	}
	defer tx.Abort(ctx) //nolint:errcheck

	sort := keyVersionSort(keyVersion)

	record, err := tx.Get(ctx, store.Key{Table: TableCertificate, Partition: entityID, Sort: sort})
	if err == nil {
		pem, _ := record.Values["pem"].(string)
		return NewEcdsaValidator([]byte(pem))
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("look up certificate: %w", err)
	}

	record, err = tx.Get(ctx, store.Key{Table: TableSecret, Partition: entityID, Sort: sort})
	if err == nil {
		encoded, _ := record.Values["secret"].(string)
		secret, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil {
			return nil, fmt.Errorf("decode stored secret: %w", decodeErr)
		}
		return NewHmacSigner(secret), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("look up secret: %w", err)
	}

	return nil, fmt.Errorf("%w: %s v%d", ErrKeyNotFound, entityID, keyVersion)
}
