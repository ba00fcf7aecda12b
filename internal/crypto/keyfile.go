package crypto

import (
	"fmt"
	"os"
	"path/filepath"
)

// KeyManager manages an on-disk ECDSA signing key, such as the ledger
// operator's or the auditor's. It creates and persists the key on first run,
// then reloads it on subsequent starts.
type KeyManager struct {
	dir    string
	name   string
	signer *EcdsaSigner
}

// NewKeyManager returns a KeyManager that stores <name>.key under dir.
func NewKeyManager(dir, name string) *KeyManager {
	return &KeyManager{dir: dir, name: name}
}

// LoadOrCreate loads the key from disk if it exists; creates one otherwise.
func (m *KeyManager) LoadOrCreate() error {
	if err := m.Load(); err == nil {
		return nil
	}
	return m.Create()
}

// Load reads an existing key from the configured directory.
func (m *KeyManager) Load() error {
	keyPEM, err := os.ReadFile(m.keyPath())
	if err != nil {
		return fmt.Errorf("read signing key: %w", err)
	}
	signer, err := NewEcdsaSignerFromPEM(keyPEM)
	if err != nil {
		return err
	}
	m.signer = signer
	return nil
}

// Create generates a new P-256 key, saves it to disk, and activates it.
func (m *KeyManager) Create() error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("create key dir %q: %w", m.dir, err)
	}

	signer, err := GenerateEcdsaSigner()
	if err != nil {
		return err
	}
	keyPEM, err := signer.PrivateKeyPEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.keyPath(), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}

	m.signer = signer
	return nil
}

// Signer returns the loaded signing key.
func (m *KeyManager) Signer() *EcdsaSigner {
	return m.signer
}

func (m *KeyManager) keyPath() string {
	return filepath.Join(m.dir, m.name+".key")
}
