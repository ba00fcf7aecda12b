package store

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNamespaceNotFound is returned by Resolve for an unregistered namespace.
var ErrNamespaceNotFound = errors.New("namespace not found")

// DefaultAssetTable is the physical table backing the default (empty)
// namespace.
const DefaultAssetTable = "asset"

// Namespaces maps logical namespace names to the physical asset table the
// store addresses them under. The empty namespace is always registered and
// resolves to DefaultAssetTable.
type Namespaces struct {
	mu     sync.RWMutex
	tables map[string]string
}

// NewNamespaces creates a Namespaces registry with the default namespace.
func NewNamespaces() *Namespaces {
	return &Namespaces{tables: map[string]string{"": DefaultAssetTable}}
}

// Register maps a logical namespace to its own asset table.
// Registering an already-known namespace is a no-op.
func (n *Namespaces) Register(namespace string) {
	if namespace == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.tables[namespace]; !ok {
		n.tables[namespace] = fmt.Sprintf("%s_%s", DefaultAssetTable, namespace)
	}
}

// Resolve returns the physical asset table for a logical namespace.
func (n *Namespaces) Resolve(namespace string) (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	table, ok := n.tables[namespace]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNamespaceNotFound, namespace)
	}
	return table, nil
}
