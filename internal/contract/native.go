package contract

import (
	"fmt"
	"sync"
)

// NativeLoader resolves binary names to in-process Go constructors.
// Deployments register their contract and function implementations at
// startup; registered entries whose binary name resolves here need no
// byte-code.
type NativeLoader struct {
	mu        sync.RWMutex
	contracts map[string]func() Contract
	functions map[string]func() Function
}

// NewNativeLoader creates an empty NativeLoader.
func NewNativeLoader() *NativeLoader {
	return &NativeLoader{
		contracts: make(map[string]func() Contract),
		functions: make(map[string]func() Function),
	}
}

// BindContract makes binaryName resolvable to instances built by factory.
func (l *NativeLoader) BindContract(binaryName string, factory func() Contract) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contracts[binaryName] = factory
}

// BindFunction makes binaryName resolvable to instances built by factory.
func (l *NativeLoader) BindFunction(binaryName string, factory func() Function) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.functions[binaryName] = factory
}

// Contract builds a fresh instance for binaryName.
func (l *NativeLoader) Contract(binaryName string) (Contract, error) {
	l.mu.RLock()
	factory, ok := l.contracts[binaryName]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no native contract %q", ErrUnloadable, binaryName)
	}
	return factory(), nil
}

// Function builds a fresh instance for binaryName.
func (l *NativeLoader) Function(binaryName string) (Function, error) {
	l.mu.RLock()
	factory, ok := l.functions[binaryName]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no native function %q", ErrUnloadable, binaryName)
	}
	return factory(), nil
}
