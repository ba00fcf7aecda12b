package contract_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/contract"
	"github.com/scalar-labs/scalardl-sub000/internal/contract/generic"
	"github.com/scalar-labs/scalardl-sub000/internal/store"
)

var ctx = context.Background()

func newRegistry(t *testing.T) *contract.Registry {
	t.Helper()
	native := contract.NewNativeLoader()
	generic.Bind(native)
	return contract.NewRegistry(store.NewMemory(), native, nil, zap.NewNop())
}

func TestRegisterContract_scopedToOwner(t *testing.T) {
	reg := newRegistry(t)

	err := reg.RegisterContract(ctx, &contract.Entry{
		ID:         "create",
		BinaryName: generic.BinaryCreateObject,
		EntityID:   "entity-x",
		KeyVersion: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := reg.GetContract(ctx, "create", "entity-x", 1); err != nil {
		t.Errorf("owner lookup failed: %v", err)
	}

	// Same contract id, different entity: isolated on purpose.
	if _, err := reg.GetContract(ctx, "create", "entity-y", 1); !errors.Is(err, contract.ErrContractNotFound) {
		t.Errorf("expected ErrContractNotFound for other entity, got %v", err)
	}
	if _, err := reg.GetContract(ctx, "create", "entity-x", 2); !errors.Is(err, contract.ErrContractNotFound) {
		t.Errorf("expected ErrContractNotFound for other key version, got %v", err)
	}
}

func TestRegisterContract_immutable(t *testing.T) {
	reg := newRegistry(t)
	entry := &contract.Entry{
		ID:         "create",
		BinaryName: generic.BinaryCreateObject,
		EntityID:   "entity-x",
		KeyVersion: 1,
	}
	if err := reg.RegisterContract(ctx, entry); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterContract(ctx, entry); !errors.Is(err, contract.ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterContract_rejectsUnloadable(t *testing.T) {
	reg := newRegistry(t)
	err := reg.RegisterContract(ctx, &contract.Entry{
		ID:         "mystery",
		BinaryName: "com.example.NotBound",
		EntityID:   "entity-x",
		KeyVersion: 1,
	})
	if !errors.Is(err, contract.ErrUnloadable) {
		t.Errorf("expected ErrUnloadable, got %v", err)
	}
}

func TestRegisterContract_propertiesRoundTrip(t *testing.T) {
	reg := newRegistry(t)
	err := reg.RegisterContract(ctx, &contract.Entry{
		ID:         "payment",
		BinaryName: generic.BinaryPayment,
		Properties: []byte(`{"max_amount":500}`),
		EntityID:   "entity-x",
		KeyVersion: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	entry, err := reg.GetContract(ctx, "payment", "entity-x", 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Properties) != `{"max_amount":500}` {
		t.Errorf("properties: got %s", entry.Properties)
	}
}

func TestRegisterFunction_bytecodeRejected(t *testing.T) {
	reg := newRegistry(t)
	err := reg.RegisterFunction(ctx, &contract.Entry{
		ID:         "indexer",
		BinaryName: "whatever",
		Bytecode:   []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		EntityID:   "entity-x",
		KeyVersion: 1,
	})
	if !errors.Is(err, contract.ErrUnloadable) {
		t.Errorf("expected ErrUnloadable for wasm function, got %v", err)
	}
}
