package contract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/store"
)

// Tables holding registered logic entries.
const (
	TableContract = "contract"
	TableFunction = "function"
)

var (
	// ErrContractNotFound is returned when no contract is registered under
	// (id, entityId, keyVersion). The same id may exist for another entity;
	// owners are isolated on purpose.
	ErrContractNotFound = errors.New("contract not found for entity")

	// ErrFunctionNotFound is the function-side counterpart.
	ErrFunctionNotFound = errors.New("function not found for entity")

	// ErrAlreadyRegistered is returned on re-registration; entries are
	// immutable.
	ErrAlreadyRegistered = errors.New("entry already registered")

	// ErrUnloadable is returned when an entry cannot be turned into a
	// callable instance by any loader.
	ErrUnloadable = errors.New("entry is not loadable")
)

// Registry stores and resolves contract and function entries. Instances are
// produced by the native loader (binary name to in-process constructor) or,
// for entries carrying WebAssembly byte-code, by the wasm pool.
type Registry struct {
	store  store.Store
	native *NativeLoader
	wasm   *WasmPool
	logger *zap.Logger
}

// NewRegistry creates a Registry. wasm may be nil to disable byte-code
// entries.
func NewRegistry(s store.Store, native *NativeLoader, wasm *WasmPool, logger *zap.Logger) *Registry {
	return &Registry{store: s, native: native, wasm: wasm, logger: logger}
}

func entrySort(id string, keyVersion int) string {
	return fmt.Sprintf("%s@%010d", id, keyVersion)
}

// RegisterContract stores a contract entry after checking it is loadable.
func (r *Registry) RegisterContract(ctx context.Context, entry *Entry) error {
	if _, err := r.ContractInstance(entry); err != nil {
		return err
	}
	return r.register(ctx, TableContract, entry)
}

// RegisterFunction stores a function entry after checking it is loadable.
func (r *Registry) RegisterFunction(ctx context.Context, entry *Entry) error {
	if _, err := r.FunctionInstance(entry); err != nil {
		return err
	}
	return r.register(ctx, TableFunction, entry)
}

func (r *Registry) register(ctx context.Context, table string, entry *Entry) error {
	if entry.ID == "" || entry.EntityID == "" || entry.KeyVersion <= 0 {
		return fmt.Errorf("id, entity id and positive key version are required")
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin registration: %w", err)
	}
	defer tx.Abort(ctx) //nolint:errcheck

	key := store.Key{Table: table, Partition: entry.EntityID, Sort: entrySort(entry.ID, entry.KeyVersion)}
	if _, err := tx.Get(ctx, key); err == nil {
		return fmt.Errorf("%w: %s for %s v%d", ErrAlreadyRegistered, entry.ID, entry.EntityID, entry.KeyVersion)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("check existing entry: %w", err)
	}

	values := map[string]any{
		"binary_name": entry.BinaryName,
		"bytecode":    base64.StdEncoding.EncodeToString(entry.Bytecode),
		"properties":  string(entry.Properties),
	}
	if err := tx.Put(ctx, key, values); err != nil {
		return fmt.Errorf("store entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit entry: %w", err)
	}

	r.logger.Info("logic registered",
		zap.String("table", table),
		zap.String("id", entry.ID),
		zap.String("binary_name", entry.BinaryName),
		zap.String("entity_id", entry.EntityID),
		zap.Int("key_version", entry.KeyVersion),
	)
	return nil
}

// GetContract resolves the contract entry for (id, entityId, keyVersion).
func (r *Registry) GetContract(ctx context.Context, id, entityID string, keyVersion int) (*Entry, error) {
	entry, err := r.get(ctx, TableContract, id, entityID, keyVersion)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s for %s v%d", ErrContractNotFound, id, entityID, keyVersion)
	}
	return entry, err
}

// GetFunction resolves the function entry for (id, entityId, keyVersion).
func (r *Registry) GetFunction(ctx context.Context, id, entityID string, keyVersion int) (*Entry, error) {
	entry, err := r.get(ctx, TableFunction, id, entityID, keyVersion)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s for %s v%d", ErrFunctionNotFound, id, entityID, keyVersion)
	}
	return entry, err
}

func (r *Registry) get(ctx context.Context, table, id, entityID string, keyVersion int) (*Entry, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin lookup: %w", err)
	}
	defer tx.Abort(ctx) //nolint:errcheck

	record, err := tx.Get(ctx, store.Key{Table: table, Partition: entityID, Sort: entrySort(id, keyVersion)})
	if err != nil {
		return nil, err
	}

	binaryName, _ := record.Values["binary_name"].(string)
	encoded, _ := record.Values["bytecode"].(string)
	bytecode, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode stored bytecode: %w", err)
	}
	properties, _ := record.Values["properties"].(string)

	entry := &Entry{
		ID:         id,
		BinaryName: binaryName,
		EntityID:   entityID,
		KeyVersion: keyVersion,
	}
	if len(bytecode) > 0 {
		entry.Bytecode = bytecode
	}
	if properties != "" {
		entry.Properties = []byte(properties)
	}
	return entry, nil
}

// ContractInstance turns an entry into callable contract logic. Entries
// carrying WebAssembly byte-code load through the wasm pool; all others
// resolve their binary name against the native loader.
func (r *Registry) ContractInstance(entry *Entry) (Contract, error) {
	if isWasm(entry.Bytecode) {
		if r.wasm == nil {
			return nil, fmt.Errorf("%w: byte-code entries are disabled", ErrUnloadable)
		}
		return r.wasm.Contract(entry.Bytecode)
	}
	return r.native.Contract(entry.BinaryName)
}

// FunctionInstance turns an entry into callable function logic. Functions
// are native-only; their database side effects have no wasm host interface.
func (r *Registry) FunctionInstance(entry *Entry) (Function, error) {
	if isWasm(entry.Bytecode) {
		return nil, fmt.Errorf("%w: functions do not support byte-code", ErrUnloadable)
	}
	return r.native.Function(entry.BinaryName)
}

// isWasm reports whether b starts with the WebAssembly magic number.
func isWasm(b []byte) bool {
	return len(b) >= 4 && b[0] == 0x00 && b[1] == 0x61 && b[2] == 0x73 && b[3] == 0x6d
}
