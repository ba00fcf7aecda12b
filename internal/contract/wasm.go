package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"

	"github.com/scalar-labs/scalardl-sub000/internal/ledger"
)

// WasmPool compiles and caches uploaded contract byte-code. Modules are
// compiled once, keyed by their blake3 digest, and instantiated per
// invocation.
//
// Guest ABI: the module exports a linear memory and an `invoke` function
// returning an i32 status (0 = success, anything else = contextual
// rejection). The host "env" module provides:
//
//	input_len() -> u32            length of the argument
//	read_input(ptr)               copy the argument into guest memory
//	write_output(ptr, len)        set the contract result
//	ledger_get(idPtr, idLen) -> i32
//	                              read an asset's current version; returns
//	                              the payload length, -1 if absent, -2 on error
//	read_scratch(ptr)             copy the last ledger_get payload
//	ledger_put(idPtr, idLen, dataPtr, dataLen)
//	                              stage a new asset version
type WasmPool struct {
	runtime wazero.Runtime
	mu      sync.Mutex
	modules map[[32]byte]wazero.CompiledModule
}

// NewWasmPool creates a WasmPool with its own wazero runtime.
func NewWasmPool(ctx context.Context) *WasmPool {
	return &WasmPool{
		runtime: wazero.NewRuntime(ctx),
		modules: make(map[[32]byte]wazero.CompiledModule),
	}
}

// Close releases all compiled modules and the runtime.
func (p *WasmPool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, compiled := range p.modules {
		_ = compiled.Close(ctx)
		delete(p.modules, id)
	}
	return p.runtime.Close(ctx)
}

// Contract compiles (or reuses) the byte-code and wraps it as a Contract.
func (p *WasmPool) Contract(bytecode []byte) (Contract, error) {
	id := blake3.Sum256(bytecode)

	p.mu.Lock()
	defer p.mu.Unlock()
	compiled, ok := p.modules[id]
	if !ok {
		var err error
		compiled, err = p.runtime.CompileModule(context.Background(), bytecode)
		if err != nil {
			return nil, fmt.Errorf("%w: compile wasm module: %v", ErrUnloadable, err)
		}
		p.modules[id] = compiled
	}
	return &wasmContract{pool: p, compiled: compiled}, nil
}

type wasmContract struct {
	pool     *WasmPool
	compiled wazero.CompiledModule
}

// wasmCall holds the state of one guest invocation.
type wasmCall struct {
	env     Env
	memory  api.Memory
	input   []byte
	output  []byte
	scratch []byte
	err     error
}

// Invoke implements Contract. Instantiations are serialised because the
// host module is registered under a fixed name within the shared runtime.
func (c *wasmContract) Invoke(ctx context.Context, env Env, argument string) (string, error) {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	call := &wasmCall{env: env, input: []byte(argument)}

	host, err := c.buildHostModule(ctx, call)
	if err != nil {
		return "", fmt.Errorf("build host module: %w", err)
	}
	defer host.Close(ctx)

	instance, err := c.pool.runtime.InstantiateModule(ctx, c.compiled, wazero.NewModuleConfig())
	if err != nil {
		return "", fmt.Errorf("instantiate contract module: %w", err)
	}
	defer instance.Close(ctx)
	call.memory = instance.Memory()

	invokeFn := instance.ExportedFunction("invoke")
	if invokeFn == nil {
		return "", fmt.Errorf("%w: module does not export invoke", ErrUnloadable)
	}

	results, err := invokeFn.Call(ctx)
	if call.err != nil {
		return "", call.err
	}
	if err != nil {
		return "", fmt.Errorf("invoke contract module: %w", err)
	}
	if len(results) > 0 && int32(results[0]) != 0 {
		return "", ContextualError("contract rejected argument with status %d", int32(results[0]))
	}
	return string(call.output), nil
}

func (c *wasmContract) buildHostModule(ctx context.Context, call *wasmCall) (api.Module, error) {
	return c.pool.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(context.Context) uint32 {
			return uint32(len(call.input))
		}).
		Export("input_len").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, ptr uint32) {
			if call.memory != nil && len(call.input) > 0 {
				call.memory.Write(ptr, call.input)
			}
		}).
		Export("read_input").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, ptr, length uint32) {
			if call.memory == nil || length == 0 {
				return
			}
			if data, ok := call.memory.Read(ptr, length); ok {
				call.output = append([]byte(nil), data...)
			}
		}).
		Export("write_output").
		NewFunctionBuilder().
		WithFunc(func(hostCtx context.Context, idPtr, idLen uint32) int32 {
			id, ok := call.readString(idPtr, idLen)
			if !ok {
				return -2
			}
			asset, err := call.env.Ledger().Get(hostCtx, id)
			if errors.Is(err, ledger.ErrNotFound) {
				return -1
			}
			if err != nil {
				call.err = err
				return -2
			}
			call.scratch = []byte(asset.Data)
			return int32(len(call.scratch))
		}).
		Export("ledger_get").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, ptr uint32) {
			if call.memory != nil && len(call.scratch) > 0 {
				call.memory.Write(ptr, call.scratch)
			}
		}).
		Export("read_scratch").
		NewFunctionBuilder().
		WithFunc(func(hostCtx context.Context, idPtr, idLen, dataPtr, dataLen uint32) int32 {
			id, ok := call.readString(idPtr, idLen)
			if !ok {
				return -2
			}
			data, ok := call.readString(dataPtr, dataLen)
			if !ok {
				return -2
			}
			if err := call.env.Ledger().Put(hostCtx, id, data); err != nil {
				call.err = err
				return -2
			}
			return 0
		}).
		Export("ledger_put").
		Instantiate(ctx)
}

func (c *wasmCall) readString(ptr, length uint32) (string, bool) {
	if c.memory == nil {
		return "", false
	}
	data, ok := c.memory.Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(data), true
}
