// Package generic ships the pre-built contracts most deployments register
// out of the box: simple object storage and balance transfers. They are
// ordinary native contracts with no special access to the engine.
package generic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scalar-labs/scalardl-sub000/internal/contract"
	"github.com/scalar-labs/scalardl-sub000/internal/ledger"
)

// Binary names the generic contracts resolve under.
const (
	BinaryCreateObject = "generic.CreateObject"
	BinaryUpdateObject = "generic.UpdateObject"
	BinaryGetObject    = "generic.GetObject"
	BinaryPayment      = "generic.Payment"
)

// Bind registers all generic contracts on a native loader.
func Bind(l *contract.NativeLoader) {
	l.BindContract(BinaryCreateObject, func() contract.Contract { return &CreateObject{} })
	l.BindContract(BinaryUpdateObject, func() contract.Contract { return &UpdateObject{} })
	l.BindContract(BinaryGetObject, func() contract.Contract { return &GetObject{} })
	l.BindContract(BinaryPayment, func() contract.Contract { return &Payment{} })
}

type objectArgument struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// CreateObject writes the first version of an asset. Fails contextually if
// the asset already exists.
type CreateObject struct{}

// Invoke implements contract.Contract.
func (c *CreateObject) Invoke(ctx context.Context, env contract.Env, argument string) (string, error) {
	var arg objectArgument
	if err := json.Unmarshal([]byte(argument), &arg); err != nil || arg.ID == "" {
		return "", contract.ContextualError("argument requires id and data")
	}

	if _, err := env.Ledger().Get(ctx, arg.ID); err == nil {
		return "", contract.ContextualError("asset %q already exists", arg.ID)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return "", err
	}

	if err := env.Ledger().Put(ctx, arg.ID, string(arg.Data)); err != nil {
		return "", err
	}
	return fmt.Sprintf(`{"id":%q,"age":0}`, arg.ID), nil
}

// UpdateObject writes a new version of an existing asset.
type UpdateObject struct{}

// Invoke implements contract.Contract.
func (c *UpdateObject) Invoke(ctx context.Context, env contract.Env, argument string) (string, error) {
	var arg objectArgument
	if err := json.Unmarshal([]byte(argument), &arg); err != nil || arg.ID == "" {
		return "", contract.ContextualError("argument requires id and data")
	}

	current, err := env.Ledger().Get(ctx, arg.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return "", contract.ContextualError("asset %q does not exist", arg.ID)
	}
	if err != nil {
		return "", err
	}

	if err := env.Ledger().Put(ctx, arg.ID, string(arg.Data)); err != nil {
		return "", err
	}
	return fmt.Sprintf(`{"id":%q,"age":%d}`, arg.ID, current.Age+1), nil
}

// GetObject returns the current version of an asset. Read-only; useful as a
// nested sub-call for create-then-read-back composition.
type GetObject struct{}

// Invoke implements contract.Contract.
func (c *GetObject) Invoke(ctx context.Context, env contract.Env, argument string) (string, error) {
	var arg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(argument), &arg); err != nil || arg.ID == "" {
		return "", contract.ContextualError("argument requires id")
	}

	asset, err := env.Ledger().Get(ctx, arg.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return "", contract.ContextualError("asset %q does not exist", arg.ID)
	}
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(asset)
	if err != nil {
		return "", fmt.Errorf("marshal asset: %w", err)
	}
	return string(out), nil
}

type balance struct {
	Balance int64 `json:"balance"`
}

// paymentProperties is the optional registration-time tuning document.
type paymentProperties struct {
	MaxAmount int64 `json:"max_amount"`
}

// Payment moves balance between two assets in one atomic write. Both
// resulting versions share the request's nonce and read-set snapshot.
type Payment struct{}

// Invoke implements contract.Contract.
func (c *Payment) Invoke(ctx context.Context, env contract.Env, argument string) (string, error) {
	var arg struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}
	if err := json.Unmarshal([]byte(argument), &arg); err != nil || arg.From == "" || arg.To == "" {
		return "", contract.ContextualError("argument requires from, to and amount")
	}
	if arg.Amount <= 0 {
		return "", contract.ContextualError("amount must be positive")
	}
	if arg.From == arg.To {
		return "", contract.ContextualError("from and to must differ")
	}

	if raw, ok := env.Properties(); ok {
		var props paymentProperties
		if err := json.Unmarshal(raw, &props); err == nil && props.MaxAmount > 0 && arg.Amount > props.MaxAmount {
			return "", contract.ContextualError("amount %d exceeds maximum %d", arg.Amount, props.MaxAmount)
		}
	}

	from, err := c.readBalance(ctx, env, arg.From)
	if err != nil {
		return "", err
	}
	to, err := c.readBalance(ctx, env, arg.To)
	if err != nil {
		return "", err
	}
	if from.Balance < arg.Amount {
		return "", contract.ContextualError("insufficient funds in %q", arg.From)
	}

	from.Balance -= arg.Amount
	to.Balance += arg.Amount
	if err := c.writeBalance(ctx, env, arg.From, from); err != nil {
		return "", err
	}
	if err := c.writeBalance(ctx, env, arg.To, to); err != nil {
		return "", err
	}

	return fmt.Sprintf(`{"from_balance":%d,"to_balance":%d}`, from.Balance, to.Balance), nil
}

func (c *Payment) readBalance(ctx context.Context, env contract.Env, id string) (*balance, error) {
	asset, err := env.Ledger().Get(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, contract.ContextualError("account %q does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	var b balance
	if err := json.Unmarshal([]byte(asset.Data), &b); err != nil {
		return nil, contract.ContextualError("account %q holds no balance document", id)
	}
	return &b, nil
}

func (c *Payment) writeBalance(ctx context.Context, env contract.Env, id string, b *balance) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal balance: %w", err)
	}
	return env.Ledger().Put(ctx, id, string(raw))
}
