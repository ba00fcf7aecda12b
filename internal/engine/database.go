package engine

import (
	"context"
	"strings"

	"github.com/scalar-labs/scalardl-sub000/internal/contract"
	"github.com/scalar-labs/scalardl-sub000/internal/crypto"
	"github.com/scalar-labs/scalardl-sub000/internal/model"
	"github.com/scalar-labs/scalardl-sub000/internal/store"
)

// reservedTables are owned by the ledger itself and never writable by
// function logic. Asset tables are reserved by prefix since namespaces map
// to asset_<name>.
var reservedTables = map[string]struct{}{
	store.DefaultAssetTable: {},
	crypto.TableCertificate: {},
	crypto.TableSecret:      {},
	contract.TableContract:  {},
	contract.TableFunction:  {},
}

// guardedDatabase hands function logic the request's transaction with the
// ledger-owned tables fenced off. Reads and writes land in the same commit
// as the contract's proofs, so functions stay atomic with the chain without
// being able to forge it.
type guardedDatabase struct {
	tx         store.Transaction
	assetTable string
}

func newGuardedDatabase(tx store.Transaction, assetTable string) *guardedDatabase {
	return &guardedDatabase{tx: tx, assetTable: assetTable}
}

func (g *guardedDatabase) check(table string) error {
	_, reserved := reservedTables[table]
	if reserved || table == g.assetTable || strings.HasPrefix(table, store.DefaultAssetTable+"_") {
		return model.NewStatusError(model.StatusInvalidFunction,
			"table %s is ledger-owned and not accessible to functions", table)
	}
	if table == "" {
		return model.NewStatusError(model.StatusInvalidFunction, "empty table name")
	}
	return nil
}

// Get implements contract.Database.
func (g *guardedDatabase) Get(ctx context.Context, table, partition, sort string) (map[string]any, error) {
	if err := g.check(table); err != nil {
		return nil, err
	}
	rec, err := g.tx.Get(ctx, store.Key{Table: table, Partition: partition, Sort: sort})
	if err != nil {
		return nil, err
	}
	return rec.Values, nil
}

// Put implements contract.Database.
func (g *guardedDatabase) Put(ctx context.Context, table, partition, sort string, values map[string]any) error {
	if err := g.check(table); err != nil {
		return err
	}
	return g.tx.Put(ctx, store.Key{Table: table, Partition: partition, Sort: sort}, values)
}

// Scan implements contract.Database.
func (g *guardedDatabase) Scan(ctx context.Context, table, partition string) ([]map[string]any, error) {
	if err := g.check(table); err != nil {
		return nil, err
	}
	recs, err := g.tx.Scan(ctx, table, partition, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Values)
	}
	return out, nil
}
