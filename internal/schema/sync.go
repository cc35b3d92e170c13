package schema

import (
	"context"

	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
)

// SchemaStore is the subset of store.SQLiteLocalStore that schema
// synchronisation needs: materialising a merged schema as real columns,
// and persisting the version that merge corresponds to. Declared here
// rather than imported from internal/store to avoid a cycle — store
// already imports schema for ValidateIdentifier and EnsureTable's column
// checks.
type SchemaStore interface {
	EnsureTable(ctx context.Context, ts model.TableSchema) error
	GetSchemaVersion(ctx context.Context, table string) (int, error)
	SetSchemaVersion(ctx context.Context, table string, version int) error
}

// SchemaSync applies a gateway-supplied schema against the local registry
// and local storage, implementing spec §3.8/§6's synchronise contract:
// one ALTER TABLE per additive change, the local schema_version jumping
// straight to the server's (possibly non-contiguous) version, and
// SCHEMA_MISMATCH on anything non-additive.
type SchemaSync struct {
	registry *Registry
	store    SchemaStore
}

// NewSchemaSync builds a SchemaSync over registry and store.
func NewSchemaSync(registry *Registry, store SchemaStore) *SchemaSync {
	return &SchemaSync{registry: registry, store: store}
}

// Synchronise reconciles table against serverSchema and advances its
// local schema_version to version. table must match serverSchema.Table;
// a gateway that names one table but describes another's columns fails
// closed as SCHEMA_MISMATCH before anything is persisted.
func (s *SchemaSync) Synchronise(ctx context.Context, table string, serverSchema model.TableSchema, version int) (model.TableSchema, error) {
	if serverSchema.Table != table {
		return model.TableSchema{}, lakeerr.New(lakeerr.SchemaMismatch,
			"schema update named table "+table+" but described "+serverSchema.Table)
	}

	merged, err := s.registry.Synchronise(serverSchema)
	if err != nil {
		return model.TableSchema{}, err
	}

	if err := s.store.EnsureTable(ctx, merged); err != nil {
		return model.TableSchema{}, err
	}
	if err := s.store.SetSchemaVersion(ctx, table, version); err != nil {
		return model.TableSchema{}, err
	}
	return merged, nil
}

// VersionOf returns the locally-persisted schema_version for table,
// defaulting to 1 for a table that has never been through Synchronise
// (spec §3.8's "_lakesync_meta ... schema_version INT NOT NULL DEFAULT 1").
func (s *SchemaSync) VersionOf(ctx context.Context, table string) (int, error) {
	return s.store.GetSchemaVersion(ctx, table)
}
