// Package schema holds the registry of synced table definitions: which
// tables exist, what columns they declare, and the identifier-allowlist
// validation every component that builds SQL text from a table or column
// name must run first.
package schema

import (
	"regexp"
	"sync"

	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
)

// identifierPattern is the allowlist every table and column name must
// match before it is ever interpolated into SQL text. Generalizes
// internal/plugin/registry.go's columnNameRegex (which validated columns
// only) to cover table names too, since the applier and the delta tracker
// both build queries against dynamic table names.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Registry holds the set of table schemas a lakesync client knows how to
// sync. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]model.TableSchema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]model.TableSchema)}
}

// Register adds a table schema, validating every identifier it declares.
// Panics on a duplicate table name or an invalid identifier, mirroring
// internal/plugin/registry.go's Register/panic convention: schema
// registration happens once at startup, driven by the embedding
// application's own static table definitions, never by untrusted input.
func (r *Registry) Register(s model.TableSchema) {
	if err := ValidateIdentifier(s.Table); err != nil {
		panic("schema: " + err.Error())
	}
	for _, col := range s.Columns {
		if err := ValidateIdentifier(col.Name); err != nil {
			panic("schema: " + err.Error())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[s.Table]; exists {
		panic("schema: table already registered: " + s.Table)
	}
	r.schemas[s.Table] = s
}

// Get returns the schema registered for table, if any.
func (r *Registry) Get(table string) (model.TableSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[table]
	return s, ok
}

// Tables returns the names of every registered table.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		names = append(names, t)
	}
	return names
}

// Synchronise reconciles an incoming schema against the one already
// registered for its table, enforcing spec's additive-only migration rule
// (Non-goal: "arbitrary schema migrations beyond additive column
// addition"). Returns the merged schema (existing columns plus any new
// ones from incoming) and registers it. Returns SCHEMA_MISMATCH if
// incoming drops, renames, or retypes a column the registry already knows
// about. Callers that also need to persist a server-supplied
// schema_version go through SchemaSync, which wraps this method with the
// version bookkeeping and the actual ALTER TABLE.
func (r *Registry) Synchronise(incoming model.TableSchema) (model.TableSchema, error) {
	for _, col := range incoming.Columns {
		if err := ValidateIdentifier(col.Name); err != nil {
			return model.TableSchema{}, lakeerr.Wrap(lakeerr.SchemaMismatch, "invalid column name", err)
		}
	}
	if err := ValidateIdentifier(incoming.Table); err != nil {
		return model.TableSchema{}, lakeerr.Wrap(lakeerr.SchemaMismatch, "invalid table name", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.schemas[incoming.Table]
	if !ok {
		r.schemas[incoming.Table] = incoming
		return incoming, nil
	}

	for _, col := range existing.Columns {
		if !incoming.HasColumn(col.Name) {
			return model.TableSchema{}, lakeerr.New(lakeerr.SchemaMismatch,
				"incoming schema for table "+incoming.Table+" drops column "+col.Name)
		}
	}

	merged := existing
	for _, col := range incoming.Columns {
		prior, known := existing.ColumnByName(col.Name)
		if !known {
			merged.Columns = append(merged.Columns, col)
			continue
		}
		if prior.Type != col.Type {
			return model.TableSchema{}, lakeerr.New(lakeerr.SchemaMismatch,
				"column "+col.Name+" of table "+incoming.Table+" changed type from "+string(prior.Type)+" to "+string(col.Type))
		}
	}
	r.schemas[incoming.Table] = merged
	return merged, nil
}

// ValidateIdentifier reports whether name is safe to interpolate directly
// into SQL text as a table or column identifier.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return lakeerr.New(lakeerr.SchemaMismatch, "invalid identifier: "+name)
	}
	return nil
}
