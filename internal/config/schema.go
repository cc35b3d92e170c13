package config

import (
	"fmt"

	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/schema"
)

// TableSchema is the YAML shape of one synced table declaration, letting
// an embedding application describe its tables in the same config file
// as the gateway address and sync tuning rather than registering them in
// Go code (spec §3.8's TableSchema, made configurable).
type TableSchema struct {
	Table   string   `yaml:"table"`
	Columns []Column `yaml:"columns"`
}

// Column is the YAML shape of one column declaration.
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // string|number|boolean|json|null
}

// ToRegistry builds a schema.Registry from the configured tables,
// rejecting unknown column types before they ever reach schema.Registry's
// own identifier validation.
func (c *Config) ToRegistry() (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, t := range c.Schema {
		ts := model.TableSchema{Table: t.Table}
		for _, col := range t.Columns {
			ct, err := toColumnType(col.Type)
			if err != nil {
				return nil, fmt.Errorf("schema: table %s: %w", t.Table, err)
			}
			ts.Columns = append(ts.Columns, model.ColumnDef{Name: col.Name, Type: ct})
		}
		reg.Register(ts)
	}
	return reg, nil
}

func toColumnType(s string) (model.ColumnType, error) {
	switch model.ColumnType(s) {
	case model.ColumnString, model.ColumnNumber, model.ColumnBoolean, model.ColumnJSON, model.ColumnNull:
		return model.ColumnType(s), nil
	default:
		return "", fmt.Errorf("column type %q is not one of string|number|boolean|json|null", s)
	}
}
