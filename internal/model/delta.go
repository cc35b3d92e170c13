// Package model holds the wire-level and storage-level value types shared
// across lakesync's components: row deltas, actions, table schemas, and the
// sync protocol messages built from them.
package model

import (
	"github.com/hyperengineering/lakesync/internal/hlc"
)

// Op identifies the kind of row mutation a RowDelta carries.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ColumnDelta is a single column's new value. Value holds any
// JSON-compatible Go value (string, float64, bool, nil, []any, map[string]any)
// — lakesync never interprets column values itself, it only shuttles them
// between the local store and the wire.
type ColumnDelta struct {
	Column string `json:"column_name"`
	Value  any    `json:"value"`
}

// RowDelta is a single column-level mutation of one row, stamped with the
// HLC timestamp and client that produced it. DeltaID uniquely identifies
// the mutation for idempotent application (spec §3.3).
type RowDelta struct {
	Op       Op             `json:"op"`
	Table    string         `json:"table"`
	RowID    string         `json:"row_id"`
	Columns  []ColumnDelta  `json:"columns"`
	HLC      hlc.Timestamp  `json:"hlc"`
	ClientID string         `json:"client_id"`
	DeltaID  string         `json:"delta_id"`
}

// Key identifies the row a delta targets, independent of operation or
// timestamp. The applier and the outbox both index pending work by Key.
type Key struct {
	Table string
	RowID string
}

// KeyOf returns the (table, row_id) key for a delta.
func (d RowDelta) KeyOf() Key {
	return Key{Table: d.Table, RowID: d.RowID}
}

// ColumnMap flattens a RowDelta's columns into a map, useful for diffing
// and for building parameterized SQL. Later columns with a duplicate name
// win, matching how a patch map would behave.
func (d RowDelta) ColumnMap() map[string]any {
	m := make(map[string]any, len(d.Columns))
	for _, c := range d.Columns {
		m[c.Column] = c.Value
	}
	return m
}

// Action is a single imperative, at-least-once, idempotent command sent to
// the gateway over the action channel (spec §3.6). ActionID is
// content-addressed: identical logical actions (same client, timestamp,
// connector, type, and params) produce the same ActionID.
type Action struct {
	ActionID        string         `json:"action_id"`
	ClientID        string         `json:"client_id"`
	HLC             hlc.Timestamp  `json:"hlc"`
	Connector       string         `json:"connector"`
	ActionType      string         `json:"action_type"`
	Params          map[string]any `json:"params"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
}

// ActionResult is the successful outcome of an executed Action.
type ActionResult struct {
	ActionID  string        `json:"action_id"`
	Data      any           `json:"data"`
	ServerHLC hlc.Timestamp `json:"server_hlc"`
}

// ActionErrorResult is the failed outcome of an executed Action.
type ActionErrorResult struct {
	ActionID  string `json:"action_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ActionOutcome is a sum type over the two possible per-action results in
// an ActionResponse. Exactly one of Result or Err is non-nil.
type ActionOutcome struct {
	Result *ActionResult      `json:"result,omitempty"`
	Err    *ActionErrorResult `json:"error,omitempty"`
}

// DeadLetteredOutcome builds the synthetic ActionErrorResult emitted when
// an action exhausts its retry budget without ever reaching the gateway
// (spec §4.I).
func DeadLetteredOutcome(actionID string) ActionOutcome {
	return ActionOutcome{Err: &ActionErrorResult{
		ActionID:  actionID,
		Code:      "DEAD_LETTERED",
		Message:   "action exceeded max retries and was discarded",
		Retryable: false,
	}}
}

// ColumnType enumerates the storage-level types a TableSchema column may
// declare (spec §3.8).
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnNumber  ColumnType = "number"
	ColumnBoolean ColumnType = "boolean"
	ColumnJSON    ColumnType = "json"
	ColumnNull    ColumnType = "null"
)

// ColumnDef declares one column of a TableSchema.
type ColumnDef struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// TableSchema declares the structure of a synced table. Local storage
// materializes each column plus a mandatory _row_id primary key.
type TableSchema struct {
	Table   string      `json:"table"`
	Columns []ColumnDef `json:"columns"`
}

// ColumnNames returns the declared column names, excluding the implicit
// _row_id primary key.
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether name is declared in the schema.
func (s TableSchema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnByName returns the ColumnDef for name, if declared.
func (s TableSchema) ColumnByName(name string) (ColumnDef, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// SchemaUpdate carries one table's schema change as delivered by the
// gateway alongside a pull or checkpoint response (spec §3.8, §6). Table
// is carried separately from Schema.Table: a gateway describing one
// table's columns under another table's name is itself a protocol
// violation, caught as SCHEMA_MISMATCH rather than silently migrating
// the wrong table. Version is the server's schema_version for Table and
// may jump ahead of the client's current version by more than one.
type SchemaUpdate struct {
	Table   string      `json:"table"`
	Schema  TableSchema `json:"schema"`
	Version int         `json:"version"`
}
