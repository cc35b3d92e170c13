// Package delta turns local row mutations into RowDeltas and queues them
// for push, restricting every diff and write to schema-known columns
// (spec §4.D, §3.2, §3.3).
package delta

import (
	"context"
	"reflect"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/outbox"
	"github.com/hyperengineering/lakesync/internal/schema"
	"github.com/hyperengineering/lakesync/internal/store"
)

// Tracker converts insert/update/delete operations against a named table
// into RowDeltas and enqueues them on the push outbox, using the Clock to
// stamp each delta and the Registry to restrict diffs to declared columns.
type Tracker struct {
	store    store.LocalStore
	registry *schema.Registry
	clock    *hlc.Clock
	outbox   *outbox.Outbox[model.RowDelta]
	clientID string
}

func NewTracker(s store.LocalStore, reg *schema.Registry, clock *hlc.Clock, ob *outbox.Outbox[model.RowDelta], clientID string) *Tracker {
	return &Tracker{store: s, registry: reg, clock: clock, outbox: ob, clientID: clientID}
}

// Insert writes a new row and enqueues an INSERT delta for every
// schema-known column present in data.
func (t *Tracker) Insert(ctx context.Context, table, rowID string, data map[string]any) error {
	ts, ok := t.registry.Get(table)
	if !ok {
		return lakeerr.New(lakeerr.SchemaMismatch, "no schema registered for table "+table)
	}
	columns := restrictToSchema(ts, data)

	if err := t.store.WithTx(ctx, func(tx store.Tx) error {
		return upsertRowTx(ctx, tx, table, rowID, columns)
	}); err != nil {
		return err
	}

	delta := model.RowDelta{
		Op:       model.OpInsert,
		Table:    table,
		RowID:    rowID,
		Columns:  columnDeltasOf(columns),
		HLC:      t.clock.Now(),
		ClientID: t.clientID,
		DeltaID:  t.clock.Now().String() + "/" + rowID,
	}
	_, err := t.outbox.Push(ctx, delta)
	return err
}

// Update reads the current row, computes a diff restricted to
// schema-known columns, and — if anything changed — applies the local
// update and enqueues an UPDATE delta containing only the changed
// columns. An empty diff emits no delta at all (spec §4.D).
func (t *Tracker) Update(ctx context.Context, table, rowID string, patch map[string]any) error {
	ts, ok := t.registry.Get(table)
	if !ok {
		return lakeerr.New(lakeerr.SchemaMismatch, "no schema registered for table "+table)
	}

	current, found, err := t.store.GetRow(ctx, table, rowID)
	if err != nil {
		return err
	}
	if !found {
		return lakeerr.New(lakeerr.RowNotFound, "update: row "+rowID+" not found in "+table)
	}

	changed := diff(ts, current, patch)
	if len(changed) == 0 {
		return nil
	}

	if err := t.store.WithTx(ctx, func(tx store.Tx) error {
		return upsertRowTx(ctx, tx, table, rowID, changed)
	}); err != nil {
		return err
	}

	delta := model.RowDelta{
		Op:       model.OpUpdate,
		Table:    table,
		RowID:    rowID,
		Columns:  columnDeltasOf(changed),
		HLC:      t.clock.Now(),
		ClientID: t.clientID,
		DeltaID:  t.clock.Now().String() + "/" + rowID,
	}
	_, err = t.outbox.Push(ctx, delta)
	return err
}

// Delete removes a row and enqueues a DELETE delta carrying no columns.
func (t *Tracker) Delete(ctx context.Context, table, rowID string) error {
	if _, ok := t.registry.Get(table); !ok {
		return lakeerr.New(lakeerr.SchemaMismatch, "no schema registered for table "+table)
	}

	_, found, err := t.store.GetRow(ctx, table, rowID)
	if err != nil {
		return err
	}
	if !found {
		return lakeerr.New(lakeerr.RowNotFound, "delete: row "+rowID+" not found in "+table)
	}

	if err := t.store.WithTx(ctx, func(tx store.Tx) error {
		return deleteRowTx(ctx, tx, table, rowID)
	}); err != nil {
		return err
	}

	delta := model.RowDelta{
		Op:       model.OpDelete,
		Table:    table,
		RowID:    rowID,
		HLC:      t.clock.Now(),
		ClientID: t.clientID,
		DeltaID:  t.clock.Now().String() + "/" + rowID,
	}
	_, err = t.outbox.Push(ctx, delta)
	return err
}

// restrictToSchema drops any key in data that isn't a declared column of
// ts, so a caller's stray field never leaks into a RowDelta or the store.
func restrictToSchema(ts model.TableSchema, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for _, col := range ts.Columns {
		if v, ok := data[col.Name]; ok {
			out[col.Name] = v
		}
	}
	return out
}

// diff compares patch against current, restricted to schema-known
// columns, and returns only the columns whose value actually changed.
// Restricting to schema-known columns first keeps the comparison
// allocation-light even for a wide row: only the declared columns are
// ever touched, regardless of how many keys current or patch carry.
func diff(ts model.TableSchema, current, patch map[string]any) map[string]any {
	changed := make(map[string]any)
	for _, col := range ts.Columns {
		newVal, present := patch[col.Name]
		if !present {
			continue
		}
		if !reflect.DeepEqual(current[col.Name], newVal) {
			changed[col.Name] = newVal
		}
	}
	return changed
}

func columnDeltasOf(columns map[string]any) []model.ColumnDelta {
	out := make([]model.ColumnDelta, 0, len(columns))
	for name, value := range columns {
		out = append(out, model.ColumnDelta{Column: name, Value: value})
	}
	return out
}
