package applier

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/schema"
	"github.com/hyperengineering/lakesync/internal/store"
)

// applyDeltaTx performs the per-op SQL semantics from spec §4.E: INSERT
// writes [_row_id, …delta.columns]; UPDATE with no columns is a no-op
// that still counts as applied; DELETE targets _row_id. All identifiers
// are validated before interpolation; values always go through parameter
// binding.
func applyDeltaTx(ctx context.Context, tx store.Tx, d model.RowDelta) error {
	if err := schema.ValidateIdentifier(d.Table); err != nil {
		return err
	}

	switch d.Op {
	case model.OpDelete:
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", d.Table, store.RowIDColumn)
		if _, err := tx.ExecContext(ctx, stmt, d.RowID); err != nil {
			return lakeerr.Wrap(lakeerr.Apply, "delete row "+d.Table+"/"+d.RowID, err)
		}
		return nil

	case model.OpInsert, model.OpUpdate:
		if len(d.Columns) == 0 && d.Op == model.OpUpdate {
			return nil
		}
		cols := make([]string, 0, len(d.Columns)+1)
		placeholders := make([]string, 0, len(d.Columns)+1)
		updateClauses := make([]string, 0, len(d.Columns))
		args := make([]any, 0, len(d.Columns)+1)

		cols = append(cols, store.RowIDColumn)
		placeholders = append(placeholders, "?")
		args = append(args, d.RowID)

		for _, col := range d.Columns {
			if err := schema.ValidateIdentifier(col.Column); err != nil {
				return err
			}
			cols = append(cols, col.Column)
			placeholders = append(placeholders, "?")
			args = append(args, encodeValue(col.Value))
			updateClauses = append(updateClauses, fmt.Sprintf("%s = excluded.%s", col.Column, col.Column))
		}

		onConflict := "DO NOTHING"
		if len(updateClauses) > 0 {
			onConflict = "DO UPDATE SET " + strings.Join(updateClauses, ", ")
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s",
			d.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), store.RowIDColumn, onConflict)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return lakeerr.Wrap(lakeerr.Apply, "apply delta to "+d.Table+"/"+d.RowID, err)
		}
		return nil

	default:
		return lakeerr.New(lakeerr.Apply, "unknown op: "+string(d.Op))
	}
}

func encodeValue(v any) any {
	switch val := v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return val
	}
}

func cursorTx(ctx context.Context, tx store.Tx, table string) (hlc.Timestamp, error) {
	var raw int64
	err := tx.QueryRowContext(ctx, `SELECT hlc FROM _sync_cursor WHERE table_name = ?`, table).Scan(&raw)
	if err == sql.ErrNoRows {
		return hlc.Zero, nil
	}
	if err != nil {
		return hlc.Zero, lakeerr.Wrap(lakeerr.Apply, "read cursor for "+table, err)
	}
	return hlc.Timestamp(raw), nil
}

func setCursorTx(ctx context.Context, tx store.Tx, table string, ts hlc.Timestamp) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _sync_cursor (table_name, hlc) VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET hlc = excluded.hlc
	`, table, int64(ts))
	if err != nil {
		return lakeerr.Wrap(lakeerr.Apply, "set cursor for "+table, err)
	}
	return nil
}
