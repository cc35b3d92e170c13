package delta

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/schema"
	"github.com/hyperengineering/lakesync/internal/store"
)

// upsertRowTx and deleteRowTx duplicate SQLiteLocalStore's own
// INSERT-ON-CONFLICT / DELETE shape against the store.Tx seam instead of
// store.LocalStore directly, since the tracker needs the write to
// participate in the same transaction its caller controls via WithTx.
func upsertRowTx(ctx context.Context, tx store.Tx, table, rowID string, columns map[string]any) error {
	if err := schema.ValidateIdentifier(table); err != nil {
		return err
	}
	cols := make([]string, 0, len(columns)+1)
	placeholders := make([]string, 0, len(columns)+1)
	updateClauses := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+1)

	cols = append(cols, store.RowIDColumn)
	placeholders = append(placeholders, "?")
	args = append(args, rowID)

	for name, value := range columns {
		if err := schema.ValidateIdentifier(name); err != nil {
			return err
		}
		cols = append(cols, name)
		placeholders = append(placeholders, "?")
		args = append(args, toSQLValue(value))
		updateClauses = append(updateClauses, fmt.Sprintf("%s = excluded.%s", name, name))
	}

	var stmt string
	if len(updateClauses) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO NOTHING",
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), store.RowIDColumn)
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), store.RowIDColumn, strings.Join(updateClauses, ", "))
	}

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return lakeerr.Wrap(lakeerr.DB, "upsert row "+table+"/"+rowID, err)
	}
	return nil
}

func deleteRowTx(ctx context.Context, tx store.Tx, table, rowID string) error {
	if err := schema.ValidateIdentifier(table); err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, store.RowIDColumn)
	if _, err := tx.ExecContext(ctx, stmt, rowID); err != nil {
		return lakeerr.Wrap(lakeerr.DB, "delete row "+table+"/"+rowID, err)
	}
	return nil
}

func toSQLValue(v any) any {
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
