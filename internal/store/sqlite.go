package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/schema"
	_ "modernc.org/sqlite"
)

// SQLiteLocalStore is the reference LocalStore implementation: one SQLite
// database holding both the synced data tables and lakesync's own
// bookkeeping tables (cursors, outboxes, idempotency cache).
type SQLiteLocalStore struct {
	db       *sql.DB
	registry *schema.Registry
}

// NewSQLiteLocalStore opens (or creates) dbPath, applies pragmas, and runs
// the embedded goose migrations. registry is consulted by EnsureTable and
// by the column-name validation every dynamic-SQL path runs before
// touching the database.
func NewSQLiteLocalStore(dbPath string, registry *schema.Registry) (*SQLiteLocalStore, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteLocalStore{db: db, registry: registry}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteLocalStore) DB() *sql.DB { return s.db }

func (s *SQLiteLocalStore) Close() error { return s.db.Close() }

func (s *SQLiteLocalStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lakeerr.Wrap(lakeerr.DB, "begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return lakeerr.Wrap(lakeerr.DB, "commit transaction", err)
	}
	return nil
}

// EnsureTable creates table if absent, or additively adds any columns in s
// that aren't already present. Column types all map to SQLite's dynamic
// TEXT/NUMERIC affinity system; lakesync itself only ever reads and writes
// whole-row JSON-compatible values, so it never needs a stricter column
// type than SQLite's own type affinity provides.
func (s *SQLiteLocalStore) EnsureTable(ctx context.Context, ts model.TableSchema) error {
	if err := schema.ValidateIdentifier(ts.Table); err != nil {
		return err
	}
	for _, col := range ts.Columns {
		if err := schema.ValidateIdentifier(col.Name); err != nil {
			return err
		}
	}

	exists, err := s.tableExists(ctx, ts.Table)
	if err != nil {
		return err
	}
	if !exists {
		cols := make([]string, 0, len(ts.Columns)+1)
		cols = append(cols, RowIDColumn+" TEXT PRIMARY KEY")
		for _, col := range ts.Columns {
			cols = append(cols, col.Name+" TEXT")
		}
		stmt := fmt.Sprintf("CREATE TABLE %s (%s)", ts.Table, strings.Join(cols, ", "))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return lakeerr.Wrap(lakeerr.DB, "create table "+ts.Table, err)
		}
		return nil
	}

	existingCols, err := s.columnSet(ctx, ts.Table)
	if err != nil {
		return err
	}
	for _, col := range ts.Columns {
		if existingCols[col.Name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", ts.Table, col.Name)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return lakeerr.Wrap(lakeerr.SchemaMismatch, "add column "+col.Name+" to "+ts.Table, err)
		}
	}
	return nil
}

func (s *SQLiteLocalStore) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, lakeerr.Wrap(lakeerr.DB, "check table exists", err)
	}
	return true, nil
}

func (s *SQLiteLocalStore) columnSet(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, lakeerr.Wrap(lakeerr.DB, "read table_info for "+table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, lakeerr.Wrap(lakeerr.DB, "scan table_info row", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// UpsertRow writes row via INSERT ... ON CONFLICT(_row_id) DO UPDATE, so a
// repeated apply of the same delta (at-least-once replay) never fails or
// duplicates a row.
func (s *SQLiteLocalStore) UpsertRow(ctx context.Context, table, rowID string, columns map[string]any) error {
	return s.upsertRow(ctx, s.db, table, rowID, columns)
}

func (s *SQLiteLocalStore) upsertRow(ctx context.Context, execer Tx, table, rowID string, columns map[string]any) error {
	if err := schema.ValidateIdentifier(table); err != nil {
		return err
	}
	cols := make([]string, 0, len(columns)+1)
	placeholders := make([]string, 0, len(columns)+1)
	updateClauses := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+1)

	cols = append(cols, RowIDColumn)
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
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), RowIDColumn)
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), RowIDColumn, strings.Join(updateClauses, ", "))
	}

	if _, err := execer.ExecContext(ctx, stmt, args...); err != nil {
		return lakeerr.Wrap(lakeerr.DB, "upsert row "+table+"/"+rowID, err)
	}
	return nil
}

func (s *SQLiteLocalStore) DeleteRow(ctx context.Context, table, rowID string) error {
	return s.deleteRow(ctx, s.db, table, rowID)
}

func (s *SQLiteLocalStore) deleteRow(ctx context.Context, execer Tx, table, rowID string) error {
	if err := schema.ValidateIdentifier(table); err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, RowIDColumn)
	if _, err := execer.ExecContext(ctx, stmt, rowID); err != nil {
		return lakeerr.Wrap(lakeerr.DB, "delete row "+table+"/"+rowID, err)
	}
	return nil
}

func (s *SQLiteLocalStore) GetRow(ctx context.Context, table, rowID string) (map[string]any, bool, error) {
	if err := schema.ValidateIdentifier(table); err != nil {
		return nil, false, err
	}
	ts, ok := s.registry.Get(table)
	if !ok {
		return nil, false, lakeerr.New(lakeerr.SchemaMismatch, "no schema registered for table "+table)
	}

	colNames := ts.ColumnNames()
	selectCols := append([]string{RowIDColumn}, colNames...)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", strings.Join(selectCols, ", "), table, RowIDColumn)

	dest := make([]any, len(selectCols))
	scanTargets := make([]sql.NullString, len(selectCols))
	for i := range dest {
		dest[i] = &scanTargets[i]
	}

	if err := s.db.QueryRowContext(ctx, stmt, rowID).Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, lakeerr.Wrap(lakeerr.DB, "get row "+table+"/"+rowID, err)
	}

	row := make(map[string]any, len(colNames))
	for i, name := range colNames {
		v := scanTargets[i+1]
		if !v.Valid {
			row[name] = nil
			continue
		}
		if col, ok := ts.ColumnByName(name); ok && col.Type == model.ColumnNumber {
			if f, err := strconv.ParseFloat(v.String, 64); err == nil {
				row[name] = f
				continue
			}
		}
		row[name] = fromSQLValue(v.String)
	}
	return row, true, nil
}

// fromSQLValue inverts toSQLValue: a stored TEXT column that parses as a
// JSON object or array is a composite value re-encoded on write, so it is
// decoded back rather than handed to the caller as a raw string.
func fromSQLValue(s string) any {
	if len(s) == 0 || (s[0] != '{' && s[0] != '[') {
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func (s *SQLiteLocalStore) Cursor(ctx context.Context, table string) (hlc.Timestamp, error) {
	var raw int64
	err := s.db.QueryRowContext(ctx, `SELECT hlc FROM _sync_cursor WHERE table_name = ?`, table).Scan(&raw)
	if err == sql.ErrNoRows {
		return hlc.Zero, nil
	}
	if err != nil {
		return hlc.Zero, lakeerr.Wrap(lakeerr.DB, "read cursor for "+table, err)
	}
	return hlc.Timestamp(raw), nil
}

func (s *SQLiteLocalStore) SetCursor(ctx context.Context, table string, ts hlc.Timestamp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _sync_cursor (table_name, hlc) VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET hlc = excluded.hlc
	`, table, int64(ts))
	if err != nil {
		return lakeerr.Wrap(lakeerr.DB, "set cursor for "+table, err)
	}
	return nil
}

// schemaVersionKey namespaces a table's schema_version inside the
// generic _lakesync_meta key/value table (spec §3.8 describes
// _lakesync_meta as a per-table row; the embedded migration keeps it a
// plain key/value store, so each table's version lives under its own key
// rather than its own row).
func schemaVersionKey(table string) string { return "schema_version:" + table }

// GetSchemaVersion returns table's locally-persisted schema_version,
// defaulting to 1 (spec §3.8: "schema_version INT NOT NULL DEFAULT 1")
// when SetSchemaVersion has never been called for it.
func (s *SQLiteLocalStore) GetSchemaVersion(ctx context.Context, table string) (int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM _lakesync_meta WHERE key = ?`, schemaVersionKey(table)).Scan(&raw)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, lakeerr.Wrap(lakeerr.DB, "read schema version for "+table, err)
	}
	var version int
	if err := json.Unmarshal([]byte(raw), &version); err != nil {
		return 0, lakeerr.Wrap(lakeerr.DB, "decode schema version for "+table, err)
	}
	return version, nil
}

// SetSchemaVersion persists table's schema_version, possibly jumping past
// intermediate versions (spec §6, §8 scenario S5).
func (s *SQLiteLocalStore) SetSchemaVersion(ctx context.Context, table string, version int) error {
	raw, err := json.Marshal(version)
	if err != nil {
		return lakeerr.Wrap(lakeerr.DB, "encode schema version for "+table, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO _lakesync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, schemaVersionKey(table), string(raw))
	if err != nil {
		return lakeerr.Wrap(lakeerr.DB, "set schema version for "+table, err)
	}
	return nil
}

// toSQLValue converts a column's Go value (string, float64, bool, nil,
// map[string]any, []any — whatever came off the wire as JSON) into
// something database/sql can bind. Composite values are re-encoded as
// JSON text since SQLite has no native array/object column type.
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
