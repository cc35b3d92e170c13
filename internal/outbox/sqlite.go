package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/lakesync/internal/wire"
)

// Table name constants for the two outboxes migrations/ provisions.
const (
	TableRowDeltaOutbox = "row_delta_outbox"
	TableActionOutbox   = "action_outbox"
)

// SQLiteBackend is the durable Backend implementation: every entry survives
// a process restart, which is what lets an offline client accumulate a
// queue across app launches without losing work (spec §3.4). The table is
// parameterized so one database can host the row-delta outbox and the
// action outbox side by side under distinct table names.
type SQLiteBackend[T any] struct {
	db    *sql.DB
	table string
}

// NewSQLiteBackend wraps an already-open *sql.DB (driver "sqlite", via
// modernc.org/sqlite) and targets the given table, which must already
// exist — see migrations/ for the DDL. table is interpolated directly into
// SQL text since database/sql has no placeholder syntax for identifiers;
// callers must only ever pass one of the fixed table name constants this
// package or the migrations package defines, never user input.
func NewSQLiteBackend[T any](db *sql.DB, table string) *SQLiteBackend[T] {
	return &SQLiteBackend[T]{db: db, table: table}
}

const sqliteTimeFormat = time.RFC3339Nano

func (b *SQLiteBackend[T]) Insert(ctx context.Context, entry Entry[T]) error {
	payload, err := wire.EncodeJSON(entry.Item)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload, status, created_at, retry_count, retry_after)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.table),
		entry.ID, string(payload), string(entry.Status),
		entry.CreatedAt.UTC().Format(sqliteTimeFormat),
		entry.RetryCount, nullableTime(entry.RetryAfter),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (b *SQLiteBackend[T]) PeekPending(ctx context.Context, now time.Time, limit int) ([]Entry[T], error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, payload, status, created_at, retry_count, retry_after
		FROM %s
		WHERE status = ? AND (retry_after IS NULL OR retry_after <= ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, b.table), string(StatusPending), now.UTC().Format(sqliteTimeFormat), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry[T], 0, limit)
	for rows.Next() {
		e, err := scanEntry[T](rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry[T any](row rowScanner) (Entry[T], error) {
	var (
		e          Entry[T]
		payload    string
		status     string
		createdAt  string
		retryAfter sql.NullString
	)
	if err := row.Scan(&e.ID, &payload, &status, &createdAt, &e.RetryCount, &retryAfter); err != nil {
		return e, fmt.Errorf("scan outbox entry: %w", err)
	}
	item, err := wire.DecodeJSON[T]([]byte(payload))
	if err != nil {
		return e, err
	}
	e.Item = item
	e.Status = Status(status)
	created, err := time.Parse(sqliteTimeFormat, createdAt)
	if err != nil {
		return e, fmt.Errorf("parse created_at: %w", err)
	}
	e.CreatedAt = created
	if retryAfter.Valid {
		t, err := time.Parse(sqliteTimeFormat, retryAfter.String)
		if err != nil {
			return e, fmt.Errorf("parse retry_after: %w", err)
		}
		e.RetryAfter = t
	}
	return e, nil
}

func (b *SQLiteBackend[T]) MarkSending(ctx context.Context, ids []string) error {
	return b.updateStatus(ctx, ids, StatusSending)
}

func (b *SQLiteBackend[T]) updateStatus(ctx context.Context, ids []string, status Status) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := idPlaceholders(ids)
	args = append([]any{string(status)}, args...)
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = ? WHERE id IN (%s)
	`, b.table, placeholders), args...)
	if err != nil {
		return fmt.Errorf("update outbox status: %w", err)
	}
	return nil
}

func (b *SQLiteBackend[T]) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := idPlaceholders(ids)
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE id IN (%s)
	`, b.table, placeholders), args...)
	if err != nil {
		return fmt.Errorf("ack outbox entries: %w", err)
	}
	return nil
}

func (b *SQLiteBackend[T]) Nack(ctx context.Context, ids []string, now time.Time, backoff func(int) time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin nack transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		var retryCount int
		err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT retry_count FROM %s WHERE id = ?`, b.table), id).Scan(&retryCount)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read retry_count for nack: %w", err)
		}
		retryCount++
		retryAfter := now.Add(backoff(retryCount))
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = ?, retry_count = ?, retry_after = ? WHERE id = ?
		`, b.table), string(StatusPending), retryCount, retryAfter.UTC().Format(sqliteTimeFormat), id)
		if err != nil {
			return fmt.Errorf("update outbox entry on nack: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit nack transaction: %w", err)
	}
	return nil
}

func (b *SQLiteBackend[T]) Depth(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, b.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox entries: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend[T]) Clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, b.table))
	if err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(sqliteTimeFormat)
}

// idPlaceholders builds a "?,?,?" placeholder list and the matching args
// slice for an IN clause. Mirrors the batching idiom the changelog store
// uses for its own IN-clause deletes, minus the 999-parameter chunking
// since outbox drain batches are bounded well under that by MaxPeekLimit.
func idPlaceholders(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
