package outbox

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

const testOutboxDDL = `
CREATE TABLE row_delta_outbox (
	id          TEXT PRIMARY KEY,
	payload     TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	retry_after TEXT
)`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testOutboxDDL); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

type payload struct {
	Table string `json:"table"`
	RowID string `json:"row_id"`
}

func TestSQLiteBackend_PushPeekAck(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ob := New[payload](NewSQLiteBackend[payload](db, TableRowDeltaOutbox))

	id, err := ob.Push(ctx, payload{Table: "todos", RowID: "r1"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].Item.RowID != "r1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	if err := ob.MarkSending(ctx, []string{id}); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	entries, err = ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no pending entries while sending, got %+v", entries)
	}

	if err := ob.Ack(ctx, []string{id}); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	depth, err := ob.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected depth 0 after ack, got %d", depth)
	}
}

func TestSQLiteBackend_NackIncrementsRetryCountAndSchedules(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ob := New[payload](NewSQLiteBackend[payload](db, TableRowDeltaOutbox))

	id, err := ob.Push(ctx, payload{Table: "todos", RowID: "r1"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := ob.MarkSending(ctx, []string{id}); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	if err := ob.Nack(ctx, []string{id}); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	// The entry must still exist (nack never drops work) but is hidden from
	// peek until its backoff window elapses.
	depth, err := ob.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected depth 1 after nack, got %d", depth)
	}
	entries, err := ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected entry hidden during backoff window, got %+v", entries)
	}

	var retryCount int
	if err := db.QueryRow(`SELECT retry_count FROM row_delta_outbox WHERE id = ?`, id).Scan(&retryCount); err != nil {
		t.Fatalf("query retry_count: %v", err)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1 after one nack, got %d", retryCount)
	}
}

func TestSQLiteBackend_PeekOrdering_FIFObyCreatedAt(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ob := New[payload](NewSQLiteBackend[payload](db, TableRowDeltaOutbox))

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := ob.Push(ctx, payload{Table: "t", RowID: string(rune('a' + i))})
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		ids = append(ids, id)
	}

	entries, err := ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.ID != ids[i] {
			t.Fatalf("entry %d out of order: got %s want %s", i, e.ID, ids[i])
		}
	}
}

func TestSQLiteBackend_Clear(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ob := New[payload](NewSQLiteBackend[payload](db, TableRowDeltaOutbox))
	for i := 0; i < 3; i++ {
		if _, err := ob.Push(ctx, payload{Table: "t", RowID: "r"}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if err := ob.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	depth, err := ob.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected depth 0 after Clear, got %d", depth)
	}
}
