// Package store is the opaque local SQL engine lakesync reads and writes
// synced rows through (spec §1, §4.D). It knows nothing about deltas,
// conflict resolution, or transport; it exposes row CRUD, a cursor table
// per synced table, and a transactional seam (WithTx) the delta tracker
// and applier run their row writes through. Outbox enqueues and acks
// happen outside that transaction, after it commits.
package store

import (
	"context"
	"database/sql"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/model"
)

// RowIDColumn is the implicit primary key every synced table carries
// alongside its declared columns (spec §3.8).
const RowIDColumn = "_row_id"

// Tx is the subset of *sql.Tx the store exposes inside WithTx, letting a
// caller (the delta tracker, the applier) issue its own statements
// against that transaction.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LocalStore is the row-level storage contract lakesync's components are
// built against. SQLiteLocalStore is the reference implementation; any
// embedding application may supply its own as long as it honors this
// contract.
type LocalStore interface {
	// UpsertRow writes row with the given columns, creating it if absent.
	UpsertRow(ctx context.Context, table, rowID string, columns map[string]any) error
	// DeleteRow removes a row. It is not an error to delete a row that is
	// already absent (idempotent, matching delta replay semantics).
	DeleteRow(ctx context.Context, table, rowID string) error
	// GetRow returns a row's current columns. ok is false if the row does
	// not exist (including if it was previously deleted).
	GetRow(ctx context.Context, table, rowID string) (columns map[string]any, ok bool, err error)

	// EnsureTable creates table if it doesn't exist, or additively adds any
	// columns in s not already present (spec's additive-only migration
	// rule). It never removes or retypes an existing column.
	EnsureTable(ctx context.Context, s model.TableSchema) error

	// Cursor returns the last-applied HLC for table, or hlc.Zero if the
	// table has never been synced (spec §3.9).
	Cursor(ctx context.Context, table string) (hlc.Timestamp, error)
	// SetCursor advances table's cursor. Callers must never move a cursor
	// backward; the store does not itself enforce this since only the
	// applier ever calls it, inside its own invariant-checked apply loop.
	SetCursor(ctx context.Context, table string, ts hlc.Timestamp) error

	// GetSchemaVersion returns table's locally-persisted schema_version,
	// defaulting to 1 for a table that has never gone through a schema
	// synchronisation (spec §3.8).
	GetSchemaVersion(ctx context.Context, table string) (int, error)
	// SetSchemaVersion persists table's schema_version, possibly jumping
	// past intermediate versions (spec §6, §8 scenario S5).
	SetSchemaVersion(ctx context.Context, table string, version int) error

	// WithTx runs fn inside a single transaction, committing on success and
	// rolling back on error or panic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// DB exposes the underlying *sql.DB so callers (e.g. an
	// outbox.SQLiteBackend sharing this store's database) can use the same
	// connection pool. Such a backend runs its own statements, not
	// statements inside WithTx's transaction.
	DB() *sql.DB

	Close() error
}

// IdempotencyCache records and looks up previously-processed push
// responses so a retried SyncPush with the same push_id never double
// applies (spec §4.D).
type IdempotencyCache interface {
	CheckPushIdempotency(ctx context.Context, pushID string) (response []byte, found bool, err error)
	RecordPushIdempotency(ctx context.Context, pushID, clientID string, response []byte, ttlSeconds int64) error
}
