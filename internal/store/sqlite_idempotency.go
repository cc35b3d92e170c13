package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hyperengineering/lakesync/internal/lakeerr"
)

// CheckPushIdempotency looks up a previously recorded push response. found
// is false both when pushID was never recorded and when its entry expired
// (spec §4.D push replay semantics).
func (s *SQLiteLocalStore) CheckPushIdempotency(ctx context.Context, pushID string) ([]byte, bool, error) {
	var response, expiresAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT response, expires_at FROM push_idempotency WHERE push_id = ?
	`, pushID).Scan(&response, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, lakeerr.Wrap(lakeerr.DB, "check push idempotency", err)
	}

	expires, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, false, lakeerr.Wrap(lakeerr.DB, "parse push_idempotency.expires_at", err)
	}
	if time.Now().UTC().After(expires) {
		return nil, false, nil
	}
	return []byte(response), true, nil
}

// RecordPushIdempotency remembers pushID's response for ttlSeconds so a
// retried push with the same push_id replays the cached response instead
// of re-applying.
func (s *SQLiteLocalStore) RecordPushIdempotency(ctx context.Context, pushID, clientID string, response []byte, ttlSeconds int64) error {
	expiresAt := time.Now().UTC().Add(time.Duration(ttlSeconds) * time.Second)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_idempotency (push_id, client_id, response, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(push_id) DO UPDATE SET client_id = excluded.client_id, response = excluded.response, expires_at = excluded.expires_at
	`, pushID, clientID, string(response), expiresAt.Format(time.RFC3339Nano))
	if err != nil {
		return lakeerr.Wrap(lakeerr.DB, "record push idempotency", err)
	}
	return nil
}

// CleanExpiredIdempotency removes expired push_idempotency rows, returning
// the count removed. Callers may run this periodically; lakesync itself
// does not schedule it.
func (s *SQLiteLocalStore) CleanExpiredIdempotency(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM push_idempotency WHERE expires_at < ?
	`, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, lakeerr.Wrap(lakeerr.DB, "clean expired idempotency", err)
	}
	return result.RowsAffected()
}

// GetMeta reads a key from the _lakesync_meta bookkeeping table.
func (s *SQLiteLocalStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM _lakesync_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, lakeerr.Wrap(lakeerr.DB, "get meta "+key, err)
	}
	return value, true, nil
}

// SetMeta writes a key to the _lakesync_meta bookkeeping table.
func (s *SQLiteLocalStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _lakesync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return lakeerr.Wrap(lakeerr.DB, "set meta "+key, err)
	}
	return nil
}
