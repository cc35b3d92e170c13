// Package migrations embeds the goose SQL migrations that bootstrap a
// lakesync local store: cursor/meta bookkeeping tables, the two outbox
// tables, and the push-idempotency cache. Synced data tables themselves
// are not migrated here — internal/store creates and additively alters
// those at runtime from the schema.Registry, since their shape is defined
// by the embedding application, not by lakesync itself.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
