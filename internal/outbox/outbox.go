// Package outbox implements the generic durable queue that backs both the
// row-delta push path (spec §3.4) and the action push path (spec §3.6):
// callers enqueue typed items, a drain loop peeks a batch of pending
// entries, marks them sending, and then acks or nacks each one depending on
// whether the remote round trip succeeded.
package outbox

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/lakesync/internal/lakeerr"
)

// Status is an entry's position in the pending/sending lifecycle (spec
// §3.4). A dead-lettered entry has no status of its own: it is acked off
// the queue.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
)

// MaxRetries is a package-level retry budget (spec §4.I). The outbox never
// removes an entry for exceeding a budget; a caller compares RetryCount
// against its own threshold and Acks the entry off the queue. The callers
// in this module (syncengine.Engine and action.Processor) use their own
// DefaultMaxRetries, not this constant.
const MaxRetries = 8

// MaxPeekLimit bounds PeekPending's limit argument (spec §9 Open Question:
// resolved as a hard cap rather than true MAX_SAFE_INT support, since no
// backend can usefully materialize an unbounded result set).
const MaxPeekLimit = 10000

// Entry is one item sitting in the outbox, at whatever stage of its
// lifecycle.
type Entry[T any] struct {
	ID         string
	Item       T
	Status     Status
	CreatedAt  time.Time
	RetryCount int
	RetryAfter time.Time
}

// Backend is the pluggable persistence contract an Outbox drives. It knows
// nothing about retry math or ID generation; Outbox supplies both so every
// backend implementation stays a dumb, swappable store.
type Backend[T any] interface {
	Insert(ctx context.Context, entry Entry[T]) error
	// PeekPending returns up to limit entries with status=pending and
	// retry_after<=now, ordered by created_at ascending (FIFO, spec §4.C).
	PeekPending(ctx context.Context, now time.Time, limit int) ([]Entry[T], error)
	MarkSending(ctx context.Context, ids []string) error
	Ack(ctx context.Context, ids []string) error
	// Nack transitions the given ids back to pending, incrementing
	// retry_count and setting retry_after per backoff.
	Nack(ctx context.Context, ids []string, now time.Time, backoff func(retryCount int) time.Duration) error
	Depth(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Outbox wraps a Backend with ID generation, timestamping, and the
// MaxPeekLimit clamp so every backend can stay free of that bookkeeping.
type Outbox[T any] struct {
	backend Backend[T]

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New wraps backend in an Outbox. IDs are monotonically increasing ULIDs,
// so lexicographic order on Entry.ID matches insertion order even within
// the same millisecond — a property the SQLite backend relies on to order
// PeekPending by ID instead of a separate auto-increment column.
func New[T any](backend Backend[T]) *Outbox[T] {
	return &Outbox[T]{
		backend: backend,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (o *Outbox[T]) nextID(now time.Time) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), o.entropy).String()
}

// Push enqueues item as a new pending entry and returns its assigned ID.
func (o *Outbox[T]) Push(ctx context.Context, item T) (string, error) {
	now := time.Now().UTC()
	entry := Entry[T]{
		ID:        o.nextID(now),
		Item:      item,
		Status:    StatusPending,
		CreatedAt: now,
	}
	if err := o.backend.Insert(ctx, entry); err != nil {
		return "", lakeerr.Wrap(lakeerr.Queue, "outbox insert", err)
	}
	return entry.ID, nil
}

// PeekPending returns up to limit ready-to-send entries, FIFO by
// created_at. limit is clamped to MaxPeekLimit; a non-positive limit
// defaults to MaxPeekLimit.
func (o *Outbox[T]) PeekPending(ctx context.Context, limit int) ([]Entry[T], error) {
	if limit <= 0 || limit > MaxPeekLimit {
		limit = MaxPeekLimit
	}
	entries, err := o.backend.PeekPending(ctx, time.Now().UTC(), limit)
	if err != nil {
		return nil, lakeerr.Wrap(lakeerr.Queue, "outbox peek", err)
	}
	return entries, nil
}

// MarkSending transitions ids from pending to sending so a concurrent
// drain loop won't double-send them.
func (o *Outbox[T]) MarkSending(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := o.backend.MarkSending(ctx, ids); err != nil {
		return lakeerr.Wrap(lakeerr.Queue, "outbox mark sending", err)
	}
	return nil
}

// Ack removes ids from the outbox after a successful round trip.
func (o *Outbox[T]) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := o.backend.Ack(ctx, ids); err != nil {
		return lakeerr.Wrap(lakeerr.Queue, "outbox ack", err)
	}
	return nil
}

// Nack returns ids to pending after a failed round trip, bumping
// retry_count and scheduling retry_after per the exponential backoff
// formula in spec §8 property 5.
func (o *Outbox[T]) Nack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := o.backend.Nack(ctx, ids, time.Now().UTC(), backoffForRetryCount); err != nil {
		return lakeerr.Wrap(lakeerr.Queue, "outbox nack", err)
	}
	return nil
}

// Depth returns the number of entries currently in the outbox, pending or
// sending (spec §8 property 3).
func (o *Outbox[T]) Depth(ctx context.Context) (int, error) {
	n, err := o.backend.Depth(ctx)
	if err != nil {
		return 0, lakeerr.Wrap(lakeerr.Queue, "outbox depth", err)
	}
	return n, nil
}

// Clear empties the outbox. Used by tests and by the CLI's queue-drain
// escape hatch.
func (o *Outbox[T]) Clear(ctx context.Context) error {
	if err := o.backend.Clear(ctx); err != nil {
		return lakeerr.Wrap(lakeerr.Queue, "outbox clear", err)
	}
	return nil
}
