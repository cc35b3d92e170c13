package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend implementation, used by tests and
// by callers that don't need the queue to survive a restart (spec §9: a
// durable backend is required for the real client, but the interface is
// deliberately pluggable).
type MemoryBackend[T any] struct {
	mu      sync.Mutex
	entries map[string]Entry[T]
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend[T any]() *MemoryBackend[T] {
	return &MemoryBackend[T]{entries: make(map[string]Entry[T])}
}

func (b *MemoryBackend[T]) Insert(ctx context.Context, entry Entry[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.ID] = entry
	return nil
}

func (b *MemoryBackend[T]) PeekPending(ctx context.Context, now time.Time, limit int) ([]Entry[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ready := make([]Entry[T], 0, len(b.entries))
	for _, e := range b.entries {
		if e.Status != StatusPending {
			continue
		}
		if !e.RetryAfter.IsZero() && e.RetryAfter.After(now) {
			continue
		}
		ready = append(ready, e)
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].ID < ready[j].ID
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (b *MemoryBackend[T]) MarkSending(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		e, ok := b.entries[id]
		if !ok {
			continue
		}
		e.Status = StatusSending
		b.entries[id] = e
	}
	return nil
}

func (b *MemoryBackend[T]) Ack(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.entries, id)
	}
	return nil
}

func (b *MemoryBackend[T]) Nack(ctx context.Context, ids []string, now time.Time, backoff func(int) time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		e, ok := b.entries[id]
		if !ok {
			continue
		}
		e.Status = StatusPending
		e.RetryCount++
		e.RetryAfter = now.Add(backoff(e.RetryCount))
		b.entries[id] = e
	}
	return nil
}

func (b *MemoryBackend[T]) Depth(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries), nil
}

func (b *MemoryBackend[T]) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]Entry[T])
	return nil
}
