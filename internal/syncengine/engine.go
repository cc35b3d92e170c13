// Package syncengine implements the push/pull/checkpoint state machine
// that orchestrates a sync cycle: draining the outbox through the
// transport, pulling and applying remote deltas, and reacting to
// unprompted broadcasts (spec §4.G).
package syncengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/hyperengineering/lakesync/internal/applier"
	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/outbox"
	"github.com/hyperengineering/lakesync/internal/schema"
	"github.com/hyperengineering/lakesync/internal/transport"
)

// Mode restricts a sync cycle to one direction, or allows both (spec §6
// configuration: sync_mode).
type Mode string

const (
	ModeFull     Mode = "full"
	ModePushOnly Mode = "pushOnly"
	ModePullOnly Mode = "pullOnly"
)

// DefaultMaxRetries is the push retry ceiling before a queued delta is
// dead-lettered (spec §6: "max_retries (default 10)").
const DefaultMaxRetries = 10

// DefaultPushBatch is the number of outbox entries drained per push
// (spec §4.G.1 step 1).
const DefaultPushBatch = 100

// DefaultPullMaxDeltas bounds a single pull response (spec §4.G.2 step 1).
const DefaultPullMaxDeltas = 1000

// Snapshot is the read-only view of engine state exposed to callers
// (spec §3.10).
type Snapshot struct {
	LastSyncedHLC hlc.Timestamp
	LastSyncTime  *time.Time
	Syncing       bool
}

// PushResult summarizes one push cycle.
type PushResult struct {
	DeadLettered int
}

// Engine owns the monotonic last_synced_hlc watermark and the
// re-entrancy guard that makes concurrent sync_once calls collapse to
// one (spec §5: "sync_once is mutually exclusive with itself").
type Engine struct {
	transport  transport.Transport
	applier    *applier.Applier
	outbox     *outbox.Outbox[model.RowDelta]
	clock      *hlc.Clock
	clientID   string
	schemaSync *schema.SchemaSync

	mode        Mode
	strategy    Strategy
	maxRetries  int
	pushBatch   int
	pullMaxSize int

	events *EventBus

	mu            sync.Mutex
	lastSyncedHLC hlc.Timestamp
	lastSyncTime  *time.Time
	syncing       bool
}

// Option customizes an Engine at construction.
type Option func(*Engine)

func WithMode(m Mode) Option { return func(e *Engine) { e.mode = m } }
func WithStrategy(s Strategy) Option { return func(e *Engine) { e.strategy = s } }
func WithMaxRetries(n int) Option { return func(e *Engine) { e.maxRetries = n } }
func WithPushBatch(n int) Option { return func(e *Engine) { e.pushBatch = n } }
func WithPullMaxDeltas(n int) Option { return func(e *Engine) { e.pullMaxSize = n } }
func WithEventBus(b *EventBus) Option { return func(e *Engine) { e.events = b } }
func WithSchemaSync(s *schema.SchemaSync) Option { return func(e *Engine) { e.schemaSync = s } }

// New builds an Engine. If transport implements transport.Broadcaster,
// New registers HandleBroadcast as its callback so unprompted gateway
// pushes flow straight into the applier.
func New(t transport.Transport, a *applier.Applier, ob *outbox.Outbox[model.RowDelta], clock *hlc.Clock, clientID string, opts ...Option) *Engine {
	e := &Engine{
		transport:   t,
		applier:     a,
		outbox:      ob,
		clock:       clock,
		clientID:    clientID,
		mode:        ModeFull,
		strategy:    PullFirstStrategy{},
		maxRetries:  DefaultMaxRetries,
		pushBatch:   DefaultPushBatch,
		pullMaxSize: DefaultPullMaxDeltas,
		events:      NewEventBus(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if b, ok := t.(transport.Broadcaster); ok {
		b.OnBroadcast(func(resp model.SyncResponse) {
			e.HandleBroadcast(context.Background(), resp)
		})
	}
	return e
}

// Events returns the engine's event bus for Subscribe calls.
func (e *Engine) Events() *EventBus { return e.events }

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{LastSyncedHLC: e.lastSyncedHLC, LastSyncTime: e.lastSyncTime, Syncing: e.syncing}
}

func (e *Engine) advanceCursor(ts hlc.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSyncedHLC = hlc.Max(e.lastSyncedHLC, ts)
	now := time.Now().UTC()
	e.lastSyncTime = &now
}

func (e *Engine) setCursor(ts hlc.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSyncedHLC = ts
	now := time.Now().UTC()
	e.lastSyncTime = &now
}

func (e *Engine) sinceHLC() hlc.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncedHLC
}

// IsFirstSync reports whether the engine has never synced (spec §3.9's
// "zero value denotes never synced").
func (e *Engine) IsFirstSync() bool {
	return e.sinceHLC() == hlc.Zero
}

// applySchemaUpdates runs every update through schemaSync before the
// caller applies any deltas that might depend on the resulting columns.
// A no-op when the engine was built without WithSchemaSync: a deployment
// whose tables are fixed at startup never sends updates, so nothing ever
// calls into a nil schemaSync.
func (e *Engine) applySchemaUpdates(ctx context.Context, updates []model.SchemaUpdate) error {
	if e.schemaSync == nil || len(updates) == 0 {
		return nil
	}
	for _, u := range updates {
		if _, err := e.schemaSync.Synchronise(ctx, u.Table, u.Schema, u.Version); err != nil {
			return err
		}
		e.events.emit(Event{Type: EventSchemaMigrated, Table: u.Table})
	}
	return nil
}

// Push implements spec §4.G.1: drain up to pushBatch entries, dead-letter
// any that exhausted their retry budget, and send the rest.
func (e *Engine) Push(ctx context.Context) (PushResult, error) {
	entries, err := e.outbox.PeekPending(ctx, e.pushBatch)
	if err != nil {
		return PushResult{}, err
	}
	if len(entries) == 0 {
		return PushResult{}, nil
	}

	var live []outbox.Entry[model.RowDelta]
	var dead []string
	for _, entry := range entries {
		if entry.RetryCount >= e.maxRetries {
			dead = append(dead, entry.ID)
		} else {
			live = append(live, entry)
		}
	}

	if len(dead) > 0 {
		if err := e.outbox.Ack(ctx, dead); err != nil {
			return PushResult{}, err
		}
		e.events.emit(Event{Type: EventDeadLettered, Count: len(dead)})
	}

	if len(live) == 0 {
		return PushResult{DeadLettered: len(dead)}, nil
	}

	liveIDs := make([]string, len(live))
	deltas := make([]model.RowDelta, len(live))
	for i, entry := range live {
		liveIDs[i] = entry.ID
		deltas[i] = entry.Item
	}

	if err := e.outbox.MarkSending(ctx, liveIDs); err != nil {
		return PushResult{}, err
	}

	result, err := e.transport.Push(ctx, model.SyncPush{
		ClientID:    e.clientID,
		Deltas:      deltas,
		LastSeenHLC: e.clock.Now(),
	})
	if err != nil {
		if nackErr := e.outbox.Nack(ctx, liveIDs); nackErr != nil {
			return PushResult{}, nackErr
		}
		return PushResult{DeadLettered: len(dead)}, err
	}

	if err := e.outbox.Ack(ctx, liveIDs); err != nil {
		return PushResult{}, err
	}
	e.advanceCursor(result.ServerHLC)
	return PushResult{DeadLettered: len(dead)}, nil
}

// Pull implements spec §4.G.2. Transport failures are swallowed — they
// are expected during intermittent connectivity and simply retried on
// the next cycle — but an applier failure (a local transaction rollback)
// is a real fault and is returned.
func (e *Engine) Pull(ctx context.Context, source string) (int, error) {
	resp, err := e.transport.Pull(ctx, model.SyncPull{
		ClientID:  e.clientID,
		SinceHLC:  e.sinceHLC(),
		MaxDeltas: e.pullMaxSize,
		Source:    source,
	})
	if err != nil {
		return 0, nil
	}
	if err := e.applySchemaUpdates(ctx, resp.SchemaUpdates); err != nil {
		return 0, err
	}
	if len(resp.Deltas) == 0 {
		return 0, nil
	}

	result, err := e.applier.Apply(ctx, resp.Deltas)
	if err != nil {
		return 0, err
	}
	e.advanceCursor(resp.ServerHLC)
	if result.Applied > 0 {
		e.events.emit(Event{Type: EventRemoteDeltasApplied, Count: result.Applied})
	}
	return result.Applied, nil
}

// InitialSync implements spec §4.G.3. It is a no-op when the transport
// lacks checkpoint capability, or when the checkpoint call fails or
// returns nothing to apply — in every such case the caller's subsequent
// incremental pull picks up the slack on the same tick.
func (e *Engine) InitialSync(ctx context.Context) error {
	checkpointer, ok := e.transport.(transport.Checkpointer)
	if !ok {
		return nil
	}
	resp, err := checkpointer.Checkpoint(ctx)
	if err != nil || resp == nil {
		return nil
	}
	if err := e.applySchemaUpdates(ctx, resp.SchemaUpdates); err != nil {
		return err
	}
	if len(resp.Deltas) == 0 {
		return nil
	}

	result, err := e.applier.Apply(ctx, resp.Deltas)
	if err != nil {
		return err
	}
	e.setCursor(resp.SnapshotHLC)
	if result.Applied > 0 {
		e.events.emit(Event{Type: EventRemoteDeltasApplied, Count: result.Applied})
	}
	return nil
}

// HandleBroadcast implements spec §4.G.5: applies an unprompted push and
// advances the cursor to the max of what it already knew and what the
// gateway reported.
func (e *Engine) HandleBroadcast(ctx context.Context, resp model.SyncResponse) error {
	if err := e.applySchemaUpdates(ctx, resp.SchemaUpdates); err != nil {
		return err
	}
	if len(resp.Deltas) == 0 {
		e.advanceCursor(resp.ServerHLC)
		return nil
	}
	result, err := e.applier.Apply(ctx, resp.Deltas)
	if err != nil {
		return err
	}
	e.advanceCursor(resp.ServerHLC)
	if result.Applied > 0 {
		e.events.emit(Event{Type: EventRemoteDeltasApplied, Count: result.Applied})
	}
	return nil
}

// SyncOnce implements spec §4.G.4: a re-entrancy-guarded cycle delegating
// ordering to the configured Strategy. processActions is invoked last in
// every default strategy; the action processor supplies it.
func (e *Engine) SyncOnce(ctx context.Context, processActions func(context.Context) error) error {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	e.events.emit(Event{Type: EventSyncStart})
	err := e.strategy.Run(ctx, e, processActions)
	e.events.emit(Event{Type: EventSyncComplete, Err: err})
	if err != nil && lakeerr.KindOf(err) == "" {
		return lakeerr.Wrap(lakeerr.Apply, "sync_once", err)
	}
	return err
}

// Close flushes any outstanding outbox entries with a final best-effort
// push and disconnects the transport if it holds a persistent connection.
// Both steps run even if the first fails, and any resulting errors are
// combined rather than the caller only seeing whichever happened first.
func (e *Engine) Close(ctx context.Context) error {
	var errs error
	if _, err := e.Push(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c, ok := e.transport.(transport.Connector); ok {
		if err := c.Disconnect(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
