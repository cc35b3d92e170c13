// Package lakesync is the public facade a host application embeds: it
// wires the local store, outbox, applier, sync engine, scheduler, and
// action processor described in internal/ behind one Client.
package lakesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/hyperengineering/lakesync/internal/action"
	"github.com/hyperengineering/lakesync/internal/applier"
	"github.com/hyperengineering/lakesync/internal/config"
	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/outbox"
	"github.com/hyperengineering/lakesync/internal/resolver"
	"github.com/hyperengineering/lakesync/internal/schema"
	"github.com/hyperengineering/lakesync/internal/scheduler"
	"github.com/hyperengineering/lakesync/internal/store"
	"github.com/hyperengineering/lakesync/internal/syncengine"
	"github.com/hyperengineering/lakesync/internal/transport"
	"github.com/hyperengineering/lakesync/internal/transport/httptransport"
	"github.com/hyperengineering/lakesync/internal/transport/wstransport"
)

// Client is the embeddable sync client: a local store synchronized against
// a gateway over whichever transport the configuration names, kept warm
// by a background scheduler while the process is alive.
type Client struct {
	cfg          *config.Config
	store        *store.SQLiteLocalStore
	rowOutbox    *outbox.Outbox[model.RowDelta]
	actionOutbox *outbox.Outbox[model.Action]
	transport    transport.Transport
	engine       *syncengine.Engine
	actions      *action.Processor
	online       *scheduler.OnlineManager
	sched        *scheduler.Scheduler

	mu     sync.Mutex
	closed bool
}

// New builds a Client from cfg. It opens (or creates) the local store,
// registers every table cfg.Schema declares, and dials no connection. The
// HTTP transport connects per request. Neither New nor Start calls Connect
// on a persistent (wstransport) transport, so its requests fail with a
// transport error until it is connected.
func New(cfg *config.Config) (*Client, error) {
	registry, err := cfg.ToRegistry()
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Database.Path
	if cfg.Sync.Backend == "memory" {
		dbPath = ":memory:"
	}
	st, err := store.NewSQLiteLocalStore(dbPath, registry)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	ctx := context.Background()
	for _, table := range registry.Tables() {
		ts, _ := registry.Get(table)
		if err := st.EnsureTable(ctx, ts); err != nil {
			st.Close()
			return nil, fmt.Errorf("ensuring table %s: %w", table, err)
		}
	}

	rowBackend, actionBackend := buildOutboxBackends(cfg, st)
	rowOutbox := outbox.New[model.RowDelta](rowBackend)
	actionOutbox := outbox.New[model.Action](actionBackend)

	tr, err := buildTransport(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	clock := hlc.NewSystemClock()
	app := applier.New(st, resolver.LWW{}, rowOutbox, registry)

	events := syncengine.NewEventBus()
	var strategy syncengine.Strategy
	if cfg.Sync.Strategy == "push-first" {
		strategy = syncengine.PushFirstStrategy{}
	} else {
		strategy = syncengine.PullFirstStrategy{}
	}

	schemaSync := schema.NewSchemaSync(registry, st)
	engine := syncengine.New(tr, app, rowOutbox, clock, cfg.Client.ID,
		syncengine.WithMode(syncengine.Mode(cfg.Sync.Mode)),
		syncengine.WithStrategy(strategy),
		syncengine.WithMaxRetries(cfg.Sync.MaxRetries),
		syncengine.WithEventBus(events),
		syncengine.WithSchemaSync(schemaSync),
	)

	actions := action.New(actionOutbox, clock, cfg.Client.ID,
		action.WithMaxRetries(cfg.Sync.MaxActionRetries),
		action.WithEvents(events),
	)

	online := scheduler.NewOnlineManager()

	c := &Client{
		cfg:          cfg,
		store:        st,
		rowOutbox:    rowOutbox,
		actionOutbox: actionOutbox,
		transport:    tr,
		engine:       engine,
		actions:      actions,
		online:       online,
	}
	c.sched = scheduler.New(c.runOnce,
		scheduler.WithInterval(time.Duration(cfg.Sync.AutoSyncInterval)),
		scheduler.WithOnlineManager(online),
	)
	return c, nil
}

// buildOutboxBackends constructs persistent or in-memory backends for both
// outbox item types depending on cfg.Sync.Backend, sharing st's *sql.DB
// connection pool in the persistent case.
func buildOutboxBackends(cfg *config.Config, st *store.SQLiteLocalStore) (outbox.Backend[model.RowDelta], outbox.Backend[model.Action]) {
	if cfg.Sync.Backend == "memory" {
		return outbox.NewMemoryBackend[model.RowDelta](), outbox.NewMemoryBackend[model.Action]()
	}
	return outbox.NewSQLiteBackend[model.RowDelta](st.DB(), outbox.TableRowDeltaOutbox),
		outbox.NewSQLiteBackend[model.Action](st.DB(), outbox.TableActionOutbox)
}

// buildTransport picks httptransport, wstransport, or wstransport with an
// httptransport checkpoint fallback, based on which gateway addresses cfg
// supplies (spec §4.F: a deployment MAY offer either or both).
func buildTransport(cfg *config.Config) (transport.Transport, error) {
	tokenFn := func(ctx context.Context) (string, error) { return cfg.Gateway.Token, nil }

	var httpClient *httptransport.Client
	if cfg.Gateway.BaseURL != "" {
		httpClient = httptransport.New(cfg.Gateway.BaseURL, cfg.Gateway.ID, tokenFn)
	}

	switch {
	case cfg.Gateway.WSBase != "" && httpClient != nil:
		return wstransport.New(cfg.Gateway.WSBase, cfg.Gateway.ID, tokenFn, wstransport.WithCheckpointFallback(httpClient)), nil
	case cfg.Gateway.WSBase != "":
		return wstransport.New(cfg.Gateway.WSBase, cfg.Gateway.ID, tokenFn), nil
	case httpClient != nil:
		return httpClient, nil
	default:
		return nil, errors.New("lakesync: no gateway address configured")
	}
}

// Engine exposes the underlying sync engine, e.g. for Events() subscriptions.
func (c *Client) Engine() *syncengine.Engine { return c.engine }

// Outbox exposes the row-delta outbox a host application writes to after
// every local mutation (spec §4.D's capture step).
func (c *Client) Outbox() *outbox.Outbox[model.RowDelta] { return c.rowOutbox }

// EnqueueAction submits a remote side-effect through the action channel
// (spec §4.I).
func (c *Client) EnqueueAction(ctx context.Context, e action.Enqueue) (string, error) {
	return c.actions.Enqueue(ctx, e)
}

// SetOnline reports connectivity changes to the scheduler (spec §4.H). A
// false->true transition triggers an immediate sync.
func (c *Client) SetOnline(online bool) { c.online.SetOnline(online) }

// Online reports the connectivity state last set via SetOnline.
func (c *Client) Online() bool { return c.online.Online() }

// Start begins the background scheduler, which periodically runs a full
// sync cycle and reacts to SetOnline(true) transitions.
func (c *Client) Start(ctx context.Context) { c.sched.Start(ctx) }

// SyncNow forces an immediate sync cycle outside the scheduler's own
// cadence, e.g. in response to a foreground app resume.
func (c *Client) SyncNow() { c.sched.TriggerForeground() }

// SyncOnce runs a single synchronous sync cycle and waits for it to
// finish, for callers (notably cmd/lakesync-cli's "sync" subcommand) that
// need the result of this specific cycle rather than fire-and-forget
// scheduling.
func (c *Client) SyncOnce(ctx context.Context) error { return c.runOnce(ctx) }

// Snapshot returns the sync engine's current state (spec §3.10).
func (c *Client) Snapshot() syncengine.Snapshot { return c.engine.Snapshot() }

// QueueDepth reports how many row-delta entries are still pending in the
// outbox.
func (c *Client) QueueDepth(ctx context.Context) (int, error) {
	return c.rowOutbox.Depth(ctx)
}

// ActionQueueDepth reports how many action entries are still pending.
func (c *Client) ActionQueueDepth(ctx context.Context) (int, error) {
	return c.actionOutbox.Depth(ctx)
}

// DrainQueue clears every pending row-delta entry without sending it, the
// CLI's "queue drain" escape hatch for a poisoned entry that keeps
// exhausting its retries.
func (c *Client) DrainQueue(ctx context.Context) error {
	return c.rowOutbox.Clear(ctx)
}

func (c *Client) runOnce(ctx context.Context) error {
	return c.engine.SyncOnce(ctx, func(ctx context.Context) error {
		return c.actions.Process(ctx, c.transport)
	})
}

// Close stops the scheduler, flushes the outbox, disconnects the
// transport, and closes the local store. Safe to call once; a second call
// is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.sched.Stop()

	var errs error
	if err := c.engine.Close(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := c.store.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Registry returns the schema registry built from the client's configured
// tables, for callers (notably cmd/lakesync-cli) that need read access to
// table/column definitions without reaching into internal/.
func (c *Client) Registry() (*schema.Registry, error) { return c.cfg.ToRegistry() }
