package syncengine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/lakesync/internal/applier"
	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/outbox"
	"github.com/hyperengineering/lakesync/internal/resolver"
	"github.com/hyperengineering/lakesync/internal/schema"
	"github.com/hyperengineering/lakesync/internal/store"
	"github.com/hyperengineering/lakesync/internal/transport"
)

type fakeTransport struct {
	pushResult model.SyncPushResult
	pushErr    error
	pushCalls  int

	pullResult model.SyncResponse
	pullErr    error
	pullCalls  int

	checkpoint    *model.CheckpointResponse
	checkpointErr error

	disconnectCalls int
	disconnectErr   error
}

func (f *fakeTransport) Push(ctx context.Context, req model.SyncPush) (model.SyncPushResult, error) {
	f.pushCalls++
	return f.pushResult, f.pushErr
}

func (f *fakeTransport) Pull(ctx context.Context, req model.SyncPull) (model.SyncResponse, error) {
	f.pullCalls++
	return f.pullResult, f.pullErr
}

func (f *fakeTransport) Checkpoint(ctx context.Context) (*model.CheckpointResponse, error) {
	return f.checkpoint, f.checkpointErr
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.disconnectCalls++
	return f.disconnectErr
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }

var _ transport.Transport = (*fakeTransport)(nil)
var _ transport.Checkpointer = (*fakeTransport)(nil)
var _ transport.Connector = (*fakeTransport)(nil)

func todosSchema() model.TableSchema {
	return model.TableSchema{Table: "todos", Columns: []model.ColumnDef{{Name: "title", Type: model.ColumnString}}}
}

func newTestEngine(t *testing.T, tr *fakeTransport, opts ...Option) (*Engine, *outbox.Outbox[model.RowDelta], store.LocalStore) {
	t.Helper()
	reg := schema.NewRegistry()
	reg.Register(todosSchema())
	s, err := store.NewSQLiteLocalStore(filepath.Join(t.TempDir(), "test.db"), reg)
	if err != nil {
		t.Fatalf("NewSQLiteLocalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureTable(context.Background(), todosSchema()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	ob := outbox.New[model.RowDelta](outbox.NewMemoryBackend[model.RowDelta]())
	a := applier.New(s, resolver.LWW{}, ob, reg)
	clock := hlc.NewSystemClock()

	e := New(tr, a, ob, clock, "client-a", opts...)
	return e, ob, s
}

func TestEngine_Push_SendsLiveEntriesAndAcksOnSuccess(t *testing.T) {
	tr := &fakeTransport{pushResult: model.SyncPushResult{ServerHLC: hlc.Timestamp(500), Accepted: 1}}
	e, ob, _ := newTestEngine(t, tr)
	ctx := context.Background()

	if _, err := ob.Push(ctx, model.RowDelta{Op: model.OpInsert, Table: "todos", RowID: "row-1"}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	result, err := e.Push(ctx)
	if err != nil {
		t.Fatalf("engine Push: %v", err)
	}
	if result.DeadLettered != 0 {
		t.Errorf("DeadLettered = %d, want 0", result.DeadLettered)
	}
	if tr.pushCalls != 1 {
		t.Errorf("transport.Push called %d times, want 1", tr.pushCalls)
	}
	entries, err := ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected outbox empty after successful push, got %d", len(entries))
	}
	if e.Snapshot().LastSyncedHLC != hlc.Timestamp(500) {
		t.Errorf("LastSyncedHLC = %v, want 500", e.Snapshot().LastSyncedHLC)
	}
}

func TestEngine_Push_NacksOnTransportFailure(t *testing.T) {
	tr := &fakeTransport{pushErr: errors.New("network down")}
	e, ob, _ := newTestEngine(t, tr)
	ctx := context.Background()

	if _, err := ob.Push(ctx, model.RowDelta{Op: model.OpInsert, Table: "todos", RowID: "row-1"}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	_, err := e.Push(ctx)
	if err == nil {
		t.Fatal("expected Push to surface the transport error")
	}

	depth, err := ob.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected the nacked entry to remain queued, got depth %d", depth)
	}
	if e.Snapshot().LastSyncedHLC != hlc.Zero {
		t.Errorf("expected cursor unchanged on failure, got %v", e.Snapshot().LastSyncedHLC)
	}
}

func TestEngine_Push_DeadLettersEntriesOverRetryBudget(t *testing.T) {
	tr := &fakeTransport{pushResult: model.SyncPushResult{ServerHLC: hlc.Timestamp(1)}}
	backend := outbox.NewMemoryBackend[model.RowDelta]()
	ob := outbox.New[model.RowDelta](backend)
	// Push never touches the applier, so none is needed here.
	e := New(tr, nil, ob, hlc.NewSystemClock(), "client-a", WithMaxRetries(2))
	ctx := context.Background()

	id, err := ob.Push(ctx, model.RowDelta{Op: model.OpInsert, Table: "todos", RowID: "row-1"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	_ = id

	var deadEvents int
	e.Events().Subscribe(func(ev Event) {
		if ev.Type == EventDeadLettered {
			deadEvents += ev.Count
		}
	})

	// Nacked through the backend with a zero backoff, so the entry is
	// visible again at once instead of after each cycle's backoff wait.
	for i := 0; i < 3; i++ {
		if err := backend.Nack(ctx, []string{id}, time.Now().UTC(), func(int) time.Duration { return 0 }); err != nil {
			t.Fatalf("Nack: %v", err)
		}
	}

	result, err := e.Push(ctx)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if result.DeadLettered != 1 {
		t.Errorf("DeadLettered = %d, want 1", result.DeadLettered)
	}
	if deadEvents != 1 {
		t.Errorf("dead_lettered event count = %d, want 1", deadEvents)
	}
}

func TestEngine_Pull_AppliesDeltasAndAdvancesCursor(t *testing.T) {
	tr := &fakeTransport{pullResult: model.SyncResponse{
		Deltas:    []model.RowDelta{{Op: model.OpInsert, Table: "todos", RowID: "row-1", Columns: []model.ColumnDelta{{Column: "title", Value: "x"}}, HLC: hlc.Timestamp(10), ClientID: "remote"}},
		ServerHLC: hlc.Timestamp(10),
	}}
	e, _, s := newTestEngine(t, tr)
	ctx := context.Background()

	applied, err := e.Pull(ctx, "")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	row, ok, err := s.GetRow(ctx, "todos", "row-1")
	if err != nil || !ok {
		t.Fatalf("GetRow: ok=%v err=%v", ok, err)
	}
	if row["title"] != "x" {
		t.Errorf("title = %v, want x", row["title"])
	}
	if e.Snapshot().LastSyncedHLC != hlc.Timestamp(10) {
		t.Errorf("LastSyncedHLC = %v, want 10", e.Snapshot().LastSyncedHLC)
	}
}

func TestEngine_Pull_AppliesSchemaUpdateBeforeDeltas(t *testing.T) {
	reg := schema.NewRegistry()
	reg.Register(todosSchema())
	s, err := store.NewSQLiteLocalStore(filepath.Join(t.TempDir(), "test.db"), reg)
	if err != nil {
		t.Fatalf("NewSQLiteLocalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureTable(context.Background(), todosSchema()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	ob := outbox.New[model.RowDelta](outbox.NewMemoryBackend[model.RowDelta]())
	a := applier.New(s, resolver.LWW{}, ob, reg)
	clock := hlc.NewSystemClock()
	sync := schema.NewSchemaSync(reg, s)

	serverSchema := model.TableSchema{Table: "todos", Columns: []model.ColumnDef{
		{Name: "title", Type: model.ColumnString},
		{Name: "priority", Type: model.ColumnNumber},
	}}
	tr := &fakeTransport{pullResult: model.SyncResponse{
		Deltas:        []model.RowDelta{{Op: model.OpInsert, Table: "todos", RowID: "row-1", Columns: []model.ColumnDelta{{Column: "priority", Value: 3.0}}, HLC: hlc.Timestamp(5)}},
		ServerHLC:     hlc.Timestamp(5),
		SchemaUpdates: []model.SchemaUpdate{{Table: "todos", Schema: serverSchema, Version: 5}},
	}}
	e := New(tr, a, ob, clock, "client-a", WithSchemaSync(sync))
	ctx := context.Background()

	var migrated []string
	e.Events().Subscribe(func(ev Event) {
		if ev.Type == EventSchemaMigrated {
			migrated = append(migrated, ev.Table)
		}
	})

	if _, err := e.Pull(ctx, ""); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	row, ok, err := s.GetRow(ctx, "todos", "row-1")
	if err != nil || !ok {
		t.Fatalf("GetRow: ok=%v err=%v", ok, err)
	}
	if row["priority"] != float64(3) {
		t.Errorf("priority = %v, want 3", row["priority"])
	}

	version, err := sync.VersionOf(ctx, "todos")
	if err != nil {
		t.Fatalf("VersionOf: %v", err)
	}
	if version != 5 {
		t.Errorf("schema_version after pull-driven migration = %d, want 5", version)
	}
	if len(migrated) != 1 || migrated[0] != "todos" {
		t.Errorf("expected one schema_migrated event for todos, got %+v", migrated)
	}
}

func TestEngine_Pull_SwallowsTransportFailure(t *testing.T) {
	tr := &fakeTransport{pullErr: errors.New("timeout")}
	e, _, _ := newTestEngine(t, tr)

	applied, err := e.Pull(context.Background(), "")
	if err != nil {
		t.Fatalf("expected Pull to swallow the transport error, got %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0", applied)
	}
}

func TestEngine_InitialSync_NoopWithoutCheckpointCapability(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeTransport{})
	if err := e.InitialSync(context.Background()); err != nil {
		t.Fatalf("InitialSync: %v", err)
	}
}

func TestEngine_InitialSync_AppliesSnapshotAndSetsCursor(t *testing.T) {
	tr := &fakeTransport{checkpoint: &model.CheckpointResponse{
		Deltas:      []model.RowDelta{{Op: model.OpInsert, Table: "todos", RowID: "row-1", Columns: []model.ColumnDelta{{Column: "title", Value: "snap"}}, HLC: hlc.Timestamp(7)}},
		SnapshotHLC: hlc.Timestamp(7),
	}}
	e, _, s := newTestEngine(t, tr)
	ctx := context.Background()

	if err := e.InitialSync(ctx); err != nil {
		t.Fatalf("InitialSync: %v", err)
	}
	row, ok, err := s.GetRow(ctx, "todos", "row-1")
	if err != nil || !ok {
		t.Fatalf("GetRow: ok=%v err=%v", ok, err)
	}
	if row["title"] != "snap" {
		t.Errorf("title = %v, want snap", row["title"])
	}
	if e.Snapshot().LastSyncedHLC != hlc.Timestamp(7) {
		t.Errorf("LastSyncedHLC = %v, want 7", e.Snapshot().LastSyncedHLC)
	}
}

func TestEngine_SyncOnce_ReentrancyGuardCollapsesConcurrentCalls(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeTransport{pushResult: model.SyncPushResult{}, pullResult: model.SyncResponse{}})
	e.syncing = true

	called := false
	err := e.SyncOnce(context.Background(), func(ctx context.Context) error { called = true; return nil })
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if called {
		t.Fatal("expected SyncOnce to no-op while already syncing")
	}
}

func TestEngine_SyncOnce_RunsStrategyAndProcessActions(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeTransport{pushResult: model.SyncPushResult{}, pullResult: model.SyncResponse{}})

	var events []EventType
	e.Events().Subscribe(func(ev Event) { events = append(events, ev.Type) })

	actionsCalled := false
	err := e.SyncOnce(context.Background(), func(ctx context.Context) error { actionsCalled = true; return nil })
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if !actionsCalled {
		t.Fatal("expected processActions to be invoked")
	}
	if len(events) != 2 || events[0] != EventSyncStart || events[1] != EventSyncComplete {
		t.Errorf("unexpected event sequence: %+v", events)
	}
}

func TestEngine_HandleBroadcast_AppliesAndAdvancesCursor(t *testing.T) {
	e, _, s := newTestEngine(t, &fakeTransport{})
	ctx := context.Background()

	err := e.HandleBroadcast(ctx, model.SyncResponse{
		Deltas:    []model.RowDelta{{Op: model.OpInsert, Table: "todos", RowID: "row-1", Columns: []model.ColumnDelta{{Column: "title", Value: "pushed"}}, HLC: hlc.Timestamp(20)}},
		ServerHLC: hlc.Timestamp(20),
	})
	if err != nil {
		t.Fatalf("HandleBroadcast: %v", err)
	}
	row, ok, err := s.GetRow(ctx, "todos", "row-1")
	if err != nil || !ok {
		t.Fatalf("GetRow: ok=%v err=%v", ok, err)
	}
	if row["title"] != "pushed" {
		t.Errorf("title = %v, want pushed", row["title"])
	}
	if e.Snapshot().LastSyncedHLC != hlc.Timestamp(20) {
		t.Errorf("LastSyncedHLC = %v, want 20", e.Snapshot().LastSyncedHLC)
	}
}

func TestEngine_Close_FlushesOutboxAndDisconnects(t *testing.T) {
	tr := &fakeTransport{pushResult: model.SyncPushResult{ServerHLC: hlc.Timestamp(1)}}
	e, ob, _ := newTestEngine(t, tr)
	ctx := context.Background()

	if _, err := ob.Push(ctx, model.RowDelta{Op: model.OpInsert, Table: "todos", RowID: "row-1"}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.pushCalls != 1 {
		t.Errorf("push calls = %d, want 1", tr.pushCalls)
	}
	if tr.disconnectCalls != 1 {
		t.Errorf("disconnect calls = %d, want 1", tr.disconnectCalls)
	}
}

func TestEngine_Close_CombinesPushAndDisconnectErrors(t *testing.T) {
	tr := &fakeTransport{pushErr: errors.New("push failed"), disconnectErr: errors.New("disconnect failed")}
	e, ob, _ := newTestEngine(t, tr)
	ctx := context.Background()

	if _, err := ob.Push(ctx, model.RowDelta{Op: model.OpInsert, Table: "todos", RowID: "row-1"}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	err := e.Close(ctx)
	if err == nil {
		t.Fatal("expected Close to surface both errors")
	}
	if !strings.Contains(err.Error(), "push failed") || !strings.Contains(err.Error(), "disconnect failed") {
		t.Fatalf("expected combined error to mention both failures, got: %v", err)
	}
}
