package lakesync

import (
	"context"
	"testing"

	"github.com/hyperengineering/lakesync/internal/action"
	"github.com/hyperengineering/lakesync/internal/config"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/transport/httptransport/testutil"
)

func testConfig(gatewayURL string) *config.Config {
	cfg := &config.Config{
		Client:  config.ClientConfig{ID: "client-a"},
		Gateway: config.GatewayConfig{ID: "gw-1", BaseURL: gatewayURL, Token: "secret"},
		Sync: config.SyncConfig{
			MaxRetries:       10,
			MaxActionRetries: 5,
			Mode:             "full",
			Strategy:         "pull-first",
			Backend:          "memory",
		},
		Schema: []config.TableSchema{
			{Table: "todos", Columns: []config.Column{
				{Name: "title", Type: "string"},
				{Name: "completed", Type: "boolean"},
			}},
		},
	}
	return cfg
}

func TestNew_BuildsAndRegistersConfiguredTables(t *testing.T) {
	gw := testutil.New("secret")
	srv := testutil.NewServer(gw)
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(context.Background())

	reg, err := c.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if _, ok := reg.Get("todos"); !ok {
		t.Fatal("expected todos table to be registered")
	}
}

func TestClient_SyncOnce_PushesQueuedDeltaToGateway(t *testing.T) {
	gw := testutil.New("secret")
	srv := testutil.NewServer(gw)
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(context.Background())

	ctx := context.Background()
	if _, err := c.Outbox().Push(ctx, model.RowDelta{
		Op:       model.OpInsert,
		Table:    "todos",
		RowID:    "row-1",
		Columns:  []model.ColumnDelta{{Column: "title", Value: "buy milk"}},
		ClientID: "client-a",
		DeltaID:  "delta-1",
	}); err != nil {
		t.Fatalf("Outbox().Push: %v", err)
	}

	if depth, err := c.QueueDepth(ctx); err != nil || depth != 1 {
		t.Fatalf("QueueDepth = %d, %v, want 1, nil", depth, err)
	}

	if err := c.SyncOnce(ctx); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	if depth, err := c.QueueDepth(ctx); err != nil || depth != 0 {
		t.Fatalf("QueueDepth after sync = %d, %v, want 0, nil", depth, err)
	}
	if c.Snapshot().LastSyncedHLC == 0 {
		t.Fatal("expected LastSyncedHLC to advance after a successful push")
	}
}

func TestClient_EnqueueAction_ContentAddressesAndQueues(t *testing.T) {
	gw := testutil.New("secret")
	srv := testutil.NewServer(gw)
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(context.Background())

	ctx := context.Background()
	id, err := c.EnqueueAction(ctx, action.Enqueue{
		Connector:  "connector-a",
		ActionType: "do_thing",
		Params:     map[string]any{"x": 1},
	})
	if err != nil {
		t.Fatalf("EnqueueAction: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty action ID")
	}
	if depth, err := c.ActionQueueDepth(ctx); err != nil || depth != 1 {
		t.Fatalf("ActionQueueDepth = %d, %v, want 1, nil", depth, err)
	}
}

func TestClient_DrainQueue_ClearsPendingDeltas(t *testing.T) {
	gw := testutil.New("secret")
	srv := testutil.NewServer(gw)
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(context.Background())

	ctx := context.Background()
	if _, err := c.Outbox().Push(ctx, model.RowDelta{
		Op: model.OpInsert, Table: "todos", RowID: "row-1", ClientID: "client-a", DeltaID: "delta-1",
	}); err != nil {
		t.Fatalf("Outbox().Push: %v", err)
	}

	if err := c.DrainQueue(ctx); err != nil {
		t.Fatalf("DrainQueue: %v", err)
	}
	if depth, err := c.QueueDepth(ctx); err != nil || depth != 0 {
		t.Fatalf("QueueDepth after drain = %d, %v, want 0, nil", depth, err)
	}
}
