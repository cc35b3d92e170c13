package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/outbox"
	"github.com/hyperengineering/lakesync/internal/syncengine"
	"github.com/hyperengineering/lakesync/internal/transport"
)

type fakeActionTransport struct {
	hasExecutor bool
	resp        model.ActionResponse
	err         error
	calls       int
}

func (f *fakeActionTransport) Push(ctx context.Context, req model.SyncPush) (model.SyncPushResult, error) {
	return model.SyncPushResult{}, nil
}

func (f *fakeActionTransport) Pull(ctx context.Context, req model.SyncPull) (model.SyncResponse, error) {
	return model.SyncResponse{}, nil
}

func (f *fakeActionTransport) ExecuteAction(ctx context.Context, req model.ActionPush) (model.ActionResponse, error) {
	f.calls++
	return f.resp, f.err
}

var _ transport.Transport = (*fakeActionTransport)(nil)
var _ transport.ActionExecutor = (*fakeActionTransport)(nil)

func newProcessor(t *testing.T, opts ...Option) (*Processor, *outbox.Outbox[model.Action]) {
	t.Helper()
	ob := outbox.New[model.Action](outbox.NewMemoryBackend[model.Action]())
	clock := hlc.NewSystemClock()
	p := New(ob, clock, "client-a", opts...)
	return p, ob
}

func TestProcessor_Enqueue_ContentAddressesActionID(t *testing.T) {
	p, ob := newProcessor(t)
	ctx := context.Background()

	id, err := p.Enqueue(ctx, Enqueue{Connector: "crm", ActionType: "update_contact", Params: map[string]any{"id": "1"}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	entries, err := ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 1 || entries[0].Item.ActionID != id {
		t.Fatalf("unexpected queued entries: %+v", entries)
	}
}

func TestProcessor_Enqueue_RejectsMissingConnector(t *testing.T) {
	p, ob := newProcessor(t)
	ctx := context.Background()

	_, err := p.Enqueue(ctx, Enqueue{ActionType: "update_contact"})
	if lakeerr.KindOf(err) != lakeerr.Validation {
		t.Fatalf("Enqueue(missing connector) kind = %v, want Validation", lakeerr.KindOf(err))
	}

	entries, err := ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected nothing queued after a rejected enqueue, got %d entries", len(entries))
	}
}

func TestProcessor_Process_NoopWithoutActionCapability(t *testing.T) {
	p, ob := newProcessor(t)
	ctx := context.Background()
	if _, err := p.Enqueue(ctx, Enqueue{Connector: "crm", ActionType: "noop"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	noExec := struct{ transport.Transport }{&fakeActionTransport{}}
	if err := p.Process(ctx, noExec); err != nil {
		t.Fatalf("Process: %v", err)
	}
	entries, err := ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the action to remain queued, got %d entries", len(entries))
	}
}

func TestProcessor_Process_AcksOnSuccessAndEmitsActionComplete(t *testing.T) {
	bus := syncengine.NewEventBus()
	p, ob := newProcessor(t, WithEvents(bus))
	ctx := context.Background()

	id, err := p.Enqueue(ctx, Enqueue{Connector: "crm", ActionType: "update_contact"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var events []syncengine.Event
	bus.Subscribe(func(e syncengine.Event) { events = append(events, e) })

	tr := &fakeActionTransport{resp: model.ActionResponse{Results: []model.ActionOutcome{
		{Result: &model.ActionResult{ActionID: id}},
	}}}
	if err := p.Process(ctx, tr); err != nil {
		t.Fatalf("Process: %v", err)
	}

	entries, err := ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected outbox drained after success, got %d", len(entries))
	}
	if len(events) != 1 || events[0].Type != syncengine.EventActionComplete || events[0].ActionID != id || events[0].Err != nil {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestProcessor_Process_NacksOnTransportFailure(t *testing.T) {
	p, ob := newProcessor(t)
	ctx := context.Background()

	if _, err := p.Enqueue(ctx, Enqueue{Connector: "crm", ActionType: "update_contact"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	tr := &fakeActionTransport{err: errors.New("gateway unreachable")}
	if err := p.Process(ctx, tr); err != nil {
		t.Fatalf("Process: %v", err)
	}
	depth, err := ob.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected the entry to remain queued after nack, got depth %d", depth)
	}
}

func TestProcessor_Process_DeadLettersEntriesOverRetryBudget(t *testing.T) {
	bus := syncengine.NewEventBus()
	backend := outbox.NewMemoryBackend[model.Action]()
	ob := outbox.New[model.Action](backend)
	p := New(ob, hlc.NewSystemClock(), "client-a", WithMaxRetries(1), WithEvents(bus))
	ctx := context.Background()

	id, err := p.Enqueue(ctx, Enqueue{Connector: "crm", ActionType: "update_contact"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	queued, err := ob.PeekPending(ctx, 10)
	if err != nil || len(queued) != 1 {
		t.Fatalf("PeekPending: %d entries, err=%v", len(queued), err)
	}
	// Enqueue returns the ActionID, not the outbox entry ID. The entry is
	// nacked through the backend with a zero backoff so it is visible again
	// at once.
	noWait := func(int) time.Duration { return 0 }
	if err := backend.Nack(ctx, []string{queued[0].ID}, time.Now().UTC(), noWait); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if err := backend.Nack(ctx, []string{queued[0].ID}, time.Now().UTC(), noWait); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	var events []syncengine.Event
	bus.Subscribe(func(e syncengine.Event) { events = append(events, e) })

	tr := &fakeActionTransport{}
	if err := p.Process(ctx, tr); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if tr.calls != 0 {
		t.Fatalf("expected ExecuteAction not to be called when every entry is dead, got %d calls", tr.calls)
	}

	entries, err := ob.PeekPending(ctx, 10)
	if err != nil {
		t.Fatalf("PeekPending: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected dead-lettered entry removed from queue, got %d", len(entries))
	}

	var sawDeadLettered, sawActionComplete bool
	for _, e := range events {
		if e.Type == syncengine.EventDeadLettered {
			sawDeadLettered = true
		}
		if e.Type == syncengine.EventActionComplete && e.ActionID == id && e.Err != nil {
			sawActionComplete = true
		}
	}
	if !sawDeadLettered || !sawActionComplete {
		t.Fatalf("expected dead_lettered and action_complete(error) events, got %+v", events)
	}
}
