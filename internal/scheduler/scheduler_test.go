package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTicker struct {
	c      chan time.Time
	stopCh chan struct{}
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{c: make(chan time.Time, 1), stopCh: make(chan struct{}, 1)}
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop() {
	select {
	case f.stopCh <- struct{}{}:
	default:
	}
}
func (f *fakeTicker) fire() { f.c <- time.Time{} }

type runCounter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *runCounter) run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *runCounter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestScheduler_Tick_InvokesRun(t *testing.T) {
	ft := newFakeTicker()
	rc := &runCounter{}
	s := New(rc.run, WithNewTicker(func(time.Duration) Ticker { return ft }))

	s.Start(context.Background())
	defer s.Stop()

	ft.fire()
	waitForCount(t, rc, 1)
}

func TestScheduler_TriggerForeground_InvokesRunImmediately(t *testing.T) {
	rc := &runCounter{}
	s := New(rc.run, WithInterval(0))

	s.Start(context.Background())
	defer s.Stop()

	s.TriggerForeground()
	waitForCount(t, rc, 1)
}

func TestScheduler_StartStop_Idempotent(t *testing.T) {
	rc := &runCounter{}
	s := New(rc.run, WithInterval(0))

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestScheduler_Stop_HaltsFurtherTicks(t *testing.T) {
	ft := newFakeTicker()
	rc := &runCounter{}
	s := New(rc.run, WithNewTicker(func(time.Duration) Ticker { return ft }))

	s.Start(context.Background())
	ft.fire()
	waitForCount(t, rc, 1)

	s.Stop()

	select {
	case ft.c <- time.Time{}:
	default:
	}
	time.Sleep(20 * time.Millisecond)
	if rc.count() != 1 {
		t.Fatalf("calls after Stop = %d, want 1", rc.count())
	}
}

func TestScheduler_SkipsScheduledTickWhileOffline(t *testing.T) {
	ft := newFakeTicker()
	rc := &runCounter{}
	om := NewOnlineManager()
	om.SetOnline(false)
	s := New(rc.run, WithNewTicker(func(time.Duration) Ticker { return ft }), WithOnlineManager(om))

	s.Start(context.Background())
	defer s.Stop()

	ft.fire()
	time.Sleep(20 * time.Millisecond)
	if rc.count() != 0 {
		t.Fatalf("calls while offline = %d, want 0", rc.count())
	}
}

func TestScheduler_OfflineToOnlineTransitionTriggersImmediateSync(t *testing.T) {
	rc := &runCounter{}
	om := NewOnlineManager()
	s := New(rc.run, WithInterval(0), WithOnlineManager(om))

	s.Start(context.Background())
	defer s.Stop()

	om.SetOnline(false)
	om.SetOnline(true)
	waitForCount(t, rc, 1)
}

func TestScheduler_RunError_DoesNotCrashLoop(t *testing.T) {
	ft := newFakeTicker()
	rc := &runCounter{err: errors.New("transport down")}
	s := New(rc.run, WithNewTicker(func(time.Duration) Ticker { return ft }))

	s.Start(context.Background())
	defer s.Stop()

	ft.fire()
	waitForCount(t, rc, 1)
}

func waitForCount(t *testing.T, rc *runCounter, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if rc.count() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d calls, got %d", want, rc.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOnlineManager_DefaultsOnline(t *testing.T) {
	om := NewOnlineManager()
	if !om.Online() {
		t.Fatal("expected OnlineManager to default to online")
	}
}

func TestOnlineManager_NotifiesOnlyOnOfflineToOnlineEdge(t *testing.T) {
	om := NewOnlineManager()
	var notifications []bool
	om.Subscribe(func(online bool) { notifications = append(notifications, online) })

	om.SetOnline(true) // already online: no edge
	om.SetOnline(false)
	om.SetOnline(false) // redundant: no edge
	om.SetOnline(true)  // the edge

	if len(notifications) != 1 || notifications[0] != true {
		t.Fatalf("notifications = %+v, want exactly one true", notifications)
	}
}

func TestOnlineManager_PanickingListenerDoesNotBreakOthers(t *testing.T) {
	om := NewOnlineManager()
	om.SetOnline(false)

	called := false
	om.Subscribe(func(bool) { panic("boom") })
	om.Subscribe(func(bool) { called = true })

	om.SetOnline(true)
	if !called {
		t.Fatal("expected the second listener to still run after the first panicked")
	}
}
