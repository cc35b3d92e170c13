// Package scheduler drives sync_once on a timer and reacts to
// foreground/online signals (spec §4.H). Time is injected through the
// Ticker interface so tests never depend on a wall clock.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the tick period for a request-response transport
// (spec §6: auto_sync_interval_ms default 10000).
const DefaultInterval = 10 * time.Second

// DefaultRealtimeInterval is the tick period once the transport already
// pushes broadcasts in real time — the tick degrades to a heartbeat
// (spec §6: realtime_heartbeat_ms default 60000).
const DefaultRealtimeInterval = 60 * time.Second

// Ticker abstracts a periodic timer so Scheduler can be driven by a fake
// in tests instead of a real wall clock.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewTickerFunc constructs a Ticker for the given period. The default is
// realTicker, backed by time.NewTicker.
type NewTickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

// RunFunc is the sync_once callback the scheduler drives on every tick,
// foreground signal, and online transition.
type RunFunc func(ctx context.Context) error

// Scheduler ticks RunFunc on Interval and on explicit TriggerForeground
// calls. Start/Stop are idempotent; a Scheduler with Interval<=0 never
// ticks but still honors foreground triggers.
type Scheduler struct {
	run        RunFunc
	interval   time.Duration
	newTicker  NewTickerFunc
	foreground chan struct{}
	online     *OnlineManager

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Scheduler at construction.
type Option func(*Scheduler)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// WithNewTicker overrides the Ticker constructor, for tests.
func WithNewTicker(f NewTickerFunc) Option { return func(s *Scheduler) { s.newTicker = f } }

// WithOnlineManager gates scheduled ticks on m.ShouldSync and wires an
// immediate sync_once on m's offline→online transitions (spec §4.H).
// Foreground triggers always run, online or not — a returning user wants
// an immediate attempt, not a silent skip.
func WithOnlineManager(m *OnlineManager) Option { return func(s *Scheduler) { s.online = m } }

// New builds a Scheduler around run.
func New(run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		run:        run,
		interval:   DefaultInterval,
		newTicker:  newRealTicker,
		foreground: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.online != nil {
		s.online.Subscribe(func(online bool) { s.TriggerForeground() })
	}
	return s
}

// Start begins ticking in a background goroutine. Calling Start while
// already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(runCtx)
}

// Stop halts the scheduler and waits for its goroutine to exit. Calling
// Stop while not running is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// TriggerForeground signals "user returned to foreground" (spec §4.H).
// Non-blocking: a pending unconsumed signal is not duplicated.
func (s *Scheduler) TriggerForeground() {
	select {
	case s.foreground <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	var ticker Ticker
	var tickC <-chan time.Time
	if s.interval > 0 {
		ticker = s.newTicker(s.interval)
		tickC = ticker.C()
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickC:
			if s.online != nil && !s.online.ShouldSync() {
				continue
			}
			s.fire(ctx, "tick")
		case <-s.foreground:
			s.fire(ctx, "foreground")
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, trigger string) {
	if err := s.run(ctx); err != nil {
		slog.Warn("scheduled sync failed",
			"component", "scheduler",
			"trigger", trigger,
			"error", err,
		)
	}
}
