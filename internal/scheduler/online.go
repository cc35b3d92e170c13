package scheduler

import "sync"

// OnlineManager tracks connectivity and notifies subscribers on an
// offline→online transition (spec §4.H). It has no opinion on how
// connectivity is detected; callers feed it via SetOnline, whether that's
// a platform online/offline event, a transport reconnect callback, or a
// manual toggle in tests.
type OnlineManager struct {
	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
}

// NewOnlineManager builds an OnlineManager, defaulting to online (spec
// §4.H: "tracks a boolean online, defaulting to true").
func NewOnlineManager() *OnlineManager {
	return &OnlineManager{online: true}
}

// Online reports the current connectivity state.
func (m *OnlineManager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn to be called on every offline→online transition.
func (m *OnlineManager) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetOnline updates connectivity state. Only a false→true transition
// notifies subscribers; a redundant call or a true→false transition is
// silent (scheduled ticks are simply skipped while offline, per
// ShouldSync).
func (m *OnlineManager) SetOnline(online bool) {
	m.mu.Lock()
	wasOffline := !m.online
	m.online = online
	listeners := make([]func(bool), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if !(wasOffline && online) {
		return
	}
	for _, l := range listeners {
		notify(l, online)
	}
}

// ShouldSync reports whether a scheduled tick should run sync_once. While
// offline, scheduled ticks are skipped (spec §4.H); foreground triggers
// and the offline→online edge itself bypass this gate entirely by calling
// run directly.
func (m *OnlineManager) ShouldSync() bool {
	return m.Online()
}

func notify(fn func(bool), online bool) {
	defer func() { recover() }()
	fn(online)
}
