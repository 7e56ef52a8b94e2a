package syncache

import "sync"

// SyncStatus is the process-wide connectivity/drain state. Derived, not
// persisted; consumed by the application for banners and prompts.
type SyncStatus uint8

const (
	Offline SyncStatus = iota
	Online
	Syncing
)

func (s SyncStatus) String() string {
	switch s {
	case Online:
		return "online"
	case Syncing:
		return "syncing"
	default:
		return "offline"
	}
}

// statusTracker holds the current SyncStatus and fans transitions out to
// subscribers. Notifications run on the transitioning goroutine in
// subscription order; callbacks must be cheap.
type statusTracker struct {
	mu      sync.Mutex
	current SyncStatus
	nextID  int
	subs    map[int]func(SyncStatus)
	hooks   Hooks
}

func newStatusTracker(initial SyncStatus, hooks Hooks) *statusTracker {
	return &statusTracker{
		current: initial,
		subs:    make(map[int]func(SyncStatus)),
		hooks:   hooks,
	}
}

func (t *statusTracker) get() SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// set transitions to s and notifies subscribers. No-op when unchanged.
func (t *statusTracker) set(s SyncStatus) {
	t.mu.Lock()
	if t.current == s {
		t.mu.Unlock()
		return
	}
	from := t.current
	t.current = s
	fns := make([]func(SyncStatus), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	t.hooks.StatusChanged(from.String(), s.String())
	for _, fn := range fns {
		fn(s)
	}
}

func (t *statusTracker) subscribe(fn func(SyncStatus)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}
