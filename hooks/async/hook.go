// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/syncache"
//	"github.com/unkn0wn-root/syncache/hooks/async"
//	"github.com/unkn0wn-root/syncache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	    EvictEvery:    50,
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	client, _ := syncache.New(syncache.Options{
//	    Namespace: "field-app",
//	    Provider:  provider,
//	    Transport: transport,
//	    Rules:     rules,
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/syncache"
)

type Hooks struct {
	inner syncache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ syncache.Hooks = (*Hooks)(nil)

func New(inner syncache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) PutDegraded(k string, err error) { h.try(func() { h.inner.PutDegraded(k, err) }) }
func (h *Hooks) SelfHeal(k, r string)            { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) RefreshFailed(k string, err error) {
	h.try(func() { h.inner.RefreshFailed(k, err) })
}
func (h *Hooks) EntryEvicted(k string, age time.Duration) {
	h.try(func() { h.inner.EntryEvicted(k, age) })
}
func (h *Hooks) MutationAcked(id string, n int) { h.try(func() { h.inner.MutationAcked(id, n) }) }
func (h *Hooks) MutationConflictOverwrite(id, k string) {
	h.try(func() { h.inner.MutationConflictOverwrite(id, k) })
}
func (h *Hooks) MutationTerminal(id, k, reason string) {
	h.try(func() { h.inner.MutationTerminal(id, k, reason) })
}
func (h *Hooks) StatusChanged(from, to string) { h.try(func() { h.inner.StatusChanged(from, to) }) }
func (h *Hooks) GenerationAvailable(gen uint64) {
	h.try(func() { h.inner.GenerationAvailable(gen) })
}
func (h *Hooks) GenerationActivated(gen uint64) {
	h.try(func() { h.inner.GenerationActivated(gen) })
}
