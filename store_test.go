package syncache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gen "github.com/unkn0wn-root/syncache/genstore"
	"github.com/unkn0wn-root/syncache/internal/wire"
	pr "github.com/unkn0wn-root/syncache/provider"
)

// memProvider is an in-process Provider with Scanner support, used across
// the package tests.
type memProvider struct {
	mu sync.Mutex
	m  map[string][]byte

	failSet error // next Set returns this
}

var (
	_ pr.Provider = (*memProvider)(nil)
	_ pr.Scanner  = (*memProvider)(nil)
)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSet != nil {
		err := p.failSet
		p.failSet = nil
		return false, err
	}
	p.m[key] = append([]byte(nil), value...)
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) Scan(_ context.Context, prefix string, fn func(string, []byte) error) error {
	p.mu.Lock()
	snap := make(map[string][]byte, len(p.m))
	for k, v := range p.m {
		if strings.HasPrefix(k, prefix) {
			snap[k] = v
		}
	}
	p.mu.Unlock()
	for k, v := range snap {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// recHooks records hook events for assertions.
type recHooks struct {
	NopHooks
	mu        sync.Mutex
	selfHeals []string
	degraded  int
	evicted   []string
	terminal  []string
	conflicts []string
	acked     int
	statuses  []string
	refresh   []string
	available []uint64
	activated []uint64
}

func (h *recHooks) PutDegraded(string, error) {
	h.mu.Lock()
	h.degraded++
	h.mu.Unlock()
}

func (h *recHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	h.selfHeals = append(h.selfHeals, reason)
	h.mu.Unlock()
}

func (h *recHooks) EntryEvicted(key string, _ time.Duration) {
	h.mu.Lock()
	h.evicted = append(h.evicted, key)
	h.mu.Unlock()
}

func (h *recHooks) RefreshFailed(key string, _ error) {
	h.mu.Lock()
	h.refresh = append(h.refresh, key)
	h.mu.Unlock()
}

func (h *recHooks) MutationAcked(string, int) {
	h.mu.Lock()
	h.acked++
	h.mu.Unlock()
}

func (h *recHooks) MutationConflictOverwrite(_, key string) {
	h.mu.Lock()
	h.conflicts = append(h.conflicts, key)
	h.mu.Unlock()
}

func (h *recHooks) MutationTerminal(_, _, reason string) {
	h.mu.Lock()
	h.terminal = append(h.terminal, reason)
	h.mu.Unlock()
}

func (h *recHooks) StatusChanged(_, to string) {
	h.mu.Lock()
	h.statuses = append(h.statuses, to)
	h.mu.Unlock()
}

func (h *recHooks) GenerationAvailable(g uint64) {
	h.mu.Lock()
	h.available = append(h.available, g)
	h.mu.Unlock()
}

func (h *recHooks) GenerationActivated(g uint64) {
	h.mu.Lock()
	h.activated = append(h.activated, g)
	h.mu.Unlock()
}

func (h *recHooks) ackedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acked
}

func newTestStore(g gen.Store, p pr.Provider, hooks Hooks, maxEntries int) *cacheStore {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return newCacheStore("test", p, g, NopLogger{}, hooks, maxEntries, 0, nil)
}

func TestStorePutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(gen.NewLocal(), newMemProvider(), nil, 0)

	s.Put(ctx, "/users/1", []byte(`{"id":"1"}`), NetworkFirst)

	e, ok := s.Get(ctx, "/users/1")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if string(e.Payload) != `{"id":"1"}` {
		t.Fatalf("payload = %q", e.Payload)
	}
	if e.Strategy != NetworkFirst || e.Generation != 0 {
		t.Fatalf("entry meta = %+v", e)
	}

	// replace is atomic at the storage key
	s.Put(ctx, "/users/1", []byte(`{"id":"1","v":2}`), NetworkFirst)
	e, _ = s.Get(ctx, "/users/1")
	if string(e.Payload) != `{"id":"1","v":2}` {
		t.Fatalf("payload after replace = %q", e.Payload)
	}
}

func TestStoreGenerationFallback(t *testing.T) {
	ctx := context.Background()
	gs := gen.NewLocal()
	s := newTestStore(gs, newMemProvider(), nil, 0)

	s.Put(ctx, "/assets/app.js", []byte("v1"), CacheFirst)

	// activation without eviction: the old generation still serves
	if err := gs.Activate(ctx, 3); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	e, ok := s.Get(ctx, "/assets/app.js")
	if !ok || string(e.Payload) != "v1" {
		t.Fatalf("fallback read: ok=%v payload=%q", ok, e.Payload)
	}

	// the active generation's entry wins once written
	s.Put(ctx, "/assets/app.js", []byte("v3"), CacheFirst)
	e, _ = s.Get(ctx, "/assets/app.js")
	if string(e.Payload) != "v3" || e.Generation != 3 {
		t.Fatalf("active read: payload=%q gen=%d", e.Payload, e.Generation)
	}
}

func TestStoreFutureGenerationNotServed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(gen.NewLocal(), newMemProvider(), nil, 0)

	s.PutGeneration(ctx, "/assets/app.js", []byte("v5"), CacheFirst, 5)

	if _, ok := s.Get(ctx, "/assets/app.js"); ok {
		t.Fatal("prefetched future generation must not be served")
	}
}

func TestStoreEvictBelow(t *testing.T) {
	ctx := context.Background()
	gs := gen.NewLocal()
	mp := newMemProvider()
	s := newTestStore(gs, mp, nil, 0)

	s.Put(ctx, "/a", []byte("old"), CacheFirst)
	s.PutGeneration(ctx, "/a", []byte("new"), CacheFirst, 2)
	s.PutGeneration(ctx, "/b", []byte("new"), CacheFirst, 2)

	if err := gs.Activate(ctx, 2); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	s.EvictBelow(ctx, 2)

	e, ok := s.Get(ctx, "/a")
	if !ok || string(e.Payload) != "new" {
		t.Fatalf("post-eviction read: ok=%v payload=%q", ok, e.Payload)
	}
	if mp.len() != 2 {
		t.Fatalf("provider entries = %d, want 2", mp.len())
	}
}

func TestStoreInvalidateAllGenerations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(gen.NewLocalAt(2), newMemProvider(), nil, 0)

	s.PutGeneration(ctx, "/u/1", []byte("g1"), NetworkFirst, 1)
	s.Put(ctx, "/u/1", []byte("g2"), NetworkFirst)

	s.Invalidate(ctx, "/u/1")
	if _, ok := s.Get(ctx, "/u/1"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestStoreCapacityEvictsOldestUnpinned(t *testing.T) {
	ctx := context.Background()
	pinned := map[string]bool{"/q/pinned": true}
	hooks := &recHooks{}
	s := newCacheStore("test", newMemProvider(), gen.NewLocal(), NopLogger{}, hooks,
		2, 0, func(k string) bool { return pinned[k] })

	s.Put(ctx, "/q/pinned", []byte("keep"), NetworkFirst)
	time.Sleep(2 * time.Millisecond) // storedAt ordering
	s.Put(ctx, "/q/old", []byte("evict-me"), NetworkFirst)
	time.Sleep(2 * time.Millisecond)
	s.Put(ctx, "/q/new", []byte("keep"), NetworkFirst)

	if _, ok := s.Get(ctx, "/q/old"); ok {
		t.Fatal("oldest unpinned entry should have been evicted")
	}
	if _, ok := s.Get(ctx, "/q/pinned"); !ok {
		t.Fatal("pinned entry must survive capacity pressure")
	}
	if _, ok := s.Get(ctx, "/q/new"); !ok {
		t.Fatal("just-written entry must survive capacity pressure")
	}
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if len(hooks.evicted) != 1 || hooks.evicted[0] != "/q/old" {
		t.Fatalf("evicted = %v", hooks.evicted)
	}
}

func TestStoreCapacityNeverEvictsPrefetchedGeneration(t *testing.T) {
	ctx := context.Background()
	hooks := &recHooks{}
	gs := gen.NewLocal()
	s := newCacheStore("test", newMemProvider(), gs, NopLogger{}, hooks, 2, 0, nil)

	s.Put(ctx, "/assets/old.js", []byte("v0"), CacheFirst)

	// prefetching a future generation overflows capacity; the overflow must
	// fall on the active generation, never on the prefetched entries
	for _, k := range []string{"/assets/a.js", "/assets/b.js", "/assets/c.js"} {
		s.PutGeneration(ctx, k, []byte("v1"), CacheFirst, 1)
	}

	s.mu.RLock()
	kept := len(s.index[1])
	s.mu.RUnlock()
	if kept != 3 {
		t.Fatalf("prefetched entries kept = %d, want 3", kept)
	}

	if err := gs.Activate(ctx, 1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	s.EvictBelow(ctx, 1)
	for _, k := range []string{"/assets/a.js", "/assets/b.js", "/assets/c.js"} {
		if e, ok := s.Get(ctx, k); !ok || string(e.Payload) != "v1" {
			t.Fatalf("%s after activation: ok=%v payload=%q", k, ok, e.Payload)
		}
	}
}

func TestStoreSelfHealsCorruptOnRead(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recHooks{}
	s := newTestStore(gen.NewLocal(), mp, hooks, 0)

	s.Put(ctx, "/u/1", []byte("ok"), NetworkFirst)

	// corrupt the stored record behind the store's back
	sk := s.storageKey(0, "/u/1")
	mp.mu.Lock()
	mp.m[sk] = []byte("garbage")
	mp.mu.Unlock()

	if _, ok := s.Get(ctx, "/u/1"); ok {
		t.Fatal("corrupt entry must read as a miss")
	}
	if _, found, _ := mp.Get(ctx, sk); found {
		t.Fatal("corrupt entry must be deleted")
	}
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if len(hooks.selfHeals) != 1 || hooks.selfHeals[0] != "corrupt" {
		t.Fatalf("selfHeals = %v", hooks.selfHeals)
	}
}

func TestStoreLoadRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()

	first := newTestStore(gen.NewLocal(), mp, nil, 0)
	first.Put(ctx, "/u/1", []byte("survives"), NetworkFirst)

	// plant a corrupt record under the owned prefix
	mp.m["entry:test:g0:/broken"] = []byte{0xde, 0xad}

	second := newTestStore(gen.NewLocal(), mp, &recHooks{}, 0)
	if err := second.load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	e, ok := second.Get(ctx, "/u/1")
	if !ok || string(e.Payload) != "survives" {
		t.Fatalf("restart read: ok=%v payload=%q", ok, e.Payload)
	}
	if _, found, _ := mp.Get(ctx, "entry:test:g0:/broken"); found {
		t.Fatal("corrupt record must be dropped during load")
	}
}

func TestStorePutDegradesOnProviderError(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recHooks{}
	s := newTestStore(gen.NewLocal(), mp, hooks, 0)

	mp.mu.Lock()
	mp.failSet = errors.New("disk full")
	mp.mu.Unlock()

	s.Put(ctx, "/u/1", []byte("lost"), NetworkFirst) // must not panic or error

	if _, ok := s.Get(ctx, "/u/1"); ok {
		t.Fatal("degraded put must not leave an index entry")
	}
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if hooks.degraded != 1 {
		t.Fatalf("degraded = %d, want 1", hooks.degraded)
	}
}

func TestStoreGenMismatchHealed(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recHooks{}
	s := newTestStore(gen.NewLocal(), mp, hooks, 0)

	s.Put(ctx, "/u/1", []byte("ok"), NetworkFirst)

	// rewrite the record claiming a different generation
	sk := s.storageKey(0, "/u/1")
	raw := wire.EncodeEntry(wire.Entry{Gen: 9, StoredAt: time.Now().UnixNano(), Strategy: byte(NetworkFirst), Payload: []byte("ok")})
	mp.mu.Lock()
	mp.m[sk] = raw
	mp.mu.Unlock()

	if _, ok := s.Get(ctx, "/u/1"); ok {
		t.Fatal("generation-mismatched entry must read as a miss")
	}
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if len(hooks.selfHeals) != 1 || hooks.selfHeals[0] != "gen_mismatch" {
		t.Fatalf("selfHeals = %v", hooks.selfHeals)
	}
}
