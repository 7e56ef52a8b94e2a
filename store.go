package syncache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gen "github.com/unkn0wn-root/syncache/genstore"
	"github.com/unkn0wn-root/syncache/internal/wire"
	pr "github.com/unkn0wn-root/syncache/provider"
)

// Entry is one cached server response. Immutable once written; a refresh
// replaces it wholesale. At most one live entry exists per key per
// generation.
type Entry struct {
	Key        string
	Payload    []byte
	StoredAt   time.Time
	Strategy   StrategyKind
	Generation uint64
}

type entryMeta struct {
	storedAt time.Time
	size     int
}

// cacheStore is the versioned, keyed storage of server responses on top of
// a byte provider. Mutating operations serialize on the index mutex;
// lookups never touch the network and never observe partial writes (the
// provider's Set is the atomicity point, one storage key per key+gen).
type cacheStore struct {
	ns       string
	provider pr.Provider
	gen      gen.Store
	log      Logger
	hooks    Hooks

	maxEntries int
	maxBytes   int64

	// pinned reports keys referenced by unacknowledged mutations; such
	// entries are exempt from capacity eviction (read-after-write
	// consistency for the local session).
	pinned func(key string) bool

	mu         sync.RWMutex
	index      map[uint64]map[string]entryMeta // gen -> key -> meta
	count      int
	totalBytes int64
}

func newCacheStore(ns string, p pr.Provider, g gen.Store, log Logger, hooks Hooks,
	maxEntries int, maxBytes int64, pinned func(string) bool) *cacheStore {
	return &cacheStore{
		ns:         ns,
		provider:   p,
		gen:        g,
		log:        log,
		hooks:      hooks,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		pinned:     pinned,
		index:      make(map[uint64]map[string]entryMeta),
	}
}

func (s *cacheStore) storageKey(g uint64, key string) string {
	return fmt.Sprintf("entry:%s:g%d:%s", s.ns, g, key)
}

func (s *cacheStore) storagePrefix() string {
	return "entry:" + s.ns + ":"
}

// load rebuilds the in-memory index from a durable provider. Non-durable
// providers (no Scanner) start empty.
func (s *cacheStore) load(ctx context.Context) error {
	sc, ok := s.provider.(pr.Scanner)
	if !ok {
		return nil
	}
	prefix := s.storagePrefix()
	return sc.Scan(ctx, prefix, func(storageKey string, value []byte) error {
		e, err := wire.DecodeEntry(value)
		if err != nil {
			// foreign or corrupt record under our prefix; drop it
			_ = s.provider.Del(ctx, storageKey)
			s.hooks.SelfHeal(storageKey, "corrupt")
			return nil
		}
		rest := strings.TrimPrefix(storageKey, prefix)
		i := strings.IndexByte(rest, ':')
		if i < 0 || !strings.HasPrefix(rest, "g") {
			_ = s.provider.Del(ctx, storageKey)
			s.hooks.SelfHeal(storageKey, "corrupt")
			return nil
		}
		key := rest[i+1:]
		s.indexPut(e.Gen, key, entryMeta{storedAt: time.Unix(0, e.StoredAt), size: len(e.Payload)})
		return nil
	})
}

func (s *cacheStore) activeGen(ctx context.Context) uint64 {
	g, err := s.gen.Active(ctx)
	if err != nil {
		// conservative: generation 0 serves whatever was written before
		// the first activation
		s.log.Warn("generation lookup failed", Fields{"err": err})
		return 0
	}
	return g
}

// Get is a pure lookup; it never blocks on the network. Prefers the active
// generation's entry, falling back to the newest older generation still
// present. Entries prefetched for a future generation are never served.
func (s *cacheStore) Get(ctx context.Context, key string) (Entry, bool) {
	active := s.activeGen(ctx)

	s.mu.RLock()
	g, ok := s.lookupGen(active, key)
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	sk := s.storageKey(g, key)
	raw, found, err := s.provider.Get(ctx, sk)
	if err != nil {
		// degraded read path: a storage error is a miss, not a failure
		s.log.Warn("cache read failed", Fields{"key": key, "err": err})
		return Entry{}, false
	}
	if !found {
		// provider evicted on its own; heal the index
		s.indexDel(g, key)
		return Entry{}, false
	}

	e, err := wire.DecodeEntry(raw)
	if err != nil {
		_ = s.provider.Del(ctx, sk)
		s.indexDel(g, key)
		s.hooks.SelfHeal(sk, "corrupt")
		return Entry{}, false
	}
	if e.Gen != g {
		_ = s.provider.Del(ctx, sk)
		s.indexDel(g, key)
		s.hooks.SelfHeal(sk, "gen_mismatch")
		return Entry{}, false
	}

	return Entry{
		Key:        key,
		Payload:    e.Payload,
		StoredAt:   time.Unix(0, e.StoredAt),
		Strategy:   StrategyKind(e.Strategy),
		Generation: e.Gen,
	}, true
}

// lookupGen picks the generation whose entry should serve key: the active
// one when present, else the newest generation below it. Callers hold mu.
func (s *cacheStore) lookupGen(active uint64, key string) (uint64, bool) {
	if _, ok := s.index[active][key]; ok {
		return active, true
	}
	var best uint64
	found := false
	for g, keys := range s.index {
		if g >= active {
			continue
		}
		if _, ok := keys[key]; ok && (!found || g > best) {
			best, found = g, true
		}
	}
	return best, found
}

// Put stores payload under the active generation, replacing any existing
// entry for the key atomically. A storage-layer write failure degrades the
// put to a logged no-op; it is reported through hooks, never raised.
func (s *cacheStore) Put(ctx context.Context, key string, payload []byte, strat StrategyKind) {
	s.putGen(ctx, key, payload, strat, s.activeGen(ctx))
}

// PutGeneration stores payload under an explicit generation; used by the
// update manager to prefetch a new generation without disturbing the
// active one.
func (s *cacheStore) PutGeneration(ctx context.Context, key string, payload []byte, strat StrategyKind, g uint64) {
	s.putGen(ctx, key, payload, strat, g)
}

func (s *cacheStore) putGen(ctx context.Context, key string, payload []byte, strat StrategyKind, g uint64) {
	now := time.Now()
	raw := wire.EncodeEntry(wire.Entry{
		Gen:      g,
		StoredAt: now.UnixNano(),
		Strategy: byte(strat),
		Payload:  payload,
	})

	sk := s.storageKey(g, key)
	ok, err := s.provider.Set(ctx, sk, raw, int64(len(raw)), 0)
	if err != nil {
		s.log.Warn("cache put degraded to no-op", Fields{"key": key, "err": err})
		s.hooks.PutDegraded(sk, err)
		return
	}
	if !ok {
		s.log.Debug("cache put rejected by provider (pressure)", Fields{"key": key})
		s.hooks.PutDegraded(sk, nil)
		return
	}

	s.indexPut(g, key, entryMeta{storedAt: now, size: len(payload)})
	s.enforceCapacity(ctx, g, key)
}

// Invalidate removes the key's entry from every generation.
func (s *cacheStore) Invalidate(ctx context.Context, key string) {
	s.mu.Lock()
	var gens []uint64
	for g, keys := range s.index {
		if _, ok := keys[key]; ok {
			gens = append(gens, g)
		}
	}
	for _, g := range gens {
		s.dropLocked(g, key)
	}
	s.mu.Unlock()

	for _, g := range gens {
		_ = s.provider.Del(ctx, s.storageKey(g, key))
	}
}

// EvictBelow removes every entry tagged with a generation strictly less
// than gen. Called on generation activation.
func (s *cacheStore) EvictBelow(ctx context.Context, gen uint64) {
	s.mu.Lock()
	var victims []string
	for g, keys := range s.index {
		if g >= gen {
			continue
		}
		for key := range keys {
			victims = append(victims, s.storageKey(g, key))
		}
		s.count -= len(keys)
		for _, m := range keys {
			s.totalBytes -= int64(m.size)
		}
		delete(s.index, g)
	}
	s.mu.Unlock()

	for _, sk := range victims {
		_ = s.provider.Del(ctx, sk)
	}
	if len(victims) > 0 {
		s.log.Info("evicted superseded generations", Fields{"below": gen, "entries": len(victims)})
	}
}

// enforceCapacity evicts oldest-storedAt-first from generations at or below
// the active one until the store fits its bounds again. Entries prefetched
// for a not-yet-active generation are never victims: evicting them would
// leave a half-fetched generation behind an already-announced update.
// Pinned keys and the entry just written are skipped too.
func (s *cacheStore) enforceCapacity(ctx context.Context, g uint64, justWritten string) {
	active := s.activeGen(ctx)
	for {
		s.mu.Lock()
		if (s.maxEntries <= 0 || s.count <= s.maxEntries) &&
			(s.maxBytes <= 0 || s.totalBytes <= s.maxBytes) {
			s.mu.Unlock()
			return
		}
		var victim string
		var victimGen uint64
		var victimAt time.Time
		found := false
		for vg, keys := range s.index {
			if vg > active {
				continue
			}
			for key, m := range keys {
				if vg == g && key == justWritten {
					continue
				}
				if s.pinned != nil && s.pinned(key) {
					continue
				}
				if !found || m.storedAt.Before(victimAt) {
					victim, victimGen, victimAt, found = key, vg, m.storedAt, true
				}
			}
		}
		if !found {
			// everything left is pinned or prefetched; tolerate the overage
			// (activation's EvictBelow reclaims the superseded generations)
			s.mu.Unlock()
			return
		}
		s.dropLocked(victimGen, victim)
		s.mu.Unlock()

		_ = s.provider.Del(ctx, s.storageKey(victimGen, victim))
		s.hooks.EntryEvicted(victim, time.Since(victimAt))
		s.log.Debug("evicted entry under capacity pressure", Fields{"key": victim})
	}
}

func (s *cacheStore) indexPut(g uint64, key string, m entryMeta) {
	s.mu.Lock()
	keys := s.index[g]
	if keys == nil {
		keys = make(map[string]entryMeta)
		s.index[g] = keys
	}
	if old, ok := keys[key]; ok {
		s.totalBytes -= int64(old.size)
		s.count--
	}
	keys[key] = m
	s.count++
	s.totalBytes += int64(m.size)
	s.mu.Unlock()
}

func (s *cacheStore) indexDel(g uint64, key string) {
	s.mu.Lock()
	s.dropLocked(g, key)
	s.mu.Unlock()
}

// dropLocked removes key from generation g's index. Callers hold mu.
func (s *cacheStore) dropLocked(g uint64, key string) {
	keys := s.index[g]
	m, ok := keys[key]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(s.index, g)
	}
	s.count--
	s.totalBytes -= int64(m.size)
}

func (s *cacheStore) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}
