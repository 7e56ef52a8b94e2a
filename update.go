package syncache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/syncache/codec"
	gen "github.com/unkn0wn-root/syncache/genstore"
	"github.com/unkn0wn-root/syncache/internal/util"
	tr "github.com/unkn0wn-root/syncache/transport"
)

// Manifest is the published asset document: the current generation and the
// asset keys it ships.
type Manifest struct {
	Generation uint64   `json:"generation"`
	Assets     []string `json:"assets"`
}

// updateManager detects a newly deployed generation, prefetches it into the
// cache store without user-visible effect, and activates it on demand.
// Activation is deferred until explicitly invoked so no asset is swapped
// underneath an in-progress session.
type updateManager struct {
	store     *cacheStore
	transport tr.Transport
	gen       gen.Store
	log       Logger
	hooks     Hooks

	manifestKey   string
	prefetchLimit int
	fetchTimeout  time.Duration

	mu      sync.Mutex
	pending *Update // prefetched, awaiting activation
	nextID  int
	subs    map[int]func(Update)
}

func newUpdateManager(store *cacheStore, t tr.Transport, g gen.Store, log Logger, hooks Hooks,
	manifestKey string, prefetchLimit int, fetchTimeout time.Duration) *updateManager {
	return &updateManager{
		store:         store,
		transport:     t,
		gen:           g,
		log:           log,
		hooks:         hooks,
		manifestKey:   manifestKey,
		prefetchLimit: prefetchLimit,
		fetchTimeout:  fetchTimeout,
		subs:          make(map[int]func(Update)),
	}
}

// checkForUpdate compares the active generation against the published
// manifest. A newer manifest is prefetched in full before the update is
// announced; a half-fetched generation is never offered for activation.
func (u *updateManager) checkForUpdate(ctx context.Context) (bool, error) {
	m, err := u.fetchManifest(ctx)
	if err != nil {
		return false, err
	}

	active, err := u.gen.Active(ctx)
	if err != nil {
		return false, fmt.Errorf("syncache: read active generation: %w", err)
	}
	if m.Generation <= active {
		return false, nil
	}

	u.mu.Lock()
	if u.pending != nil && u.pending.Generation >= m.Generation {
		u.mu.Unlock()
		return true, nil // already prefetched and waiting
	}
	u.mu.Unlock()

	if err := u.prefetch(ctx, m); err != nil {
		return false, err
	}

	upd := Update{Generation: m.Generation, Assets: m.Assets}
	u.mu.Lock()
	u.pending = &upd
	fns := make([]func(Update), 0, len(u.subs))
	for _, fn := range u.subs {
		fns = append(fns, fn)
	}
	u.mu.Unlock()

	u.hooks.GenerationAvailable(m.Generation)
	u.log.Info("new generation prefetched", Fields{"generation": m.Generation, "assets": len(m.Assets)})
	for _, fn := range fns {
		fn(upd)
	}
	return true, nil
}

// activate flips to the pending generation and evicts everything below it.
func (u *updateManager) activate(ctx context.Context) error {
	u.mu.Lock()
	pending := u.pending
	u.mu.Unlock()
	if pending == nil {
		return ErrNoPendingGeneration
	}

	if err := u.gen.Activate(ctx, pending.Generation); err != nil {
		return fmt.Errorf("syncache: activate generation %d: %w", pending.Generation, err)
	}
	u.store.EvictBelow(ctx, pending.Generation)

	u.mu.Lock()
	if u.pending != nil && u.pending.Generation == pending.Generation {
		u.pending = nil
	}
	u.mu.Unlock()

	u.hooks.GenerationActivated(pending.Generation)
	u.log.Info("generation activated", Fields{"generation": pending.Generation})
	return nil
}

func (u *updateManager) subscribe(fn func(Update)) (cancel func()) {
	u.mu.Lock()
	id := u.nextID
	u.nextID++
	u.subs[id] = fn
	u.mu.Unlock()
	return func() {
		u.mu.Lock()
		delete(u.subs, id)
		u.mu.Unlock()
	}
}

// fetchManifest polls the manifest endpoint, retrying transient failures.
func (u *updateManager) fetchManifest(ctx context.Context) (Manifest, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second

	jsonManifest := codec.JSON[Manifest]{}
	return backoff.Retry(ctx, func() (Manifest, error) {
		fctx, cancel := context.WithTimeout(ctx, u.fetchTimeout)
		defer cancel()
		resp, err := u.transport.Do(fctx, tr.Request{Method: http.MethodGet, Key: u.manifestKey})
		if err != nil {
			if tr.IsNetwork(err) {
				return Manifest{}, err
			}
			return Manifest{}, backoff.Permanent(err)
		}
		m, err := jsonManifest.Decode(resp.Payload)
		if err != nil {
			return Manifest{}, backoff.Permanent(fmt.Errorf("syncache: decode manifest: %w", err))
		}
		return m, nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(3))
}

// prefetch pulls every manifest asset into the cache store under the new
// generation. The active generation is untouched.
func (u *updateManager) prefetch(ctx context.Context, m Manifest) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.prefetchLimit)
	for _, asset := range m.Assets {
		key := util.NormalizeKey(asset)
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, u.fetchTimeout)
			defer cancel()
			resp, err := u.transport.Do(fctx, tr.Request{Method: http.MethodGet, Key: key})
			if err != nil {
				return fmt.Errorf("syncache: prefetch %q: %w", key, err)
			}
			u.store.PutGeneration(fctx, key, resp.Payload, CacheFirst, m.Generation)
			return nil
		})
	}
	return g.Wait()
}
