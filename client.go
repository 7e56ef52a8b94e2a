package syncache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	gen "github.com/unkn0wn-root/syncache/genstore"
	"github.com/unkn0wn-root/syncache/internal/util"
	qs "github.com/unkn0wn-root/syncache/queuestore"
	tr "github.com/unkn0wn-root/syncache/transport"
)

// errOffline short-circuits network attempts while the connectivity signal
// says offline. Classified as a network failure so strategies fall back to
// the cache.
var errOffline = errors.New("syncache: offline")

type client struct {
	rules     *Rules
	transport tr.Transport
	log       Logger
	hooks     Hooks

	store   *cacheStore
	queue   *mutationQueue
	orch    *orchestrator
	updates *updateManager
	status  *statusTracker

	queueStore qs.Store
	genStore   gen.Store

	netTimeout time.Duration

	// sf collapses concurrent background refreshes of the same key.
	sf        singleflight.Group
	refreshWG sync.WaitGroup

	pollStop chan struct{}
	pollWG   sync.WaitGroup

	closed atomic.Bool
}

var _ Client = (*client)(nil)

func newClient(opts Options) (*client, error) {
	switch {
	case opts.Namespace == "":
		return nil, errors.New("syncache: Options.Namespace is required")
	case opts.Provider == nil:
		return nil, errors.New("syncache: Options.Provider is required")
	case opts.Transport == nil:
		return nil, errors.New("syncache: Options.Transport is required")
	case opts.Rules == nil:
		return nil, errors.New("syncache: Options.Rules is required")
	}

	log := opts.Logger
	if log == nil {
		log = NopLogger{}
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}

	queueStore := opts.QueueStore
	if queueStore == nil {
		queueStore = qs.NewMemory()
	}
	genStore := opts.GenStore
	if genStore == nil {
		genStore = gen.NewLocal()
	}

	netTimeout := coalesce(opts.NetworkTimeout, 10*time.Second)
	retryTimeout := coalesce(opts.RetryTimeout, 15*time.Second)
	maxAttempts := coalesce(opts.MaxAttempts, 5)
	backoffInitial := coalesce(opts.BackoffInitial, 500*time.Millisecond)
	backoffMax := coalesce(opts.BackoffMax, time.Minute)
	syncInterval := coalesce(opts.SyncInterval, 30*time.Second)
	if syncInterval < 0 {
		syncInterval = 0
	}
	manifestKey := util.NormalizeKey(coalesce(opts.ManifestKey, "/manifest.json"))
	prefetchLimit := coalesce(opts.PrefetchLimit, 4)
	maxEntries := coalesce(opts.MaxEntries, 4096)
	maxBytes := coalesce(opts.MaxBytes, int64(64<<20))

	ctx := context.Background()

	queue, err := newMutationQueue(ctx, queueStore, log, hooks, maxAttempts, backoffInitial, backoffMax)
	if err != nil {
		return nil, err
	}

	status := newStatusTracker(Offline, hooks)
	store := newCacheStore(opts.Namespace, opts.Provider, genStore, log, hooks,
		maxEntries, maxBytes, queue.pins)
	if err := store.load(ctx); err != nil {
		return nil, fmt.Errorf("syncache: rebuild cache index: %w", err)
	}

	c := &client{
		rules:      opts.Rules,
		transport:  opts.Transport,
		log:        log,
		hooks:      hooks,
		store:      store,
		queue:      queue,
		status:     status,
		queueStore: queueStore,
		genStore:   genStore,
		netTimeout: netTimeout,
		pollStop:   make(chan struct{}),
	}
	c.orch = newOrchestrator(queue, opts.Transport, status, log, hooks,
		retryTimeout, syncInterval, c.applyAck)
	c.updates = newUpdateManager(store, opts.Transport, genStore, log, hooks,
		manifestKey, prefetchLimit, netTimeout)

	c.orch.start()
	if opts.StartOnline {
		c.orch.setOnline(true)
	}
	if opts.UpdateInterval > 0 {
		c.pollWG.Add(1)
		go c.pollUpdates(opts.UpdateInterval)
	}
	return c, nil
}

// Request resolves key through its registered strategy. Lookups never
// observe partial writes; a failed resolution never evicts what is cached.
func (c *client) Request(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	key = util.NormalizeKey(key)
	strat, fresh := c.rules.resolve(key)

	switch strat {
	case CacheFirst:
		return c.cacheFirst(ctx, key, fresh)
	case StaleWhileRevalidate:
		return c.staleWhileRevalidate(ctx, key)
	default:
		return c.networkFirst(ctx, key, NetworkFirst)
	}
}

// cacheFirst serves the cached entry when present and fresh; the network is
// consulted only on a miss (or staleness), and a failed fetch falls back to
// the stale entry rather than erroring.
func (c *client) cacheFirst(ctx context.Context, key string, fresh time.Duration) ([]byte, error) {
	e, ok := c.store.Get(ctx, key)
	if ok && (fresh <= 0 || time.Since(e.StoredAt) <= fresh) {
		return e.Payload, nil
	}

	payload, err := c.fetch(ctx, key, CacheFirst)
	if err == nil {
		return payload, nil
	}
	if ok {
		c.log.Debug("serving stale entry after failed fetch", Fields{"key": key})
		return e.Payload, nil
	}
	return nil, &UnreachableError{Key: key, Cause: err}
}

// networkFirst attempts the network within the bounded timeout and falls
// back to a cached entry of any age. A definitive server refusal is
// surfaced as-is; the cache never masks it.
func (c *client) networkFirst(ctx context.Context, key string, tag StrategyKind) ([]byte, error) {
	payload, err := c.fetch(ctx, key, tag)
	if err == nil {
		return payload, nil
	}
	if tr.IsRejected(err) {
		return nil, err
	}
	if e, ok := c.store.Get(ctx, key); ok {
		c.log.Debug("network failed, serving cached entry", Fields{"key": key, "err": err})
		return e.Payload, nil
	}
	return nil, &UnreachableError{Key: key, Cause: err}
}

// staleWhileRevalidate returns the cached entry immediately and refreshes
// it in the background for subsequent callers. A cold cache degrades to a
// foreground fetch.
func (c *client) staleWhileRevalidate(ctx context.Context, key string) ([]byte, error) {
	if e, ok := c.store.Get(ctx, key); ok {
		c.revalidate(key)
		return e.Payload, nil
	}
	return c.networkFirst(ctx, key, StaleWhileRevalidate)
}

// fetch performs one bounded network read and caches the response under the
// active generation. Skips the wire entirely while offline.
func (c *client) fetch(ctx context.Context, key string, strat StrategyKind) ([]byte, error) {
	if !c.orch.isOnline() {
		return nil, tr.NetworkError(errOffline)
	}

	fctx, cancel := context.WithTimeout(ctx, c.netTimeout)
	defer cancel()
	resp, err := c.transport.Do(fctx, tr.Request{Method: http.MethodGet, Key: key})
	if err != nil {
		return nil, err
	}
	c.store.Put(ctx, key, resp.Payload, strat)
	return resp.Payload, nil
}

// revalidate refreshes key in the background. Concurrent refreshes of the
// same key collapse into one network call; failures leave the cached entry
// untouched and are reported only through hooks.
func (c *client) revalidate(key string) {
	if c.closed.Load() || !c.orch.isOnline() {
		return
	}
	c.refreshWG.Add(1)
	go func() {
		defer c.refreshWG.Done()
		_, _, _ = c.sf.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), c.netTimeout)
			defer cancel()
			resp, err := c.transport.Do(ctx, tr.Request{Method: http.MethodGet, Key: key})
			if err != nil {
				c.hooks.RefreshFailed(key, err)
				c.log.Debug("background refresh failed", Fields{"key": key, "err": err})
				return nil, err
			}
			c.store.Put(ctx, key, resp.Payload, StaleWhileRevalidate)
			return nil, nil
		})
	}()
}

// Enqueue durably records the mutation, then pokes the orchestrator. The
// mutation is owned by the queue once Enqueue returns.
func (c *client) Enqueue(ctx context.Context, m Mutation) (uuid.UUID, error) {
	if c.closed.Load() {
		return uuid.Nil, ErrClosed
	}
	if m.Key == "" {
		return uuid.Nil, errors.New("syncache: mutation key is required")
	}
	switch m.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return uuid.Nil, fmt.Errorf("syncache: invalid mutation op %d", m.Op)
	}

	queued, err := c.queue.enqueue(ctx, util.NormalizeKey(m.Key), m.Op, m.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	c.orch.poke()
	return queued.ID, nil
}

// applyAck reconciles the cache after the server acknowledged a mutation.
// Runs on the orchestrator goroutine.
func (c *client) applyAck(m qs.Mutation, payload []byte) {
	ctx := context.Background()
	if m.Op == qs.OpDelete {
		c.store.Invalidate(ctx, m.Key)
		return
	}
	body := payload
	if len(body) == 0 {
		// server acked without a body; the local payload is authoritative
		body = m.Payload
	}
	if len(body) == 0 {
		c.store.Invalidate(ctx, m.Key)
		return
	}
	strat, _ := c.rules.resolve(m.Key)
	c.store.Put(ctx, m.Key, body, strat)
}

func (c *client) Failed(ctx context.Context) ([]QueuedMutation, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.queue.failed(ctx)
}

func (c *client) Retry(ctx context.Context, id uuid.UUID) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.queue.retry(ctx, id); err != nil {
		return err
	}
	c.orch.poke()
	return nil
}

func (c *client) Discard(ctx context.Context, id uuid.UUID) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.queue.discard(ctx, id)
}

func (c *client) Status() SyncStatus { return c.status.get() }

func (c *client) OnStatus(fn func(SyncStatus)) (cancel func()) {
	return c.status.subscribe(fn)
}

func (c *client) OnUpdate(fn func(Update)) (cancel func()) {
	return c.updates.subscribe(fn)
}

func (c *client) SetConnectivity(online bool) {
	if c.closed.Load() {
		return
	}
	c.orch.setOnline(online)
}

func (c *client) SyncNow(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.orch.drain(ctx)
	return ctx.Err()
}

func (c *client) CheckForUpdate(ctx context.Context) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	return c.updates.checkForUpdate(ctx)
}

func (c *client) ActivateNewGeneration(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.updates.activate(ctx)
}

func (c *client) pollUpdates(interval time.Duration) {
	defer c.pollWG.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.pollStop:
			return
		case <-t.C:
			if !c.orch.isOnline() {
				continue
			}
			if _, err := c.updates.checkForUpdate(context.Background()); err != nil {
				c.log.Debug("update check failed", Fields{"err": err})
			}
		}
	}
}

// Close stops background work, waits for in-flight refreshes, and releases
// every owned resource. Idempotent.
func (c *client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.pollStop)
	c.pollWG.Wait()
	c.orch.stop()
	c.refreshWG.Wait()

	return errors.Join(
		c.queueStore.Close(ctx),
		c.genStore.Close(ctx),
		c.store.Close(ctx),
	)
}
