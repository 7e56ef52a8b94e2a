package syncache

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	qs "github.com/unkn0wn-root/syncache/queuestore"
	tr "github.com/unkn0wn-root/syncache/transport"
)

// orchestrator drains the mutation queue against the network and drives
// SyncStatus. Exactly one drain pass runs at a time process-wide; a second
// trigger while Syncing coalesces into a no-op.
type orchestrator struct {
	queue     *mutationQueue
	transport tr.Transport
	status    *statusTracker
	log       Logger
	hooks     Hooks

	retryTimeout time.Duration
	interval     time.Duration

	// applied is invoked after a mutation is acknowledged so the client
	// can reconcile the cache (payload is the server response, may be nil).
	applied func(m qs.Mutation, payload []byte)

	online  atomic.Bool
	syncing atomic.Bool

	trigger chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newOrchestrator(queue *mutationQueue, t tr.Transport, status *statusTracker,
	log Logger, hooks Hooks, retryTimeout, interval time.Duration,
	applied func(qs.Mutation, []byte)) *orchestrator {
	return &orchestrator{
		queue:        queue,
		transport:    t,
		status:       status,
		log:          log,
		hooks:        hooks,
		retryTimeout: retryTimeout,
		interval:     interval,
		applied:      applied,
		trigger:      make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

func (o *orchestrator) start() {
	o.wg.Add(1)
	go o.run()
}

func (o *orchestrator) stop() {
	close(o.stopCh)
	o.wg.Wait()
}

func (o *orchestrator) isOnline() bool { return o.online.Load() }

// setOnline feeds the connectivity signal. Restored connectivity triggers
// an opportunistic drain.
func (o *orchestrator) setOnline(online bool) {
	was := o.online.Swap(online)
	switch {
	case online && !was:
		o.status.set(Online)
		o.poke()
	case !online && was:
		o.status.set(Offline)
	}
}

// poke requests a drain; a pending request or running pass absorbs it.
func (o *orchestrator) poke() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

func (o *orchestrator) run() {
	defer o.wg.Done()

	var tick <-chan time.Time
	if o.interval > 0 {
		t := time.NewTicker(o.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-o.stopCh:
			return
		case <-o.trigger:
			o.drain(context.Background())
		case <-tick:
			if o.online.Load() {
				o.drain(context.Background())
			}
		}
	}
}

// drain runs one pass over the queue: attempt, ack or back off, until the
// queue holds no drainable work or connectivity drops.
func (o *orchestrator) drain(ctx context.Context) {
	if !o.syncing.CompareAndSwap(false, true) {
		return // a pass is already running; coalesce
	}
	defer o.syncing.Store(false)

	if !o.online.Load() {
		return
	}

	// Syncing is entered lazily on the first drainable (or gated) mutation,
	// so an empty pass does not flap the status on every tick.
	syncing := false
	defer func() {
		if !syncing {
			return
		}
		if o.online.Load() {
			o.status.set(Online)
		} else {
			o.status.set(Offline)
		}
	}()

	for o.online.Load() {
		m, ok, wait, err := o.queue.peekReady(ctx, time.Now())
		if err != nil {
			o.log.Error("queue peek failed", Fields{"err": err})
			return
		}
		if !ok {
			if wait <= 0 {
				return // drained (terminal mutations stay behind)
			}
			// the front mutation is backing off; honor its gate
			if !syncing {
				o.status.set(Syncing)
				syncing = true
			}
			select {
			case <-time.After(wait):
				continue
			case <-o.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
		if !syncing {
			o.status.set(Syncing)
			syncing = true
		}
		o.attempt(ctx, m)
	}
}

func (o *orchestrator) attempt(ctx context.Context, m qs.Mutation) {
	actx, cancel := context.WithTimeout(ctx, o.retryTimeout)
	resp, err := o.transport.Do(actx, tr.Request{
		Method:         methodFor(m.Op),
		Key:            m.Key,
		Payload:        m.Payload,
		IdempotencyKey: m.ID.String(),
	})
	cancel()

	switch {
	case err == nil:
		o.acknowledge(ctx, m, resp.Payload)

	case tr.IsConflict(err):
		// last-writer-wins: the server noted a concurrent modification
		// but applied the mutation anyway
		o.hooks.MutationConflictOverwrite(m.ID.String(), m.Key)
		o.log.Info("mutation applied over concurrent modification", Fields{"id": m.ID, "key": m.Key})
		o.acknowledge(ctx, m, resp.Payload)

	case tr.IsRejected(err):
		if terr := o.queue.markTerminal(ctx, m.ID, ReasonConflictRejected, err); terr != nil {
			o.log.Error("mark terminal failed", Fields{"id": m.ID, "err": terr})
		}

	default: // transient network failure
		if _, ferr := o.queue.fail(ctx, m.ID, err); ferr != nil {
			o.log.Error("record attempt failure failed", Fields{"id": m.ID, "err": ferr})
		}
	}
}

func (o *orchestrator) acknowledge(ctx context.Context, m qs.Mutation, payload []byte) {
	if err := o.queue.ack(ctx, m.ID); err != nil {
		o.log.Error("ack failed", Fields{"id": m.ID, "err": err})
		return
	}
	if o.applied != nil {
		o.applied(m, payload)
	}
}

func methodFor(op Op) string {
	switch op {
	case qs.OpCreate:
		return http.MethodPost
	case qs.OpDelete:
		return http.MethodDelete
	default:
		return http.MethodPut
	}
}
