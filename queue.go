package syncache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	qs "github.com/unkn0wn-root/syncache/queuestore"
)

// RetryDecision is the queue's answer to a failed attempt.
type RetryDecision struct {
	Terminal bool
	// Delay until the mutation is ready again; zero when Terminal.
	Delay time.Duration
}

// mutationQueue layers ordering, backoff and terminal-failure policy over a
// queuestore. Mutations for the same key drain strictly in enqueue order;
// mutations on different keys are independent. No mutation is ever silently
// dropped: it is applied (and deleted), terminally failed (and retained),
// or remains queued.
type mutationQueue struct {
	store qs.Store
	log   Logger
	hooks Hooks

	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration

	// mu serializes state transitions and guards refs.
	mu   sync.Mutex
	refs map[string]int // key -> unacknowledged mutation count (eviction pins)
}

func newMutationQueue(ctx context.Context, store qs.Store, log Logger, hooks Hooks,
	maxAttempts int, backoffInitial, backoffMax time.Duration) (*mutationQueue, error) {
	q := &mutationQueue{
		store:          store,
		log:            log,
		hooks:          hooks,
		maxAttempts:    maxAttempts,
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		refs:           make(map[string]int),
	}
	// rebuild eviction pins from whatever survived the last run
	existing, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncache: load mutation queue: %w", err)
	}
	for _, m := range existing {
		q.refs[m.Key]++
	}
	return q, nil
}

// enqueue durably records the mutation before returning.
func (q *mutationQueue) enqueue(ctx context.Context, key string, op Op, payload []byte) (qs.Mutation, error) {
	m := qs.Mutation{
		ID:         uuid.New(),
		Key:        key,
		Op:         op,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
		State:      qs.StatePending,
	}
	seq, err := q.store.Append(ctx, m)
	if err != nil {
		return qs.Mutation{}, fmt.Errorf("syncache: enqueue: %w", err)
	}
	m.Seq = seq

	q.mu.Lock()
	q.refs[key]++
	q.mu.Unlock()

	q.log.Debug("mutation enqueued", Fields{"id": m.ID, "key": key, "op": op.String()})
	return m, nil
}

// peekReady returns the next mutation eligible for a network attempt.
// Per key, only the oldest mutation is ever eligible; a terminal front
// mutation blocks its key until manually resolved, preserving FIFO order.
// When nothing is ready, wait is the duration until the earliest backoff
// gate opens (0 means the queue holds no automatically drainable work).
func (q *mutationQueue) peekReady(ctx context.Context, now time.Time) (m qs.Mutation, ok bool, wait time.Duration, err error) {
	all, err := q.store.List(ctx)
	if err != nil {
		return qs.Mutation{}, false, 0, err
	}

	seen := make(map[string]struct{}, len(all))
	for _, cand := range all { // ascending Seq
		if _, dup := seen[cand.Key]; dup {
			continue // an older mutation for this key goes first
		}
		seen[cand.Key] = struct{}{}

		if cand.State == qs.StateTerminal {
			continue // blocks the key; surfaced via Failed()
		}
		if d := cand.NotBefore.Sub(now); d > 0 {
			if wait == 0 || d < wait {
				wait = d
			}
			continue
		}
		return cand, true, 0, nil
	}
	return qs.Mutation{}, false, wait, nil
}

// ack deletes an acknowledged mutation. Replaying ack for an id that is
// already gone is a no-op.
func (q *mutationQueue) ack(ctx context.Context, id uuid.UUID) error {
	m, found, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := q.store.Delete(ctx, id); err != nil {
		return err
	}
	q.unref(m.Key)
	q.hooks.MutationAcked(id.String(), m.Attempts+1)
	q.log.Debug("mutation acknowledged", Fields{"id": id, "key": m.Key})
	return nil
}

// fail records a transient attempt failure, arming the backoff gate or
// crossing into terminal state at the attempt ceiling.
func (q *mutationQueue) fail(ctx context.Context, id uuid.UUID, cause error) (RetryDecision, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, found, err := q.store.Get(ctx, id)
	if err != nil {
		return RetryDecision{}, err
	}
	if !found {
		return RetryDecision{}, ErrUnknownMutation
	}

	m.Attempts++
	m.LastError = cause.Error()

	if m.Attempts >= q.maxAttempts {
		m.State = qs.StateTerminal
		m.Reason = ReasonRetryExhausted.String()
		m.NotBefore = time.Time{}
		if err := q.store.Update(ctx, m); err != nil {
			return RetryDecision{}, err
		}
		q.hooks.MutationTerminal(id.String(), m.Key, m.Reason)
		q.log.Warn("mutation terminally failed", Fields{
			"id": id, "key": m.Key, "reason": m.Reason, "attempts": m.Attempts,
		})
		return RetryDecision{Terminal: true}, nil
	}

	delay := q.backoffFor(m.Attempts)
	m.NotBefore = time.Now().Add(delay)
	if err := q.store.Update(ctx, m); err != nil {
		return RetryDecision{}, err
	}
	q.log.Debug("mutation attempt failed", Fields{
		"id": id, "key": m.Key, "attempts": m.Attempts, "retry_in": delay,
	})
	return RetryDecision{Delay: delay}, nil
}

// markTerminal records a permanent server refusal. The mutation is
// retained for manual resolution, never deleted.
func (q *mutationQueue) markTerminal(ctx context.Context, id uuid.UUID, reason TerminalReason, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, found, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownMutation
	}
	m.State = qs.StateTerminal
	m.Reason = reason.String()
	if cause != nil {
		m.LastError = cause.Error()
	}
	m.NotBefore = time.Time{}
	if err := q.store.Update(ctx, m); err != nil {
		return err
	}
	q.hooks.MutationTerminal(id.String(), m.Key, m.Reason)
	q.log.Warn("mutation terminally failed", Fields{"id": id, "key": m.Key, "reason": m.Reason})
	return nil
}

// retry re-arms a terminal mutation with a fresh attempt budget.
func (q *mutationQueue) retry(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, found, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownMutation
	}
	if m.State != qs.StateTerminal {
		return ErrNotTerminal
	}
	m.State = qs.StatePending
	m.Reason = ""
	m.Attempts = 0
	m.NotBefore = time.Time{}
	return q.store.Update(ctx, m)
}

// discard drops a terminal mutation permanently (manual resolution).
func (q *mutationQueue) discard(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, found, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownMutation
	}
	if m.State != qs.StateTerminal {
		return ErrNotTerminal
	}
	if err := q.store.Delete(ctx, id); err != nil {
		return err
	}
	q.unrefLocked(m.Key)
	q.log.Info("mutation discarded", Fields{"id": id, "key": m.Key})
	return nil
}

// failed lists terminal mutations awaiting manual resolution.
func (q *mutationQueue) failed(ctx context.Context) ([]qs.Mutation, error) {
	all, err := q.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []qs.Mutation
	for _, m := range all {
		if m.State == qs.StateTerminal {
			out = append(out, m)
		}
	}
	return out, nil
}

// pins reports whether key is referenced by an unacknowledged mutation.
func (q *mutationQueue) pins(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.refs[key] > 0
}

func (q *mutationQueue) unref(key string) {
	q.mu.Lock()
	q.unrefLocked(key)
	q.mu.Unlock()
}

func (q *mutationQueue) unrefLocked(key string) {
	if q.refs[key] <= 1 {
		delete(q.refs, key)
		return
	}
	q.refs[key]--
}

// backoffFor replays the exponential curve up to the persisted attempt
// count, so the schedule survives process restarts.
func (q *mutationQueue) backoffFor(attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = q.backoffInitial
	eb.MaxInterval = q.backoffMax
	eb.RandomizationFactor = 0.2

	d := eb.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = eb.NextBackOff()
	}
	if d > q.backoffMax {
		d = q.backoffMax
	}
	return d
}
