package syncache

import (
	"context"
	"time"

	"github.com/google/uuid"

	gen "github.com/unkn0wn-root/syncache/genstore"
	pr "github.com/unkn0wn-root/syncache/provider"
	qs "github.com/unkn0wn-root/syncache/queuestore"
	tr "github.com/unkn0wn-root/syncache/transport"
)

// Op re-exports the mutation operation kinds.
type Op = qs.Op

const (
	OpCreate = qs.OpCreate
	OpUpdate = qs.OpUpdate
	OpDelete = qs.OpDelete
)

// Mutation is a write the application wants applied server-side. It is
// queued durably and drained by the sync orchestrator; the returned id is
// the mutation's stable identity for idempotent retries.
type Mutation struct {
	Key     string
	Op      Op
	Payload []byte
}

// QueuedMutation is the durable queue record (see queuestore.Mutation).
type QueuedMutation = qs.Mutation

// Update announces a prefetched, not-yet-active cache generation. The
// application activates it explicitly (e.g. after the user acknowledges a
// reload prompt).
type Update struct {
	Generation uint64
	Assets     []string
}

// Client is the offline-first sync and caching API consumed by the
// rendering/UI layer.
type Client interface {
	// Request resolves a resource through its registered caching strategy.
	// May suspend on the network depending on the strategy; returns
	// ErrUnreachable when neither network nor cache can serve the key.
	Request(ctx context.Context, key string) ([]byte, error)

	// Enqueue durably queues a mutation. When Enqueue returns, the
	// mutation survives a process restart (given a durable queue store).
	Enqueue(ctx context.Context, m Mutation) (uuid.UUID, error)

	// Failed lists terminally failed mutations awaiting manual resolution.
	Failed(ctx context.Context) ([]QueuedMutation, error)
	// Retry re-arms a terminal mutation for automatic draining.
	Retry(ctx context.Context, id uuid.UUID) error
	// Discard drops a terminal mutation permanently.
	Discard(ctx context.Context, id uuid.UUID) error

	// Status returns the current SyncStatus; OnStatus subscribes to
	// transitions. The returned cancel func removes the subscription.
	Status() SyncStatus
	OnStatus(fn func(SyncStatus)) (cancel func())

	// OnUpdate subscribes to "update available" notifications.
	OnUpdate(fn func(Update)) (cancel func())

	// SetConnectivity feeds the external connectivity signal. Going
	// online triggers an opportunistic drain.
	SetConnectivity(online bool)

	// SyncNow runs a drain pass synchronously. A pass already in flight
	// coalesces this call into a no-op.
	SyncNow(ctx context.Context) error

	// CheckForUpdate polls the asset manifest and prefetches a newer
	// generation, if any, without disturbing the active one.
	CheckForUpdate(ctx context.Context) (bool, error)
	// ActivateNewGeneration flips to the prefetched generation and evicts
	// all generations strictly below it.
	ActivateNewGeneration(ctx context.Context) error

	// Close stops background work and releases owned resources.
	Close(ctx context.Context) error
}

// Options tune the client. Namespace, Provider, Transport and Rules are
// required; everything else has defaults.
type Options struct {
	// Required
	Namespace string // logical namespace to avoid collisions, e.g. "field-app"
	Provider  pr.Provider
	Transport tr.Transport
	Rules     *Rules

	QueueStore qs.Store  // nil => in-process memory queue (not restart-durable)
	GenStore   gen.Store // nil => in-process local generation store
	Logger     Logger    // nil => NopLogger
	Hooks      Hooks     // nil => NopHooks

	NetworkTimeout time.Duration // per router network attempt; 0 => 10s
	RetryTimeout   time.Duration // per orchestrator retry attempt; 0 => 15s
	MaxAttempts    int           // retry ceiling before terminal failure; 0 => 5
	BackoffInitial time.Duration // 0 => 500ms
	BackoffMax     time.Duration // 0 => 1m
	SyncInterval   time.Duration // periodic drain while online; 0 => 30s, <0 disables
	UpdateInterval time.Duration // manifest poll period; 0 disables polling
	ManifestKey    string        // 0 => "/manifest.json"
	PrefetchLimit  int           // concurrent asset prefetches; 0 => 4
	MaxEntries     int           // cache capacity; 0 => 4096
	MaxBytes       int64         // cache payload budget; 0 => 64MiB
	StartOnline    bool          // initial connectivity assumption
}

// New builds a Client. The client owns the stores it was given and closes
// them on Close.
func New(opts Options) (Client, error) {
	return newClient(opts)
}
