package syncache

import "time"

// Hooks are lightweight callbacks for high-signal events. Implementations
// MUST be cheap and non-blocking; the client calls them on hot paths.
// Wrap with hooks/async to decouple slow sinks.
type Hooks interface {
	// A cache put was degraded to a no-op (e.g. provider quota exceeded).
	PutDegraded(storageKey string, err error)

	// A cache entry was deleted by the store on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// An entry was evicted under capacity pressure.
	EntryEvicted(key string, age time.Duration)

	// A background stale-while-revalidate refresh failed. Never surfaced
	// to the originating caller; this hook is the only observer.
	RefreshFailed(key string, err error)

	// A queued mutation was acknowledged by the server.
	MutationAcked(id string, attempts int)

	// The server reported a concurrent modification but last-writer-wins
	// applied the mutation anyway.
	MutationConflictOverwrite(id, key string)

	// A mutation stopped being retried and awaits manual resolution.
	// reason ∈ {"conflict_rejected", "retry_exhausted"}
	MutationTerminal(id, key, reason string)

	// SyncStatus changed.
	StatusChanged(from, to string)

	// A new cache generation was prefetched (available) or activated.
	GenerationAvailable(gen uint64)
	GenerationActivated(gen uint64)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) PutDegraded(string, error)                 {}
func (NopHooks) SelfHeal(string, string)                   {}
func (NopHooks) EntryEvicted(string, time.Duration)        {}
func (NopHooks) RefreshFailed(string, error)               {}
func (NopHooks) MutationAcked(string, int)                 {}
func (NopHooks) MutationConflictOverwrite(string, string)  {}
func (NopHooks) MutationTerminal(string, string, string)   {}
func (NopHooks) StatusChanged(string, string)              {}
func (NopHooks) GenerationAvailable(uint64)                {}
func (NopHooks) GenerationActivated(uint64)                {}
