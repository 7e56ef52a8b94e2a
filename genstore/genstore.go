// Package genstore tracks the active cache generation: the monotonically
// increasing integer identifying one deployed asset/version epoch. The
// update manager owns transitions; cache entries tagged with an older
// generation become eligible for eviction once a newer one activates.
package genstore

import "context"

// Store holds the active generation. Use Local for in-process state,
// SQLite for restart persistence, or Redis for multi-replica setups.
type Store interface {
	// Active returns the current generation; 0 before the first Activate.
	Active(ctx context.Context) (uint64, error)
	// Activate transitions to gen. Transitions are monotonic: activating
	// a generation <= the active one returns ErrNotMonotonic.
	Activate(ctx context.Context, gen uint64) error
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
