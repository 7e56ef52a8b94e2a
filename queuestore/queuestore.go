// Package queuestore persists queued mutations. The default Memory store
// keeps the queue in-process; the SQLite store survives restarts, which the
// mutation queue requires for its durability contract (an enqueued mutation
// may be assumed to survive the process).
package queuestore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Op is the mutation's write operation.
type Op uint8

const (
	OpCreate Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// State of a queued mutation. Terminal mutations are retained and excluded
// from automatic drains until manually retried or discarded.
type State uint8

const (
	StatePending State = iota + 1
	StateTerminal
)

// Mutation is one durable write record. Owned by the mutation queue until
// acknowledged by the server, at which point it is deleted.
type Mutation struct {
	ID         uuid.UUID
	Seq        int64 // store-assigned, strictly increasing in enqueue order
	Key        string
	Op         Op
	Payload    []byte
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
	NotBefore  time.Time // backoff gate; zero = ready
	State      State
	Reason     string // terminal reason; empty while pending
}

// Store persists mutations. Implementations must be safe for concurrent use.
type Store interface {
	// Append durably records m and returns its assigned Seq. The write
	// must be committed before Append returns.
	Append(ctx context.Context, m Mutation) (int64, error)

	// Update replaces the record with m's ID (attempts, state, gates).
	Update(ctx context.Context, m Mutation) error

	// Delete removes a record; deleting a missing id is a no-op.
	Delete(ctx context.Context, id uuid.UUID) error

	// Get returns the record for id.
	Get(ctx context.Context, id uuid.UUID) (Mutation, bool, error)

	// List returns all records in ascending Seq (enqueue) order.
	List(ctx context.Context) ([]Mutation, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
