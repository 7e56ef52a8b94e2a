// Package provider defines the persistent local storage abstraction used by
// the syncache cache store: a byte-oriented key-value store with bounded
// capacity and a quota-exceeded failure mode.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no prepended
// metadata, no re-encoding, no mutation). If a store performs internal
// transforms (e.g. compression), they MUST be fully reversed.
//
// The keyspace "entry:<ns>:" is owned by the cache store. External code
// MUST NOT write under this prefix; foreign writes are treated as corruption
// by wire validation and deleted.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrQuotaExceeded signals that a Set failed because the store is out of
// space. The cache store degrades such a put to a logged no-op; it is never
// surfaced to the caller as a hard failure.
var ErrQuotaExceeded = errors.New("provider: quota exceeded")

// Provider is a minimal byte store. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (0 = no expiry). May ignore cost
	// if unsupported. Returns ok=false when the store rejected the write
	// under pressure; returns ErrQuotaExceeded when out of space.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Scanner is implemented by durable providers that can enumerate keys by
// prefix. The cache store uses it to rebuild its in-memory index after a
// process restart; non-durable providers simply start empty.
type Scanner interface {
	// Scan calls fn for every key with the given prefix. fn returning an
	// error stops the scan and propagates the error.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
}
