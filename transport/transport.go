// Package transport defines the network collaborator used by the strategy
// router, sync orchestrator and update manager: a single request function
// over logical resource keys. Implementations are expected to be idempotent
// for retried writes carrying the same IdempotencyKey (the server
// de-duplicates by it).
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Request is one network attempt against a logical resource.
type Request struct {
	Method  string // "GET", "POST", "PUT", "DELETE"
	Key     string // normalized resource key (path + query)
	Payload []byte // nil for reads

	// IdempotencyKey is the queued mutation's stable id. A retried write
	// that already succeeded server-side but whose acknowledgment was
	// lost must not duplicate the effect. Empty for reads.
	IdempotencyKey string
}

// Response carries the server payload for a successful request.
type Response struct {
	Payload []byte
}

// Transport performs network calls. Implementations must honor ctx
// cancellation and deadlines.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// ErrorKind classifies transport failures for the retry machinery.
type ErrorKind uint8

const (
	// KindNetwork: transient failure (connection, timeout, 5xx, 429).
	// Retried with backoff; reads fall back to cache.
	KindNetwork ErrorKind = iota + 1
	// KindConflict: the server reported a concurrent modification but the
	// write was applied last-writer-wins. Treated as success by callers.
	KindConflict
	// KindRejected: permanent refusal (resource deleted, validation).
	// Never retried; the mutation is surfaced for manual resolution.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindConflict:
		return "conflict"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure.
type Error struct {
	Kind   ErrorKind
	Status int // HTTP status when applicable, else 0
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NetworkError wraps err as a transient failure.
func NetworkError(err error) *Error { return &Error{Kind: KindNetwork, Err: err} }

func kindOf(err error) (ErrorKind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// IsNetwork reports whether err is a transient transport failure.
// Unclassified errors count as transient; only explicit conflict/reject
// classifications opt out of retry.
func IsNetwork(err error) bool {
	k, ok := kindOf(err)
	return !ok || k == KindNetwork
}

// IsConflict reports a concurrent-modification notice (write applied).
func IsConflict(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConflict
}

// IsRejected reports a permanent server refusal.
func IsRejected(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRejected
}
