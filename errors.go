package syncache

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnreachable reports that a resource could not be served: the
	// network attempt failed (or was skipped while offline) and no usable
	// cached entry exists. Not retried automatically.
	ErrUnreachable = errors.New("syncache: resource unreachable")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("syncache: client closed")

	// ErrUnknownMutation is returned by Retry/Discard for an id that is
	// not (or no longer) in the queue.
	ErrUnknownMutation = errors.New("syncache: unknown mutation")

	// ErrNotTerminal is returned by Retry/Discard when the mutation is
	// still pending; pending mutations resolve through the orchestrator.
	ErrNotTerminal = errors.New("syncache: mutation not terminal")

	// ErrNoPendingGeneration is returned by ActivateNewGeneration when no
	// prefetched generation is waiting.
	ErrNoPendingGeneration = errors.New("syncache: no pending generation")
)

// UnreachableError wraps ErrUnreachable with the resource key and the
// network failure (if any) that exhausted the request.
type UnreachableError struct {
	Key   string
	Cause error
}

func (e *UnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("syncache: resource unreachable: %q: %v", e.Key, e.Cause)
	}
	return fmt.Sprintf("syncache: resource unreachable: %q", e.Key)
}

func (e *UnreachableError) Unwrap() []error {
	errs := []error{ErrUnreachable}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// TerminalReason says why a queued mutation stopped being retried.
type TerminalReason uint8

const (
	// ReasonConflictRejected: the server refused the mutation outright
	// (e.g. the resource was deleted). Last-writer-wins does not apply.
	ReasonConflictRejected TerminalReason = iota + 1
	// ReasonRetryExhausted: the attempt ceiling was reached.
	ReasonRetryExhausted
)

func (r TerminalReason) String() string {
	switch r {
	case ReasonConflictRejected:
		return "conflict_rejected"
	case ReasonRetryExhausted:
		return "retry_exhausted"
	default:
		return "unknown"
	}
}

// TerminalError marks a mutation that requires manual resolution via
// Retry or Discard. The mutation is retained, never silently dropped.
type TerminalError struct {
	ID     uuid.UUID
	Key    string
	Reason TerminalReason
	Cause  error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("syncache: mutation %s on %q terminally failed (%s): %v",
		e.ID, e.Key, e.Reason, e.Cause)
}

func (e *TerminalError) Unwrap() error { return e.Cause }
