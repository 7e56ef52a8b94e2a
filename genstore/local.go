package genstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotMonotonic is returned when Activate would move the generation
// backwards (or to itself).
var ErrNotMonotonic = errors.New("genstore: generation must increase")

// Local keeps the active generation in-process (default). State does not
// survive restarts; pair with a durable store when cached entries do.
type Local struct {
	mu     sync.RWMutex
	active uint64
}

var _ Store = (*Local)(nil)

func NewLocal() *Local { return &Local{} }

// NewLocalAt starts at gen; used by tests and by callers restoring a
// previously persisted generation themselves.
func NewLocalAt(gen uint64) *Local { return &Local{active: gen} }

func (s *Local) Active(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, nil
}

func (s *Local) Activate(_ context.Context, gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.active {
		return ErrNotMonotonic
	}
	s.active = gen
	return nil
}

func (s *Local) Close(_ context.Context) error { return nil }
