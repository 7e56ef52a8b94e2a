package queuestore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("queuestore: mutation not found")

// Memory keeps the queue in-process. Durable only for the lifetime of the
// process; use the SQLite store when mutations must survive restarts.
type Memory struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]Mutation
	nextSeq int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{byID: make(map[uuid.UUID]Mutation)}
}

func (s *Memory) Append(_ context.Context, m Mutation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	m.Seq = s.nextSeq
	s.byID[m.ID] = m
	return m.Seq, nil
}

func (s *Memory) Update(_ context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[m.ID]
	if !ok {
		return ErrNotFound
	}
	m.Seq = cur.Seq // Seq is immutable once assigned
	s.byID[m.ID] = m
	return nil
}

func (s *Memory) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *Memory) Get(_ context.Context, id uuid.UUID) (Mutation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	return m, ok, nil
}

func (s *Memory) List(_ context.Context) ([]Mutation, error) {
	s.mu.RLock()
	out := make([]Mutation, 0, len(s.byID))
	for _, m := range s.byID {
		out = append(out, m)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Memory) Close(_ context.Context) error { return nil }
