package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/syncache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	EvictEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	evictCtr    atomic.Uint64
}

var _ syncache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) PutDegraded(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("syncache.put_degraded",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("syncache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) EntryEvicted(key string, age time.Duration) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("syncache.entry_evicted",
		"key", h.redact(key),
		"age", age)
}

func (h *Hooks) RefreshFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Debug("syncache.refresh_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) MutationAcked(id string, attempts int) {
	if h.l == nil {
		return
	}
	h.l.Debug("syncache.mutation_acked",
		"id", id,
		"attempts", attempts)
}

func (h *Hooks) MutationConflictOverwrite(id, key string) {
	if h.l == nil {
		return
	}
	h.l.Info("syncache.mutation_conflict_overwrite",
		"id", id,
		"key", h.redact(key))
}

func (h *Hooks) MutationTerminal(id, key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("syncache.mutation_terminal",
		"id", id,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) StatusChanged(from, to string) {
	if h.l == nil {
		return
	}
	h.l.Info("syncache.status_changed",
		"from", from,
		"to", to)
}

func (h *Hooks) GenerationAvailable(gen uint64) {
	if h.l == nil {
		return
	}
	h.l.Info("syncache.generation_available",
		"generation", gen)
}

func (h *Hooks) GenerationActivated(gen uint64) {
	if h.l == nil {
		return
	}
	h.l.Info("syncache.generation_activated",
		"generation", gen)
}
