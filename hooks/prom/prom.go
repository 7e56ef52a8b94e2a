// Package promhook exposes the hook event stream as Prometheus metrics.
// Counters only; the hook surface is too hot for histograms with key labels.
package promhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/syncache"
)

type Hooks struct {
	putDegraded  prometheus.Counter
	selfHeal     *prometheus.CounterVec
	evicted      prometheus.Counter
	refreshFail  prometheus.Counter
	acked        prometheus.Counter
	conflicts    prometheus.Counter
	terminal     *prometheus.CounterVec
	status       *prometheus.CounterVec
	genAvailable prometheus.Counter
	genActivated prometheus.Counter
}

var _ syncache.Hooks = (*Hooks)(nil)

// New builds the metric set and registers it with reg (use
// prometheus.DefaultRegisterer for the process default).
func New(reg prometheus.Registerer) *Hooks {
	h := &Hooks{
		putDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncache_put_degraded_total",
			Help: "Cache puts degraded to no-ops by storage pressure or errors.",
		}),
		selfHeal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncache_self_heal_total",
			Help: "Cache entries deleted on read.",
		}, []string{"reason"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncache_entries_evicted_total",
			Help: "Entries evicted under capacity pressure.",
		}),
		refreshFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncache_refresh_failed_total",
			Help: "Failed background stale-while-revalidate refreshes.",
		}),
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncache_mutations_acked_total",
			Help: "Queued mutations acknowledged by the server.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncache_mutation_conflicts_total",
			Help: "Mutations applied over a reported concurrent modification.",
		}),
		terminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncache_mutations_terminal_total",
			Help: "Mutations that stopped being retried.",
		}, []string{"reason"}),
		status: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncache_status_transitions_total",
			Help: "Sync status transitions.",
		}, []string{"to"}),
		genAvailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncache_generations_available_total",
			Help: "New cache generations prefetched and offered for activation.",
		}),
		genActivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncache_generations_activated_total",
			Help: "Cache generation activations.",
		}),
	}
	reg.MustRegister(
		h.putDegraded, h.selfHeal, h.evicted, h.refreshFail,
		h.acked, h.conflicts, h.terminal, h.status,
		h.genAvailable, h.genActivated,
	)
	return h
}

func (h *Hooks) PutDegraded(string, error)          { h.putDegraded.Inc() }
func (h *Hooks) SelfHeal(_, reason string)          { h.selfHeal.WithLabelValues(reason).Inc() }
func (h *Hooks) EntryEvicted(string, time.Duration) { h.evicted.Inc() }
func (h *Hooks) RefreshFailed(string, error)        { h.refreshFail.Inc() }
func (h *Hooks) MutationAcked(string, int)          { h.acked.Inc() }
func (h *Hooks) MutationConflictOverwrite(_, _ string) {
	h.conflicts.Inc()
}
func (h *Hooks) MutationTerminal(_, _, reason string) {
	h.terminal.WithLabelValues(reason).Inc()
}
func (h *Hooks) StatusChanged(_, to string) { h.status.WithLabelValues(to).Inc() }
func (h *Hooks) GenerationAvailable(uint64) { h.genAvailable.Inc() }
func (h *Hooks) GenerationActivated(uint64) { h.genActivated.Inc() }
