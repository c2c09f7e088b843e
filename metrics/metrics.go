// Package metrics publishes apicache hook events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voltadmin/apicache"
)

const namespace = "apicache"

// Recorder implements apicache.Hooks on a Prometheus registry.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetches       *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	invalidations prometheus.Counter
	staleMarked   prometheus.Counter
	collected     prometheus.Counter
	selfHeals     *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	persistReject prometheus.Counter
	genErrors     *prometheus.CounterVec
}

var _ apicache.Hooks = (*Recorder)(nil)

// NewRecorder registers the collectors on reg. When reg is nil a dedicated
// registry is created so several clients can each own one.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	r := &Recorder{
		gatherer: reg,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "total",
			Help:      "Settled network fetches by operation and outcome.",
		}, []string{"operation", "status"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Latency of settled network fetches.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tags",
			Name:      "invalidations_total",
			Help:      "Tag invalidation calls.",
		}),
		staleMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tags",
			Name:      "entries_marked_total",
			Help:      "Entries marked stale by tag invalidation.",
		}),
		collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "collected_total",
			Help:      "Unsubscribed entries removed after the grace window.",
		}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "self_heals_total",
			Help:      "Cached results discarded on read.",
		}, []string{"reason"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "session_ended_total",
			Help:      "Auth failure episodes, by operation and error code.",
		}, []string{"operation", "code"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Storage medium failures degraded to misses.",
		}, []string{"op"}),
		persistReject: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "rejected_total",
			Help:      "Result writes rejected by the persistence provider.",
		}),
		genErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "genstore",
			Name:      "errors_total",
			Help:      "Generation store failures.",
		}, []string{"op"}),
	}
	reg.MustRegister(r.fetches, r.fetchLatency, r.invalidations, r.staleMarked, r.collected,
		r.selfHeals, r.authFailures, r.storageErrors, r.persistReject, r.genErrors)
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// Handler exposes the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

func (r *Recorder) Gatherer() prometheus.Gatherer { return r.gatherer }

func (r *Recorder) FetchResolved(op string, status apicache.Status, elapsed time.Duration) {
	r.fetches.WithLabelValues(op, status.String()).Inc()
	r.fetchLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (r *Recorder) TagsInvalidated(_, marked int) {
	r.invalidations.Inc()
	r.staleMarked.Add(float64(marked))
}

func (r *Recorder) SelfHeal(_, reason string)               { r.selfHeals.WithLabelValues(reason).Inc() }
func (r *Recorder) EntryCollected(string)                   { r.collected.Inc() }
func (r *Recorder) AuthFailure(op, code string)             { r.authFailures.WithLabelValues(op, code).Inc() }
func (r *Recorder) StorageError(op, _ string, _ error)      { r.storageErrors.WithLabelValues(op).Inc() }
func (r *Recorder) PersistRejected(string)                  { r.persistReject.Inc() }
func (r *Recorder) GenStoreError(op string, _ int, _ error) { r.genErrors.WithLabelValues(op).Inc() }
