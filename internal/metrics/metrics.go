// Package metrics exposes sync engine measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/spendsync/internal/engine"
	"github.com/roach88/spendsync/internal/ir"
)

const namespace = "spendsync"

// Recorder implements engine.Recorder on a Prometheus registry.
type Recorder struct {
	reg *prometheus.Registry

	queueDepth    prometheus.Gauge
	enqueuedTotal *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	drainDuration prometheus.Histogram
	drainsSkipped prometheus.Counter
}

var _ engine.Recorder = (*Recorder)(nil)

// New registers the sync collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		reg: reg,
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of operations in the mutation queue",
		}),
		enqueuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_enqueued_total",
			Help:      "Total number of operations enqueued or coalesced",
		}, []string{"kind", "method"}),
		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total number of remote calls by outcome",
		}, []string{"kind", "method", "result"}),
		drainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Duration of queue drains in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		drainsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drains_skipped_total",
			Help:      "Total number of drains skipped because one was already running",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) QueueDepth(n int) { r.queueDepth.Set(float64(n)) }

func (r *Recorder) Enqueued(kind ir.EntityKind, method ir.Method) {
	r.enqueuedTotal.WithLabelValues(string(kind), string(method)).Inc()
}

func (r *Recorder) Dispatched(kind ir.EntityKind, method ir.Method, result string) {
	r.dispatchTotal.WithLabelValues(string(kind), string(method), result).Inc()
}

func (r *Recorder) DrainCompleted(d time.Duration) { r.drainDuration.Observe(d.Seconds()) }

func (r *Recorder) DrainSkipped() { r.drainsSkipped.Inc() }
