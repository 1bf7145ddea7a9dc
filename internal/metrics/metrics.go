package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the mirror's collectors. A nil *Metrics records nothing.
type Metrics struct {
	reconcileTotal    *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	reconcileRows     *prometheus.CounterVec
	queryDuration     prometheus.Histogram
	queryResults      prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poolmirror",
			Name:      "reconcile_total",
			Help:      "Reconciliations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "poolmirror",
			Name:      "reconcile_duration_seconds",
			Help:      "Wall time of a reconciliation including fetch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		reconcileRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poolmirror",
			Name:      "reconcile_rows_total",
			Help:      "Rows written by reconciliations.",
		}, []string{"kind", "op"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "poolmirror",
			Name:      "query_duration_seconds",
			Help:      "Pool query latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		queryResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "poolmirror",
			Name:      "query_results",
			Help:      "Pools returned per query.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{
		m.reconcileTotal, m.reconcileDuration, m.reconcileRows, m.queryDuration, m.queryResults,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveReconcile records one reconciliation outcome.
func (m *Metrics) ObserveReconcile(kind string, started time.Time, err error, updated, removed int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.reconcileTotal.WithLabelValues(kind, outcome).Inc()
	m.reconcileDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	if err == nil {
		m.reconcileRows.WithLabelValues(kind, "upsert").Add(float64(updated))
		m.reconcileRows.WithLabelValues(kind, "delete").Add(float64(removed))
	}
}

func (m *Metrics) ObserveQuery(started time.Time, results int) {
	if m == nil {
		return
	}
	m.queryDuration.Observe(time.Since(started).Seconds())
	m.queryResults.Observe(float64(results))
}
