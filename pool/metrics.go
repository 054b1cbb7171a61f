package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors the DataSource management readout (section 6) as
// Prometheus gauges. It is additive, not a replacement: the plain getters
// on Stats keep working standalone, consistent with the spec's framing of
// telemetry as an external, not-redesigned collaborator (component J).
type Metrics struct {
	openGauge               prometheus.Gauge
	idleGauge               prometheus.Gauge
	activeTransactionsGauge prometheus.Gauge
}

func newMetrics(url string) *Metrics {
	labels := prometheus.Labels{"url": url}
	m := &Metrics{
		openGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dbpool",
			Name:        "open_connections",
			Help:        "Currently alive pooled connections (idle + pinned).",
			ConstLabels: labels,
		}),
		idleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dbpool",
			Name:        "idle_connections",
			Help:        "Pooled connections currently idle and available to borrow.",
			ConstLabels: labels,
		}),
		activeTransactionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dbpool",
			Name:        "active_transactions",
			Help:        "Transactions currently holding a pinned pooled connection.",
			ConstLabels: labels,
		}),
	}
	// Registration failures (e.g. duplicate URL label registered twice
	// against the default registry) are non-fatal: the gauges still work
	// as local counters even if a second pool against the same URL can't
	// also register them.
	_ = prometheus.Register(m.openGauge)
	_ = prometheus.Register(m.idleGauge)
	_ = prometheus.Register(m.activeTransactionsGauge)
	return m
}

func (m *Metrics) setOpenCount(n int)          { m.openGauge.Set(float64(n)) }
func (m *Metrics) setIdleCount(n int)          { m.idleGauge.Set(float64(n)) }
func (m *Metrics) setActiveTransactions(n int) { m.activeTransactionsGauge.Set(float64(n)) }

// Collectors returns the gauges for embedding in a caller-owned
// prometheus.Registry, for callers that don't want to use the global
// default registry.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.openGauge, m.idleGauge, m.activeTransactionsGauge}
}
