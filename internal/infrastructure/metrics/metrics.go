// Package metrics exposes Prometheus instrumentation for the agent.
//
// The retention subsystem never surfaces transient transport or storage
// errors to the application; the backlog gauge and the sent/dropped/
// evicted counters are the observable signal it emits instead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Retention holds the retention subsystem's metrics.
//
// A nil *Retention is valid: every method is a no-op, so wiring metrics
// stays optional for tests and minimal deployments.
type Retention struct {
	Backlog   prometheus.Gauge
	Connected prometheus.Gauge
	Sent      prometheus.Counter
	Dropped   prometheus.Counter
	Evicted   prometheus.Counter
	Expired   prometheus.Counter
}

// NewRetention creates retention metrics registered with reg.
func NewRetention(reg prometheus.Registerer) *Retention {
	factory := promauto.With(reg)

	return &Retention{
		Backlog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tidemark_retention_backlog_records",
			Help: "Number of unsent records currently held by the retention store",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tidemark_transport_connected",
			Help: "Whether the transport session is currently connected (1) or not (0)",
		}),
		Sent: factory.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_retention_sent_total",
			Help: "Total records confirmed sent by the transport",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_retention_dropped_total",
			Help: "Total records dropped by validation at drain time",
		}),
		Evicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_retention_evicted_total",
			Help: "Total records evicted under storage pressure",
		}),
		Expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_retention_expired_total",
			Help: "Total records removed by the expiry sweep",
		}),
	}
}

// SetBacklog records the current unsent backlog size.
func (m *Retention) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.Backlog.Set(float64(n))
}

// SetConnected records the transport connectivity state.
func (m *Retention) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// IncSent counts a confirmed send.
func (m *Retention) IncSent() {
	if m == nil {
		return
	}
	m.Sent.Inc()
}

// IncDropped counts a record dropped by drain-time validation.
func (m *Retention) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

// AddEvicted counts records evicted under storage pressure.
func (m *Retention) AddEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Evicted.Add(float64(n))
}

// AddExpired counts records removed by the expiry sweep.
func (m *Retention) AddExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Expired.Add(float64(n))
}
