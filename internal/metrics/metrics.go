package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	IdentityOperations *prometheus.CounterVec
	AuthEvents         *prometheus.CounterVec
	ProtectedFetches   *prometheus.CounterVec
	ActiveRuntimes     prometheus.Gauge
}

// New creates the metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdentityOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authweb_identity_operations_total",
			Help: "Identity provider operations by operation and result",
		}, []string{"operation", "result"}),
		AuthEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authweb_auth_events_total",
			Help: "Sign-in and sign-out events applied to browser auth state",
		}, []string{"event"}),
		ProtectedFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authweb_protected_fetches_total",
			Help: "Protected resource fetches by result",
		}, []string{"result"}),
		ActiveRuntimes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "authweb_active_runtimes",
			Help: "Browser runtimes currently held in memory",
		}),
	}
}

// ObserveIdentity counts one identity operation
func (m *Metrics) ObserveIdentity(operation string, err error) {
	if m == nil {
		return
	}
	m.IdentityOperations.WithLabelValues(operation, result(err)).Inc()
}

// ObserveEvent counts one applied auth event
func (m *Metrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event).Inc()
}

// ObserveFetch counts one protected fetch. result is "ok", "no_token",
// "unauthorized" or "error".
func (m *Metrics) ObserveFetch(result string) {
	if m == nil {
		return
	}
	m.ProtectedFetches.WithLabelValues(result).Inc()
}

// RuntimeAdded and RuntimeRemoved track the registry size
func (m *Metrics) RuntimeAdded() {
	if m == nil {
		return
	}
	m.ActiveRuntimes.Inc()
}

func (m *Metrics) RuntimeRemoved() {
	if m == nil {
		return
	}
	m.ActiveRuntimes.Dec()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
