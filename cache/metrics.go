package cache

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultHit      = "hit"
	resultMiss     = "miss"
	resultOK       = "ok"
	resultRejected = "rejected"
	resultError    = "error"
	resultSkipped  = "skipped"
)

// Metrics counts cache operations. A nil *Metrics records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	expirations *prometheus.CounterVec
}

// NewMetrics registers the dcache counters on reg. Counters that are already
// registered, for example by a second factory sharing reg, are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcache",
			Name:      "operations_total",
			Help:      "Cache operations by cache id, operation and result.",
		}, []string{"cache", "op", "result"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcache",
			Name:      "fallbacks_total",
			Help:      "Operations routed to a fallback cache after the primary failed.",
		}, []string{"cache", "op"}),
		expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcache",
			Name:      "expirations_total",
			Help:      "Entries removed by a per-key expiry timer.",
		}, []string{"cache"}),
	}
	var err error
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.fallbacks, err = register(reg, m.fallbacks); err != nil {
		return nil, err
	}
	if m.expirations, err = register(reg, m.expirations); err != nil {
		return nil, err
	}
	return m, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, errors.Wrap(err, "registering cache metrics")
	}
	return c, nil
}

func (m *Metrics) operation(id, op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(id, op, result).Inc()
}

func (m *Metrics) fallback(id, op string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(id, op).Inc()
}

func (m *Metrics) expired(id string) {
	if m == nil {
		return
	}
	m.expirations.WithLabelValues(id).Inc()
}
