package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "balancir"

type promMetrics struct {
	dispatches *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	demotions  *prometheus.CounterVec
	revivals   *prometheus.CounterVec
	probes     *prometheus.CounterVec
	active     *prometheus.GaugeVec
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	factory := promauto.With(reg)

	return &promMetrics{
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Calls forwarded to a connector, by outcome.",
		}, []string{"connector", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of forwarded calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"connector"}),
		demotions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "demotions_total",
			Help:      "Connectors moved from the active to the failed set.",
		}, []string{"connector"}),
		revivals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revivals_total",
			Help:      "Connectors reactivated by the monitor.",
		}, []string{"connector"}),
		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Health probes issued to failed connectors, by outcome.",
		}, []string{"connector", "outcome"}),
		active: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connector_active",
			Help:      "1 while the connector receives traffic, 0 while it is failed.",
		}, []string{"connector"}),
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (p *promMetrics) observeDispatch(connector string, d time.Duration, success bool) {
	p.dispatches.WithLabelValues(connector, outcome(success)).Inc()
	p.latency.WithLabelValues(connector).Observe(d.Seconds())
}

func (p *promMetrics) observeProbe(connector string, success bool) {
	p.probes.WithLabelValues(connector, outcome(success)).Inc()
}

func (p *promMetrics) observeDemotion(connector string) {
	p.demotions.WithLabelValues(connector).Inc()
	p.active.WithLabelValues(connector).Set(0)
}

func (p *promMetrics) observeRevival(connector string) {
	p.revivals.WithLabelValues(connector).Inc()
	p.active.WithLabelValues(connector).Set(1)
}

func (p *promMetrics) observeRegistered(connector string) {
	p.active.WithLabelValues(connector).Set(1)
}
