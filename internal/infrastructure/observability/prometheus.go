package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pairgate"

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	gatewayRequests *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	pairingAttempts *prometheus.CounterVec
	reconcileCycles *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		gatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Total number of requests sent to the messaging gateway.",
		}, []string{"op", "outcome"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of messaging gateway requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		pairingAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_attempts_total",
			Help:      "Total number of pairing attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		reconcileCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_cycles_total",
			Help:      "Total number of status reconciliation cycles by outcome.",
		}, []string{"outcome"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_cache_lookups_total",
			Help:      "Total number of instance cache lookups by result.",
		}, []string{"result"}),
	}
}

func (p *Prometheus) GatewayRequest(op, outcome string, elapsed time.Duration) {
	p.gatewayRequests.WithLabelValues(op, outcome).Inc()
	p.gatewayLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (p *Prometheus) PairingAttempt(strategy, outcome string) {
	p.pairingAttempts.WithLabelValues(strategy, outcome).Inc()
}

func (p *Prometheus) ReconcileCycle(outcome string) {
	p.reconcileCycles.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) CacheLookup(result string) {
	p.cacheLookups.WithLabelValues(result).Inc()
}
