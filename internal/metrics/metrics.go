// Package metrics exposes claim pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the claim engine reports to.
type Recorder interface {
	Claim(stage, result string)
	Settlement(kind, status string)
	Refund(kind string)
	InFlight(n int)
	SettlementLatency(d time.Duration)
}

type NoopRecorder struct{}

func (NoopRecorder) Claim(string, string)             {}
func (NoopRecorder) Settlement(string, string)        {}
func (NoopRecorder) Refund(string)                    {}
func (NoopRecorder) InFlight(int)                     {}
func (NoopRecorder) SettlementLatency(time.Duration) {}

type PrometheusRecorder struct {
	registry    *prometheus.Registry
	claims      *prometheus.CounterVec
	settlements *prometheus.CounterVec
	refunds     *prometheus.CounterVec
	inFlight    prometheus.Gauge
	latency     prometheus.Histogram
}

// NewPrometheusRecorder registers the engine collectors on a private registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkdrop",
		Name:      "claims_total",
		Help:      "Claim attempts by pipeline stage and result",
	}, []string{"stage", "result"})

	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkdrop",
		Name:      "settlements_total",
		Help:      "Resolved settlements by action kind and status",
	}, []string{"kind", "status"})

	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkdrop",
		Name:      "refunds_total",
		Help:      "Compensating refunds applied after failed settlements",
	}, []string{"kind"})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "linkdrop",
		Name:      "claims_in_flight",
		Help:      "Claims awaiting settlement outcomes",
	})

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "linkdrop",
		Name:      "settlement_latency_seconds",
		Help:      "Time from dispatch to observed outcome",
		Buckets:   prometheus.DefBuckets,
	})

	r := prometheus.NewRegistry()
	r.MustRegister(claims, settlements, refunds, inFlight, latency)

	return &PrometheusRecorder{
		registry:    r,
		claims:      claims,
		settlements: settlements,
		refunds:     refunds,
		inFlight:    inFlight,
		latency:     latency,
	}
}

// Handler serves the recorder's registry.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) Claim(stage, result string) {
	p.claims.WithLabelValues(stage, result).Inc()
}

func (p *PrometheusRecorder) Settlement(kind, status string) {
	p.settlements.WithLabelValues(kind, status).Inc()
}

func (p *PrometheusRecorder) Refund(kind string) {
	p.refunds.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) InFlight(n int) {
	p.inFlight.Set(float64(n))
}

func (p *PrometheusRecorder) SettlementLatency(d time.Duration) {
	p.latency.Observe(d.Seconds())
}
