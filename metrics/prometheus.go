package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
	spend     *prometheus.CounterVec
}

func NewPrometheusRecorder() Recorder {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockrun",
			Name:      "payment_events_total",
			Help:      "payment cycle event counters",
		},
		[]string{"type", "network"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blockrun",
			Name:      "request_latency_seconds",
			Help:      "paid request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "network"},
	)

	spend := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockrun",
			Name:      "session_spend_usd_total",
			Help:      "cumulative session spend in USD",
		},
		[]string{"network"},
	)

	prometheus.MustRegister(counters, histogram, spend)

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
		spend:     spend,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"type":    name,
		"network": labels["network"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation": name,
		"network":   labels["network"],
	}).Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddSpend(usd float64, labels map[string]string) {
	p.spend.With(prometheus.Labels{
		"network": labels["network"],
	}).Add(usd)
}
