package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
	gauges    *prometheus.GaugeVec
}

// NewPrometheusRecorder registers the switch collectors on reg. A nil reg
// uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upiswitch",
			Name:      "events_total",
			Help:      "Switch events by leg and result",
		},
		[]string{"event", LabelLeg, LabelResult},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "upiswitch",
			Name:      "latency_seconds",
			Help:      "Latency of switch operations and collaborator calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", LabelLeg, LabelResult},
	)

	gauges := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "upiswitch",
			Name:      "state",
			Help:      "Point-in-time switch state such as pending contexts",
		},
		[]string{"name"},
	)

	reg.MustRegister(counters, histogram, gauges)

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
		gauges:    gauges,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"event":     name,
		LabelLeg:    labels[LabelLeg],
		LabelResult: labels[LabelResult],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation": name,
		LabelLeg:    labels[LabelLeg],
		LabelResult: labels[LabelResult],
	}).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetGauge(name string, value float64) {
	p.gauges.WithLabelValues(name).Set(value)
}
