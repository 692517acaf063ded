package backfill

import (
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "billsync"

// Pair results used as metric labels.
const (
	resultSuccess = "success"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)

// Metrics are the backfill and provider pull collectors.
type Metrics struct {
	pairs        *prometheus.CounterVec
	pullDuration *prometheus.HistogramVec
	running      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "backfill_pairs_total",
				Help:      "Vendor-month pairs processed by backfill jobs, by outcome.",
			},
			[]string{"provider", "result"},
		),
		pullDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "provider_pull_seconds",
				Help:      "Duration of provider billing pulls including retries.",
				Buckets:   []float64{0.5, 1, 5, 15, 60, 300},
			},
			[]string{"provider", "result"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "backfill_running",
				Help:      "1 while a backfill job is running.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.pairs, m.pullDuration, m.running)
	}
	return m
}

// ObservePull records one connector pull. It matches ingest.PullObserver.
func (m *Metrics) ObservePull(provider model.Provider, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailed
	}
	m.pullDuration.WithLabelValues(string(provider), result).Observe(elapsed.Seconds())
}

func (m *Metrics) pair(provider model.Provider, result string) {
	if m == nil {
		return
	}
	m.pairs.WithLabelValues(string(provider), result).Inc()
}

func (m *Metrics) setRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

