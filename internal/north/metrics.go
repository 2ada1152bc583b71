package north

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the north task's Prometheus collectors.
type Metrics struct {
	ReadingsSent  prometheus.Counter
	SendFailures  prometheus.Counter
	BlockDuration prometheus.Histogram
	Position      prometheus.Gauge
	Backlog       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReadingsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "influxnorth_readings_sent_total",
			Help: "Readings accepted by the destination database",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "influxnorth_send_failures_total",
			Help: "Blocks the forwarder failed to deliver",
		}),
		BlockDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "influxnorth_block_duration_seconds",
			Help:    "Time spent fetching and sending one block",
			Buckets: prometheus.DefBuckets,
		}),
		Position: factory.NewGauge(prometheus.GaugeOpts{
			Name: "influxnorth_stream_position",
			Help: "ID of the last delivered reading",
		}),
		Backlog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "influxnorth_backlog_readings",
			Help: "Buffered readings not yet delivered",
		}),
	}
}
