// Package metrics exposes Prometheus instruments for the polling loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

// Metrics holds the poller's instruments. It observes cycles through the
// telemetry.Observer interface.
type Metrics struct {
	CyclesTotal      *prometheus.CounterVec
	SourcePollsTotal *prometheus.CounterVec
	RecordFields     prometheus.Gauge
	CycleDuration    prometheus.Histogram
	LastCycle        prometheus.Gauge
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solarmon",
				Subsystem: "poller",
				Name:      "cycles_total",
				Help:      "Poll cycles by outcome",
			},
			[]string{"outcome"},
		),
		SourcePollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solarmon",
				Subsystem: "source",
				Name:      "polls_total",
				Help:      "Source polls by source and status (available, unavailable)",
			},
			[]string{"source", "status"},
		),
		RecordFields: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "solarmon",
				Subsystem: "poller",
				Name:      "record_fields",
				Help:      "Fields in the last merged record",
			},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "solarmon",
				Subsystem: "poller",
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of one poll-merge-write cycle",
				Buckets:   prometheus.DefBuckets,
			},
		),
		LastCycle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "solarmon",
				Subsystem: "poller",
				Name:      "last_cycle_timestamp_seconds",
				Help:      "Unix time the last cycle finished",
			},
		),
	}

	reg.MustRegister(m.CyclesTotal, m.SourcePollsTotal, m.RecordFields, m.CycleDuration, m.LastCycle)
	return m
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(r telemetry.CycleReport) {
	m.CyclesTotal.WithLabelValues(string(r.Outcome)).Inc()
	if r.Outcome == telemetry.OutcomeCancelled {
		return
	}
	for _, s := range r.Sources {
		status := "available"
		if !s.Available {
			status = "unavailable"
		}
		m.SourcePollsTotal.WithLabelValues(s.Name, status).Inc()
	}
	m.RecordFields.Set(float64(r.Record.Len()))
	m.CycleDuration.Observe(r.Finished.Sub(r.Started).Seconds())
	m.LastCycle.Set(float64(r.Finished.Unix()))
}
