// Package metrics records migration outcomes as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deadletter/schema"
)

// Collector implements schema.Observer. Its metrics live on a private
// registry so that a run can be written to a textfile without the
// process-wide default metrics.
type Collector struct {
	registry *prometheus.Registry

	applied  *prometheus.CounterVec
	reverted *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lastRun  prometheus.Gauge
}

var _ schema.Observer = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		applied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schema_migrations_applied_total",
				Help: "Total migrations applied",
			},
			[]string{"version"},
		),
		reverted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schema_migrations_reverted_total",
				Help: "Total migrations reverted",
			},
			[]string{"version"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schema_migration_failures_total",
				Help: "Total migration failures by error kind",
			},
			[]string{"version", "kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schema_migration_duration_seconds",
				Help:    "Time spent applying or reverting a migration",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
			},
			[]string{"direction"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "schema_migrations_last_run_timestamp_seconds",
				Help: "Unix time of the last migration step",
			},
		),
	}
	c.registry.MustRegister(c.applied, c.reverted, c.failures, c.duration, c.lastRun)
	return c
}

// Registry exposes the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) MigrationApplied(version string, duration time.Duration) {
	c.applied.WithLabelValues(version).Inc()
	c.duration.WithLabelValues("up").Observe(duration.Seconds())
	c.lastRun.SetToCurrentTime()
}

func (c *Collector) MigrationReverted(version string, duration time.Duration) {
	c.reverted.WithLabelValues(version).Inc()
	c.duration.WithLabelValues("down").Observe(duration.Seconds())
	c.lastRun.SetToCurrentTime()
}

func (c *Collector) MigrationFailed(version string, err error) {
	c.failures.WithLabelValues(version, schema.ErrorKind(err)).Inc()
	c.lastRun.SetToCurrentTime()
}

// WriteTextfile writes every metric in the Prometheus text format for the
// node-exporter textfile collector.
func (c *Collector) WriteTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, c.registry)
}
