package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds Prometheus metrics for the reconciliation monitor.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec // permauri_reconcile_runs_total{status}
	RunDuration  prometheus.Histogram   // permauri_reconcile_duration_seconds
	ChangesTotal *prometheus.CounterVec // permauri_reconcile_changes_total{action}
	ObjectsSeen  prometheus.Gauge       // permauri_objects_scanned
	MapEntries   prometheus.Gauge       // permauri_map_entries
	LastRunUnix  prometheus.Gauge       // permauri_last_run_timestamp_seconds
}

// InitMetrics registers the monitor metrics once and returns the shared
// instance. Passing nil uses the default registerer.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		metricsInstance = &Metrics{
			RunsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "permauri_reconcile_runs_total",
				Help: "Total reconciliation runs by outcome",
			}, []string{"status"}),

			RunDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
				Name:    "permauri_reconcile_duration_seconds",
				Help:    "Reconciliation run duration in seconds",
				Buckets: prometheus.DefBuckets,
			}),

			ChangesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "permauri_reconcile_changes_total",
				Help: "Detected changes by action (added, deleted, modified, moved)",
			}, []string{"action"}),

			ObjectsSeen: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "permauri_objects_scanned",
				Help: "Objects seen in the most recent bucket listing",
			}),

			MapEntries: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "permauri_map_entries",
				Help: "Live entries in the identifier map",
			}),

			LastRunUnix: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "permauri_last_run_timestamp_seconds",
				Help: "Unix timestamp of the last completed reconciliation run",
			}),
		}
	})
	return metricsInstance
}
