// Package metricsexport adapts the engine's atomic-counter Metrics (C16)
// into a github.com/prometheus/client_golang Collector, kept as its own
// package so the root engine never has to import the Prometheus client
// directly and internal/* stays free of the root package's error/metrics
// types (the same narrow-interface discipline internal/device and
// internal/jobpool use for their own root-facing surfaces).
package metricsexport

import "github.com/prometheus/client_golang/prometheus"

// Snapshot mirrors the fields of the root package's MetricsSnapshot this
// collector exposes. A plain struct, not an import of the root type,
// keeps this package import-cycle free.
type Snapshot struct {
	TasksDispatched uint64
	TasksCompleted  uint64
	TasksFailed     uint64
	TasksFallback   uint64

	BytesIn  uint64
	BytesOut uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	TasksPerSecond float64
	ErrorRate      float64
}

// Provider returns the current snapshot on demand; called once per
// Prometheus scrape.
type Provider func() Snapshot

// Collector implements prometheus.Collector over a Provider, the engine's
// equivalent of the teacher's Stats()-to-map approach generalized into
// typed Prometheus metrics instead of a map[string]interface{}.
type Collector struct {
	provider Provider

	tasksDispatched *prometheus.Desc
	tasksCompleted  *prometheus.Desc
	tasksFailed     *prometheus.Desc
	tasksFallback   *prometheus.Desc
	bytesIn         *prometheus.Desc
	bytesOut        *prometheus.Desc
	avgQueueDepth   *prometheus.Desc
	maxQueueDepth   *prometheus.Desc
	avgLatency      *prometheus.Desc
	uptime          *prometheus.Desc
	latencyP50      *prometheus.Desc
	latencyP99      *prometheus.Desc
	latencyP999     *prometheus.Desc
	tasksPerSecond  *prometheus.Desc
	errorRate       *prometheus.Desc
}

// NewCollector builds a Collector that calls provider on every Collect.
func NewCollector(provider Provider) *Collector {
	ns := "dxrt"
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(ns+"_"+name, help, nil, nil)
	}
	return &Collector{
		provider:        provider,
		tasksDispatched: desc("tasks_dispatched_total", "Tasks handed to a device or CPU worker"),
		tasksCompleted:  desc("tasks_completed_total", "Tasks that finished successfully"),
		tasksFailed:     desc("tasks_failed_total", "Tasks that finished with an error"),
		tasksFallback:   desc("tasks_fallback_total", "Tasks executed by the CPU fallback worker"),
		bytesIn:         desc("bytes_in_total", "Input tensor bytes submitted"),
		bytesOut:        desc("bytes_out_total", "Output tensor bytes produced"),
		avgQueueDepth:   desc("queue_depth_avg", "Average per-device input-queue depth"),
		maxQueueDepth:   desc("queue_depth_max", "Maximum observed per-device input-queue depth"),
		avgLatency:      desc("latency_avg_ns", "Average task latency in nanoseconds"),
		uptime:          desc("uptime_ns", "Engine uptime in nanoseconds"),
		latencyP50:      desc("latency_p50_ns", "50th percentile task latency in nanoseconds"),
		latencyP99:      desc("latency_p99_ns", "99th percentile task latency in nanoseconds"),
		latencyP999:     desc("latency_p999_ns", "99.9th percentile task latency in nanoseconds"),
		tasksPerSecond:  desc("tasks_per_second", "Completed tasks per second over the engine's lifetime"),
		errorRate:       desc("error_rate_percent", "Percentage of dispatched tasks that failed"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasksDispatched
	ch <- c.tasksCompleted
	ch <- c.tasksFailed
	ch <- c.tasksFallback
	ch <- c.bytesIn
	ch <- c.bytesOut
	ch <- c.avgQueueDepth
	ch <- c.maxQueueDepth
	ch <- c.avgLatency
	ch <- c.uptime
	ch <- c.latencyP50
	ch <- c.latencyP99
	ch <- c.latencyP999
	ch <- c.tasksPerSecond
	ch <- c.errorRate
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider()

	ch <- prometheus.MustNewConstMetric(c.tasksDispatched, prometheus.CounterValue, float64(s.TasksDispatched))
	ch <- prometheus.MustNewConstMetric(c.tasksCompleted, prometheus.CounterValue, float64(s.TasksCompleted))
	ch <- prometheus.MustNewConstMetric(c.tasksFailed, prometheus.CounterValue, float64(s.TasksFailed))
	ch <- prometheus.MustNewConstMetric(c.tasksFallback, prometheus.CounterValue, float64(s.TasksFallback))
	ch <- prometheus.MustNewConstMetric(c.bytesIn, prometheus.CounterValue, float64(s.BytesIn))
	ch <- prometheus.MustNewConstMetric(c.bytesOut, prometheus.CounterValue, float64(s.BytesOut))
	ch <- prometheus.MustNewConstMetric(c.avgQueueDepth, prometheus.GaugeValue, s.AvgQueueDepth)
	ch <- prometheus.MustNewConstMetric(c.maxQueueDepth, prometheus.GaugeValue, float64(s.MaxQueueDepth))
	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, float64(s.AvgLatencyNs))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.CounterValue, float64(s.UptimeNs))
	ch <- prometheus.MustNewConstMetric(c.latencyP50, prometheus.GaugeValue, float64(s.LatencyP50Ns))
	ch <- prometheus.MustNewConstMetric(c.latencyP99, prometheus.GaugeValue, float64(s.LatencyP99Ns))
	ch <- prometheus.MustNewConstMetric(c.latencyP999, prometheus.GaugeValue, float64(s.LatencyP999Ns))
	ch <- prometheus.MustNewConstMetric(c.tasksPerSecond, prometheus.GaugeValue, s.TasksPerSecond)
	ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, s.ErrorRate)
}

var _ prometheus.Collector = (*Collector)(nil)
