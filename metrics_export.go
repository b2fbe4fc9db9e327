package dxrt

import "github.com/dxrt-go/dxrt/internal/metricsexport"

// PrometheusCollector returns a prometheus.Collector (via internal/metricsexport
// so this package never imports the Prometheus client directly) that scrapes
// the engine's live Metrics on every Collect call.
func (e *Engine) PrometheusCollector() *metricsexport.Collector {
	return metricsexport.NewCollector(func() metricsexport.Snapshot {
		s := e.metrics.Snapshot()
		return metricsexport.Snapshot{
			TasksDispatched: s.TasksDispatched,
			TasksCompleted:  s.TasksCompleted,
			TasksFailed:     s.TasksFailed,
			TasksFallback:   s.TasksFallback,
			BytesIn:         s.BytesIn,
			BytesOut:        s.BytesOut,
			AvgQueueDepth:   s.AvgQueueDepth,
			MaxQueueDepth:   s.MaxQueueDepth,
			AvgLatencyNs:    s.AvgLatencyNs,
			UptimeNs:        s.UptimeNs,
			LatencyP50Ns:    s.LatencyP50Ns,
			LatencyP99Ns:    s.LatencyP99Ns,
			LatencyP999Ns:   s.LatencyP999Ns,
			TasksPerSecond:  s.TasksPerSecond,
			ErrorRate:       s.ErrorRate,
		}
	})
}
