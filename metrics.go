package dxrt

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering single-task inference latency from 100us to 10s.
var LatencyBuckets = []uint64{
	100_000,        // 100us
	500_000,        // 500us
	1_000_000,      // 1ms
	5_000_000,      // 5ms
	10_000_000,     // 10ms
	50_000_000,     // 50ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 9

// Metrics tracks per-device performance and operational statistics for the
// inference pipeline (C16 Profiler).
type Metrics struct {
	TasksDispatched atomic.Uint64 // tasks handed to a device or CPU worker
	TasksCompleted  atomic.Uint64 // tasks that finished successfully
	TasksFailed     atomic.Uint64 // tasks that finished with an error
	TasksFallback   atomic.Uint64 // tasks executed by the CPU fallback worker

	BytesIn  atomic.Uint64 // input tensor bytes submitted
	BytesOut atomic.Uint64 // output tensor bytes produced

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordTask records the completion of a single task execution.
func (m *Metrics) RecordTask(bytesIn, bytesOut, latencyNs uint64, success, fallback bool) {
	m.TasksDispatched.Add(1)
	if success {
		m.TasksCompleted.Add(1)
	} else {
		m.TasksFailed.Add(1)
	}
	if fallback {
		m.TasksFallback.Add(1)
	}
	m.BytesIn.Add(bytesIn)
	m.BytesOut.Add(bytesOut)
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records the current per-device input-queue depth.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the engine as stopped for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, lock-free copy of Metrics suitable
// for exposing to a Prometheus collector or a CLI summary.
type MetricsSnapshot struct {
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

	LatencyHistogram [numLatencyBuckets]uint64

	TasksPerSecond float64
	ErrorRate      float64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TasksDispatched: m.TasksDispatched.Load(),
		TasksCompleted:  m.TasksCompleted.Load(),
		TasksFailed:     m.TasksFailed.Load(),
		TasksFallback:   m.TasksFallback.Load(),
		BytesIn:         m.BytesIn.Load(),
		BytesOut:        m.BytesOut.Load(),
		MaxQueueDepth:   m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.TasksPerSecond = float64(snap.TasksCompleted) / uptimeSeconds
	}

	if snap.TasksDispatched > 0 {
		snap.ErrorRate = float64(snap.TasksFailed) / float64(snap.TasksDispatched) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

func (m *Metrics) Reset() {
	m.TasksDispatched.Store(0)
	m.TasksCompleted.Store(0)
	m.TasksFailed.Store(0)
	m.TasksFallback.Store(0)
	m.BytesIn.Store(0)
	m.BytesOut.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable collection of per-task profiling events,
// mirroring the original runtime's profiler hook surface.
type Observer interface {
	ObserveTask(bytesIn, bytesOut, latencyNs uint64, success, fallback bool)
	ObserveQueueDepth(depth uint32)
}

type NoOpObserver struct{}

func (NoOpObserver) ObserveTask(uint64, uint64, uint64, bool, bool) {}
func (NoOpObserver) ObserveQueueDepth(uint32)                       {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveTask(bytesIn, bytesOut, latencyNs uint64, success, fallback bool) {
	o.metrics.RecordTask(bytesIn, bytesOut, latencyNs, success, fallback)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
