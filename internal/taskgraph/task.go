// Package taskgraph implements the runtime task graph: Task (C11), its
// per-task buffer pool trio (spec §4.9), and its device-memory cache
// (C2). Tasks are built from internal/model.TaskPlan once at load time
// and are immutable thereafter except for their pools and metric windows
// (spec §3).
package taskgraph

import (
	"sync"
	"time"

	"github.com/dxrt-go/dxrt/internal/model"
)

// Processor mirrors model.Processor without importing it into every call
// site that only cares about task placement.
type Processor = model.Processor

const (
	ProcessorNPU = model.ProcessorNPU
	ProcessorCPU = model.ProcessorCPU
)

// Task is one node of the task graph.
type Task struct {
	ID         int
	Name       string
	Processor  Processor
	IsHead     bool
	IsTail     bool
	Inputs     []model.TensorSpec
	Outputs    []model.TensorSpec
	ModelType  model.NPUModelType // NPU tasks only
	RegisterMap []byte            // NPU tasks only
	Weights     []byte            // NPU tasks only
	PPUBinary   []byte            // optional

	BoundDevices []int // device IDs this task may be dispatched to

	Pools *BufferPools
	Cache *MemCache // nil for CPU tasks

	mu           sync.Mutex
	latencyWindow []time.Duration
	windowCap     int
	lastOutput    []byte
}

// NewTask builds a Task from a model.TaskPlan. Pools and Cache are wired
// separately by the engine once device/buffer-count configuration is
// known (spec §4.9's pool sizing depends on device_count which is only
// resolved after device discovery).
func NewTask(id int, plan model.TaskPlan, boundDevices []int) *Task {
	return &Task{
		ID:           id,
		Name:         plan.Info.Name,
		Processor:    plan.Info.Processor,
		IsHead:       plan.IsHead,
		IsTail:       plan.IsTail,
		Inputs:       plan.Info.Inputs,
		Outputs:      plan.Info.Outputs,
		ModelType:    plan.Info.ModelType,
		RegisterMap:  plan.Info.RegisterMap,
		Weights:      plan.Info.Weights,
		PPUBinary:    plan.Info.PPUBinary,
		BoundDevices: boundDevices,
		windowCap:    64,
	}
}

// AttachPools wires this task's buffer pool trio and device-memory cache,
// once device/buffer-count configuration is resolved.
func (t *Task) AttachPools(pools *BufferPools, cache *MemCache) {
	t.Pools = pools
	t.Cache = cache
}

// RecordLatency appends one completed request's latency to the rolling
// window, evicting the oldest entry once the window is full.
func (t *Task) RecordLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latencyWindow = append(t.latencyWindow, d)
	if len(t.latencyWindow) > t.windowCap {
		t.latencyWindow = t.latencyWindow[len(t.latencyWindow)-t.windowCap:]
	}
}

// AverageLatency returns the rolling window's mean latency, or 0 if empty.
func (t *Task) AverageLatency() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.latencyWindow) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range t.latencyWindow {
		total += d
	}
	return total / time.Duration(len(t.latencyWindow))
}

// SetLastOutput stores a snapshot of this task's most recent output for
// instrumentation (spec §4.9), copying so later mutation of the caller's
// buffer doesn't retroactively change the snapshot.
func (t *Task) SetLastOutput(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastOutput = append(t.lastOutput[:0], b...)
}

// LastOutput returns a copy of the most recent output snapshot.
func (t *Task) LastOutput() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.lastOutput))
	copy(out, t.lastOutput)
	return out
}

// IsNPU reports whether this task executes on the accelerator.
func (t *Task) IsNPU() bool { return t.Processor == ProcessorNPU }
