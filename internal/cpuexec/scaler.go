package cpuexec

import (
	"context"
	"time"

	"github.com/klauspost/cpuid/v2"

	"github.com/dxrt-go/dxrt/internal/constants"
)

// InitialThreadCount picks the starting extra-thread count for a model of
// the given size, per spec §4.7: <=64KiB -> 0 extra, <=1MiB -> 1 extra,
// else 3 extra, always on top of the 1 baseline thread.
func InitialThreadCount(modelSizeBytes int64) int {
	switch {
	case modelSizeBytes <= constants.SmallModelBytes:
		return 1
	case modelSizeBytes <= constants.MediumModelBytes:
		return 2
	default:
		return 4
	}
}

// EffectiveMaxThreads clamps spec's MAX_EACH_CPU_TASK_THREADS to the host's
// actual logical core count, so a dynamic pool never over-subscribes a
// small machine even when the static ceiling allows more.
func EffectiveMaxThreads() int {
	max := constants.MaxEachCPUTaskThreads
	if cores := cpuid.CPU.LogicalCores; cores > 0 && cores < max {
		return cores
	}
	return max
}

// Scaler implements spec §4.7's dynamic thread-sizing control loop: every
// T_ctrl (initially DynamicCtrlIntervalInitial, tightened to
// DynamicCtrlIntervalSettled after the first change), sample the sliding
// average queue depth over a window sized windowSize, and spawn or retire
// one worker thread accordingly.
type Scaler struct {
	worker     *CpuHandleWorker
	windowSize int
	samples    []int
	idleSince  time.Time
	settled    bool
}

// NewScaler builds a Scaler sampling worker's queue depth over a window of
// windowSize ticks (spec: buffer_count * device_num).
func NewScaler(worker *CpuHandleWorker, windowSize int) *Scaler {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Scaler{worker: worker, windowSize: windowSize}
}

// Run drives the control loop until ctx is cancelled.
func (s *Scaler) Run(ctx context.Context) {
	interval := constants.DynamicCtrlIntervalInitial
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed := s.tick()
			if changed && interval != constants.DynamicCtrlIntervalSettled {
				interval = constants.DynamicCtrlIntervalSettled
				ticker.Reset(interval)
			}
		}
	}
}

// tick samples the queue depth, updates the sliding window, and applies
// spec §4.7's scale-up/scale-down rule. Returns whether the thread count
// changed.
func (s *Scaler) tick() bool {
	depth := s.worker.QueueDepth()
	s.samples = append(s.samples, depth)
	if len(s.samples) > s.windowSize {
		s.samples = s.samples[len(s.samples)-s.windowSize:]
	}

	avg := s.average()
	threads := s.worker.ThreadCount()

	if avg > float64(threads) {
		if s.worker.spawnThread() {
			s.idleSince = time.Time{}
			return true
		}
		return false
	}

	if avg == 0 {
		if s.idleSince.IsZero() {
			s.idleSince = time.Now()
			return false
		}
		if time.Since(s.idleSince) >= constants.DynamicCtrlIdleRetireWindow {
			s.idleSince = time.Time{}
			return s.worker.retireOneThread()
		}
		return false
	}

	s.idleSince = time.Time{}
	return false
}

func (s *Scaler) average() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	total := 0
	for _, v := range s.samples {
		total += v
	}
	return float64(total) / float64(len(s.samples))
}
