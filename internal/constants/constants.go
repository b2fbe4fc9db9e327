// Package constants holds tunables shared across the dxrt runtime.
package constants

import "time"

// Buffer pool / memory cache defaults (C1/C2).
const (
	// DefaultBufferCount is the per-task, per-device buffer-set count when
	// a model doesn't override it.
	DefaultBufferCount = 4

	// BufferAlignment is the minimum alignment for pool-allocated blocks.
	// The accelerator DMA engine requires page-aligned regions.
	BufferAlignment = 4096

	// MemCacheRingSize bounds the per-task device-memory offset ring (C2).
	MemCacheRingSize = 8

	// DevMemAllocAlignment is the rounding unit for device memory allocations (C6).
	DevMemAllocAlignment = 64
)

// Timeouts.
const (
	// BufferAcquireTimeout is the "long safety timeout" of spec §4.1: it
	// only fires on true deadlock, and firing is a hard ResourceExhausted
	// error.
	BufferAcquireTimeout = 2 * time.Hour

	// EventPollTimeout bounds how long the event handler blocks in poll()
	// before re-checking the stop flag.
	EventPollTimeout = 1 * time.Second

	// DeviceTerminateGrace is how long device termination waits for the
	// event thread to observe TERMINATE_EVENT before giving up.
	DeviceTerminateGrace = 5 * time.Second
)

// CPU worker thread scaling (C9).
const (
	MinEachCPUTaskThreads = 1
	MaxEachCPUTaskThreads = 6

	// Model-size thresholds used to pick the initial extra-thread count.
	SmallModelBytes  = 64 * 1024
	MediumModelBytes = 1 << 20

	DynamicCtrlIntervalInitial  = 200 * time.Millisecond
	DynamicCtrlIntervalSettled  = 10 * time.Millisecond
	DynamicCtrlIdleRetireWindow = 500 * time.Millisecond
)

// Batch and job pool sizing (C13/C14/C15).
const (
	InferenceJobMaxCount = 256
	MaxBatchSize         = 128
	DefaultJobPoolDepth  = 64
)

// Supported model container format versions (§6).
const (
	MinSupportedFormatVersion = 6
	MaxSupportedFormatVersion = 8
)

// PPU / PPCPU response handling.
const (
	DefaultMaxPPUFilterNum = 1024
)
