package dxrt

import "github.com/dxrt-go/dxrt/internal/constants"

// Re-export constants for public API.
const (
	DefaultBufferCount       = constants.DefaultBufferCount
	BufferAlignment          = constants.BufferAlignment
	MinEachCPUTaskThreads    = constants.MinEachCPUTaskThreads
	MaxEachCPUTaskThreads    = constants.MaxEachCPUTaskThreads
	InferenceJobMaxCount     = constants.InferenceJobMaxCount
	MaxBatchSize             = constants.MaxBatchSize
	MinSupportedFormatVersion = constants.MinSupportedFormatVersion
	MaxSupportedFormatVersion = constants.MaxSupportedFormatVersion
)
