// Package cpuexec implements the CPU-fallback execution path: the
// CPUExecutor capability trait, a pure-Go reference implementation, an
// optional ONNX Runtime backend behind a build tag, and the CpuHandleWorker
// dynamic-scaling thread pool (C9, spec §4.7).
package cpuexec

import "github.com/dxrt-go/dxrt/internal/model"

// CPUExecutor is a framework-agnostic CPU-side model session: its only
// execution surface is Run, plus introspection of its declared tensor
// shapes (spec §4.7: "framework-agnostic; its only interface is
// run(inputs, outputs) plus introspection").
type CPUExecutor interface {
	Run(inputs map[string][]byte, outputs map[string][]byte) error
	Inputs() []model.TensorSpec
	Outputs() []model.TensorSpec
	// ModelSizeBytes sizes the dynamic thread-scaling tier at construction
	// (spec §4.7: <=64KiB, <=1MiB, else).
	ModelSizeBytes() int64
	Close() error
}
