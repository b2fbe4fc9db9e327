package cpuexec

import "github.com/dxrt-go/dxrt/internal/model"

// RunFunc is the user-supplied computation a ReferenceExecutor delegates
// to. Production integrations plug in a real framework's session here;
// this repo carries no bundled model-execution framework (spec's
// framework integration is explicitly out of scope beyond the interface).
type RunFunc func(inputs map[string][]byte, outputs map[string][]byte) error

// ReferenceExecutor is the default, dependency-free CPUExecutor used by
// tests, examples, and any subgraph whose CPU fallback is "just copy/
// transform bytes in Go" rather than a bundled inference framework.
type ReferenceExecutor struct {
	inputs    []model.TensorSpec
	outputs   []model.TensorSpec
	sizeBytes int64
	run       RunFunc
}

// NewReferenceExecutor builds a ReferenceExecutor around run.
func NewReferenceExecutor(inputs, outputs []model.TensorSpec, sizeBytes int64, run RunFunc) *ReferenceExecutor {
	return &ReferenceExecutor{inputs: inputs, outputs: outputs, sizeBytes: sizeBytes, run: run}
}

func (r *ReferenceExecutor) Run(inputs, outputs map[string][]byte) error {
	return r.run(inputs, outputs)
}

func (r *ReferenceExecutor) Inputs() []model.TensorSpec  { return r.inputs }
func (r *ReferenceExecutor) Outputs() []model.TensorSpec { return r.outputs }
func (r *ReferenceExecutor) ModelSizeBytes() int64       { return r.sizeBytes }
func (r *ReferenceExecutor) Close() error                { return nil }

var _ CPUExecutor = (*ReferenceExecutor)(nil)
