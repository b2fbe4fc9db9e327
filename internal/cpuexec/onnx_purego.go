//go:build onnx

package cpuexec

import (
	"fmt"

	"github.com/ebitengine/purego"

	"github.com/dxrt-go/dxrt/internal/model"
)

// ONNXExecutor runs a CPU-fallback subgraph through a dlopen'd ONNX
// Runtime shared library via purego, avoiding cgo entirely. Built only
// with `-tags onnx`, since the shared library is an optional host
// dependency the default build must not require.
type ONNXExecutor struct {
	lib       uintptr
	session   uintptr
	inputs    []model.TensorSpec
	outputs   []model.TensorSpec
	sizeBytes int64

	ortCreateSession func(modelPath string) uintptr
	ortRun           func(session uintptr, inputs [][]byte, outputs [][]byte) int32
	ortReleaseSession func(session uintptr)
}

// OpenONNXExecutor dlopen's libPath (e.g. "libonnxruntime.so") and loads
// modelPath into a session.
func OpenONNXExecutor(libPath, modelPath string, inputs, outputs []model.TensorSpec, sizeBytes int64) (*ONNXExecutor, error) {
	lib, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("cpuexec: dlopen %s: %w", libPath, err)
	}

	e := &ONNXExecutor{lib: lib, inputs: inputs, outputs: outputs, sizeBytes: sizeBytes}

	purego.RegisterLibFunc(&e.ortCreateSession, lib, "DxrtOrtCreateSession")
	purego.RegisterLibFunc(&e.ortRun, lib, "DxrtOrtRun")
	purego.RegisterLibFunc(&e.ortReleaseSession, lib, "DxrtOrtReleaseSession")

	e.session = e.ortCreateSession(modelPath)
	if e.session == 0 {
		return nil, fmt.Errorf("cpuexec: onnxruntime session create failed for %s", modelPath)
	}
	return e, nil
}

func (e *ONNXExecutor) Run(inputs, outputs map[string][]byte) error {
	in := make([][]byte, 0, len(e.inputs))
	for _, spec := range e.inputs {
		in = append(in, inputs[spec.Name])
	}
	out := make([][]byte, 0, len(e.outputs))
	for _, spec := range e.outputs {
		buf := outputs[spec.Name]
		out = append(out, buf)
	}

	if rc := e.ortRun(e.session, in, out); rc != 0 {
		return fmt.Errorf("cpuexec: onnxruntime run failed, rc=%d", rc)
	}
	for i, spec := range e.outputs {
		outputs[spec.Name] = out[i]
	}
	return nil
}

func (e *ONNXExecutor) Inputs() []model.TensorSpec  { return e.inputs }
func (e *ONNXExecutor) Outputs() []model.TensorSpec { return e.outputs }
func (e *ONNXExecutor) ModelSizeBytes() int64       { return e.sizeBytes }

func (e *ONNXExecutor) Close() error {
	if e.session != 0 {
		e.ortReleaseSession(e.session)
	}
	return nil
}

var _ CPUExecutor = (*ONNXExecutor)(nil)
