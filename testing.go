package dxrt

import (
	"sync"

	"github.com/dxrt-go/dxrt/internal/cpuexec"
	"github.com/dxrt-go/dxrt/internal/driver"
	"github.com/dxrt-go/dxrt/internal/model"
)

// NewFixtureModel builds and msgpack-encodes a single-subgraph NPU
// NORMAL-type model, ready to pass to OpenBytes with
// WithModelParser(model.FixtureParser{}). Stands in for the original
// runtime's bundled test models, which this repo doesn't carry, with a
// round-trippable in-memory equivalent instead.
func NewFixtureModel(name string, inputShape, outputShape []int64) ([]byte, error) {
	c := model.BuildFixture(name, inputShape, outputShape)
	return model.EncodeFixture(c)
}

// NewCPUFixtureModel builds and msgpack-encodes a single-subgraph CPU
// model, the counterpart to NewFixtureModel for tests and examples that
// exercise the CPU fallback path (C9) without any accelerator device.
func NewCPUFixtureModel(name string, inputShape, outputShape []int64) ([]byte, error) {
	c := &model.Container{
		Name:            name,
		Version:         "1.0",
		CompilerVersion: "fixture-1.0",
		FormatVersion:   7,
		OutputOrder:     []string{name + ".out"},
		Subgraphs: []model.SubgraphInfo{
			{
				Name:      name,
				Processor: model.ProcessorCPU,
				Inputs: []model.TensorSpec{
					{Name: name + ".in", Shape: inputShape, DataType: 0, Layout: model.LayoutRaw},
				},
				Outputs: []model.TensorSpec{
					{Name: name + ".out", Shape: outputShape, DataType: 0, Layout: model.LayoutRaw},
				},
			},
		},
	}
	return model.EncodeFixture(c)
}

// NewSimAdapter builds an in-process Adapter answering IDENTIFY/
// NPU_RUN_REQ/EVENT synchronously from an in-memory device model, for
// tests and examples that need a driver.Adapter without real hardware.
func NewSimAdapter(memSize uint64, numDMAChannels int) *driver.SimAdapter {
	return driver.NewSimAdapter(memSize, numDMAChannels)
}

// MockCPUExecutor is a test/example double for cpuexec.CPUExecutor: it
// records every Run call and answers either via a caller-supplied RunFunc
// or, absent one, by echoing its first declared input into its first
// declared output, mirroring the teacher's call-tracking mock backend.
type MockCPUExecutor struct {
	mu sync.Mutex

	inputs    []model.TensorSpec
	outputs   []model.TensorSpec
	sizeBytes int64

	run      cpuexec.RunFunc
	runCalls int
	closed   bool
}

// NewMockCPUExecutor builds a MockCPUExecutor. run may be nil.
func NewMockCPUExecutor(inputs, outputs []model.TensorSpec, sizeBytes int64, run cpuexec.RunFunc) *MockCPUExecutor {
	return &MockCPUExecutor{inputs: inputs, outputs: outputs, sizeBytes: sizeBytes, run: run}
}

func (m *MockCPUExecutor) Run(inputs, outputs map[string][]byte) error {
	m.mu.Lock()
	m.runCalls++
	closed := m.closed
	run := m.run
	m.mu.Unlock()

	if closed {
		return NewError("MockCPUExecutor.Run", ErrInvalidOperation, "executor closed")
	}
	if run != nil {
		return run(inputs, outputs)
	}
	if len(m.inputs) == 0 || len(m.outputs) == 0 {
		return nil
	}
	outputs[m.outputs[0].Name] = append([]byte(nil), inputs[m.inputs[0].Name]...)
	return nil
}

func (m *MockCPUExecutor) Inputs() []model.TensorSpec  { return m.inputs }
func (m *MockCPUExecutor) Outputs() []model.TensorSpec { return m.outputs }
func (m *MockCPUExecutor) ModelSizeBytes() int64       { return m.sizeBytes }

func (m *MockCPUExecutor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// RunCalls reports how many times Run has been invoked, for test
// assertions.
func (m *MockCPUExecutor) RunCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCalls
}

// IsClosed reports whether Close has been called.
func (m *MockCPUExecutor) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ cpuexec.CPUExecutor = (*MockCPUExecutor)(nil)

// OpenSimEngine is the one-call test/example harness: it builds a
// single-subgraph NPU fixture, backs it with a SimAdapter, and returns a
// ready-to-run Engine plus its producing SimAdapter (useful for
// InjectEvent in failure-injection tests).
func OpenSimEngine(name string, inputShape, outputShape []int64, opts ...EngineOption) (*Engine, *driver.SimAdapter, error) {
	data, err := NewFixtureModel(name, inputShape, outputShape)
	if err != nil {
		return nil, nil, err
	}

	sim := driver.NewSimAdapter(1<<20, 2)
	allOpts := append([]EngineOption{
		WithModelParser(model.FixtureParser{}),
		WithAdapters(sim),
		WithSkipInferenceIO(true),
	}, opts...)

	engine, err := OpenBytes(data, allOpts...)
	if err != nil {
		sim.Close()
		return nil, nil, err
	}
	return engine, sim, nil
}
