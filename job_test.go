package dxrt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxrt-go/dxrt/internal/cpuexec"
	"github.com/dxrt-go/dxrt/internal/model"
)

func TestEngineRunAsyncThenWait(t *testing.T) {
	e := openEchoEngine(t)
	defer e.Close()

	id, err := e.RunAsync(map[string][]byte{"echo.in": {5, 6, 7}}, nil, nil)
	require.NoError(t, err)

	out, err := e.Wait(id)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7}, out["echo.out"])
}

func TestEngineWaitOnUnknownJobIDFails(t *testing.T) {
	e := openEchoEngine(t)
	defer e.Close()

	_, err := e.Wait(999999)
	assert.Error(t, err)
}

func TestEngineRegisterCallbackInvokedOnce(t *testing.T) {
	e := openEchoEngine(t)
	defer e.Close()

	var mu sync.Mutex
	var calls int
	var gotOut map[string][]byte
	done := make(chan struct{})

	err := e.RegisterCallback(map[string][]byte{"echo.in": {9}}, nil, nil, func(out map[string][]byte, err error) {
		mu.Lock()
		calls++
		gotOut = out
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, []byte{9}, gotOut["echo.out"])
}

func TestEngineRunBatchRunsEveryInput(t *testing.T) {
	e := openEchoEngine(t)
	defer e.Close()

	inputs := []BatchInput{
		{Tensors: map[string][]byte{"echo.in": {1}}},
		{Tensors: map[string][]byte{"echo.in": {2}}},
		{Tensors: map[string][]byte{"echo.in": {3}}},
	}

	results := e.RunBatch(inputs)
	require.Len(t, results, 3)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, inputs[i].Tensors["echo.in"], r.Outputs["echo.out"])
	}
}

func multiInputCPUFixture(name string) *model.Container {
	aOut := name + ".a_out"
	bOut := name + ".b_out"
	out := name + ".out"
	return &model.Container{
		CompilerVersion: "fixture-1.0",
		FormatVersion:   7,
		OutputOrder:     []string{out},
		Subgraphs: []model.SubgraphInfo{
			{
				Name:      name + "_a",
				Processor: model.ProcessorCPU,
				Inputs:    []model.TensorSpec{{Name: name + ".a_in"}},
				Outputs:   []model.TensorSpec{{Name: aOut}},
			},
			{
				Name:      name + "_b",
				Processor: model.ProcessorCPU,
				Inputs:    []model.TensorSpec{{Name: name + ".b_in"}},
				Outputs:   []model.TensorSpec{{Name: bOut}},
			},
			{
				Name:      name + "_combine",
				Processor: model.ProcessorCPU,
				Inputs:    []model.TensorSpec{{Name: aOut}, {Name: bOut}},
				Outputs:   []model.TensorSpec{{Name: out}},
			},
		},
	}
}

func TestEngineRunMultiInputWaitsOnAllHeads(t *testing.T) {
	data, err := model.EncodeFixture(multiInputCPUFixture("multi"))
	require.NoError(t, err)

	passthrough := func(inName, outName string) cpuexec.RunFunc {
		return func(inputs, outputs map[string][]byte) error {
			outputs[outName] = append([]byte(nil), inputs[inName]...)
			return nil
		}
	}
	combine := func(inputs, outputs map[string][]byte) error {
		a := inputs["multi.a_out"]
		b := inputs["multi.b_out"]
		outputs["multi.out"] = append(append([]byte(nil), a...), b...)
		return nil
	}

	e, err := OpenBytes(data,
		WithModelParser(model.FixtureParser{}),
		WithCPUExecutor("multi_a", NewMockCPUExecutor(nil, nil, 1024, passthrough("multi.a_in", "multi.a_out"))),
		WithCPUExecutor("multi_b", NewMockCPUExecutor(nil, nil, 1024, passthrough("multi.b_in", "multi.b_out"))),
		WithCPUExecutor("multi_combine", NewMockCPUExecutor(nil, nil, 1024, combine)),
	)
	require.NoError(t, err)
	defer e.Close()

	id, err := e.RunMultiInput(map[string][]byte{
		"multi.a_in": {1, 2},
		"multi.b_in": {3, 4},
	}, nil, nil)
	require.NoError(t, err)

	out, err := e.Wait(id)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, out["multi.out"])
}

// singleHeadTwoInputFixture is a single head task declaring two input
// tensors, the shape the monolithic-buffer auto-split policy targets
// (spec.md:216/318) — unlike multiInputCPUFixture, which has two separate
// head tasks.
func singleHeadTwoInputFixture(name string) *model.Container {
	return &model.Container{
		CompilerVersion: "fixture-1.0",
		FormatVersion:   7,
		OutputOrder:     []string{name + ".out"},
		Subgraphs: []model.SubgraphInfo{
			{
				Name:      name,
				Processor: model.ProcessorCPU,
				Inputs: []model.TensorSpec{
					{Name: name + ".a", Shape: []int64{2}, DataType: int(DataTypeUint8)},
					{Name: name + ".b", Shape: []int64{3}, DataType: int(DataTypeUint8)},
				},
				Outputs: []model.TensorSpec{{Name: name + ".out"}},
			},
		},
	}
}

func TestEngineRunMultiInputBufferSlicesInDeclaredOrder(t *testing.T) {
	data, err := model.EncodeFixture(singleHeadTwoInputFixture("split"))
	require.NoError(t, err)

	concat := func(inputs, outputs map[string][]byte) error {
		outputs["split.out"] = append(append([]byte(nil), inputs["split.a"]...), inputs["split.b"]...)
		return nil
	}

	e, err := OpenBytes(data,
		WithModelParser(model.FixtureParser{}),
		WithCPUExecutor("split", NewMockCPUExecutor(nil, nil, 1024, concat)),
	)
	require.NoError(t, err)
	defer e.Close()

	buf := []byte{1, 2, 3, 4, 5} // 2 bytes for .a, 3 bytes for .b
	id, err := e.RunMultiInputBuffer(buf, nil, nil)
	require.NoError(t, err)

	out, err := e.Wait(id)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, out["split.out"])
}

func TestEngineRunMultiInputBufferRejectsWrongLength(t *testing.T) {
	data, err := model.EncodeFixture(singleHeadTwoInputFixture("split"))
	require.NoError(t, err)

	e, err := OpenBytes(data,
		WithModelParser(model.FixtureParser{}),
		WithCPUExecutor("split", NewMockCPUExecutor(nil, nil, 1024, nil)),
	)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.RunMultiInputBuffer(make([]byte, 4), nil, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidArgument))
}

func TestEngineRunMultiInputBufferRejectsMultipleHeadTasks(t *testing.T) {
	data, err := model.EncodeFixture(multiInputCPUFixture("multi"))
	require.NoError(t, err)

	passthrough := func(inName, outName string) cpuexec.RunFunc {
		return func(inputs, outputs map[string][]byte) error {
			outputs[outName] = append([]byte(nil), inputs[inName]...)
			return nil
		}
	}
	e, err := OpenBytes(data,
		WithModelParser(model.FixtureParser{}),
		WithCPUExecutor("multi_a", NewMockCPUExecutor(nil, nil, 1024, passthrough("multi.a_in", "multi.a_out"))),
		WithCPUExecutor("multi_b", NewMockCPUExecutor(nil, nil, 1024, passthrough("multi.b_in", "multi.b_out"))),
		WithCPUExecutor("multi_combine", NewMockCPUExecutor(nil, nil, 1024, nil)),
	)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.RunMultiInputBuffer(make([]byte, 4), nil, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidArgument))
}
