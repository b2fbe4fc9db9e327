package dxrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxrt-go/dxrt/internal/model"
)

func openEchoEngine(t *testing.T) *Engine {
	t.Helper()

	data, err := NewCPUFixtureModel("echo", []int64{1, 4}, []int64{1, 4})
	require.NoError(t, err)

	executor := NewMockCPUExecutor(
		[]model.TensorSpec{{Name: "echo.in"}},
		[]model.TensorSpec{{Name: "echo.out"}},
		1024,
		nil,
	)

	e, err := OpenBytes(data,
		WithModelParser(model.FixtureParser{}),
		WithCPUExecutor("echo", executor),
		WithEngineConfig(&Config{
			MinCPUThreads: 1,
			MaxCPUThreads: 2,
			BufferCount:   2,
		}),
	)
	require.NoError(t, err)
	return e
}

func TestOpenBytesBuildsCPUOnlyEngine(t *testing.T) {
	e := openEchoEngine(t)
	defer e.Close()

	assert.Equal(t, []string{"echo.out"}, e.OutputNames())
	assert.Equal(t, []string{"echo"}, e.TaskOrder())
	assert.Equal(t, 0, e.DeviceCount())
	assert.Equal(t, 7, e.ModelFormatVersion())
	assert.Equal(t, "fixture-1.0", e.CompilerVersion())
}

func TestOpenBytesRejectsMissingParser(t *testing.T) {
	data, err := NewCPUFixtureModel("echo", []int64{1}, []int64{1})
	require.NoError(t, err)

	_, err = OpenBytes(data)
	assert.Error(t, err)
}

func TestOpenBytesRejectsCPUTaskWithoutExecutor(t *testing.T) {
	data, err := NewCPUFixtureModel("echo", []int64{1}, []int64{1})
	require.NoError(t, err)

	_, err = OpenBytes(data, WithModelParser(model.FixtureParser{}))
	assert.Error(t, err)
}

func TestEngineRunRoundTripsInputToOutput(t *testing.T) {
	e := openEchoEngine(t)
	defer e.Close()

	out, err := e.Run(map[string][]byte{"echo.in": {1, 2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, out["echo.out"])
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	e := openEchoEngine(t)
	assert.NoError(t, e.Close())
	assert.NoError(t, e.Close())
}

func TestEngineValidateDeviceNoOpWithoutDevices(t *testing.T) {
	e := openEchoEngine(t)
	defer e.Close()
	assert.NoError(t, e.ValidateDevice(nil))
}

func TestOpenRejectsUnreadableModelPath(t *testing.T) {
	_, err := Open("/nonexistent/path/to/model.dxnn", WithModelParser(model.FixtureParser{}))
	assert.Error(t, err)
}
