package request

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxrt-go/dxrt/internal/model"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

type fakeReporter struct {
	jobID    uint64
	taskName string
	outputs  map[string][]byte
	err      error
	called   bool
}

func (f *fakeReporter) OnRequestComplete(req *Request, outputs map[string][]byte, err error) {
	f.jobID = req.JobID
	if req.Task != nil {
		f.taskName = req.Task.Name
	}
	f.outputs = outputs
	f.err = err
	f.called = true
}

func newTestTask() *taskgraph.Task {
	plan := model.TaskPlan{Info: model.SubgraphInfo{Name: "t", Processor: model.ProcessorCPU}}
	task := taskgraph.NewTask(1, plan, nil)
	task.AttachPools(taskgraph.NewBufferPools(1, 1, 16, 16, 16, false), nil)
	return task
}

func TestRequestLifecycleTransitions(t *testing.T) {
	task := newTestTask()
	reporter := &fakeReporter{}
	r := Create(1, task, 42, map[string][]byte{"in": {1}}, map[string][]byte{"out": {2}}, nil, nil, reporter)

	assert.Equal(t, StatePicked, r.State())
	r.Begin()
	assert.Equal(t, StateBusy, r.State())

	r.Complete(nil)
	assert.Equal(t, StateDone, r.State())
	assert.True(t, reporter.called)
	assert.Equal(t, uint64(42), reporter.jobID)
	assert.Equal(t, "t", reporter.taskName)
}

func TestRequestCompleteReleasesOwnedBuffers(t *testing.T) {
	task := newTestTask()
	ab, err := task.Pools.AcquireAll()
	require.NoError(t, err)
	assert.Equal(t, 0, task.Pools.UserOutput.Available())

	r := Create(1, task, 1, nil, nil, nil, nil, nil)
	r.AttachBuffers(ab)
	r.Complete(nil)

	assert.Equal(t, 1, task.Pools.UserOutput.Available())
}

func TestRequestCompleteRecordsLatencyOnTask(t *testing.T) {
	task := newTestTask()
	r := Create(1, task, 1, nil, nil, nil, nil, nil)
	r.Begin()
	time.Sleep(time.Millisecond)
	r.Complete(nil)

	assert.Greater(t, task.AverageLatency(), time.Duration(0))
	assert.Greater(t, r.Latency(), time.Duration(0))
}

func TestRequestCompletePropagatesError(t *testing.T) {
	task := newTestTask()
	boom := errors.New("device io")
	r := Create(1, task, 1, nil, nil, nil, nil, nil)
	r.Complete(boom)
	assert.ErrorIs(t, r.Err(), boom)
}

func TestRequestResetClearsState(t *testing.T) {
	task := newTestTask()
	r := Create(1, task, 7, map[string][]byte{"a": {1}}, nil, nil, "arg", nil)
	r.Complete(nil)
	r.Reset()

	assert.Equal(t, StateAvailable, r.State())
	assert.Nil(t, r.Task)
	assert.Nil(t, r.Inputs)
}

func TestPoolAcquireExhaustionReportsNotOK(t *testing.T) {
	p := NewPool(2)
	_, ok := p.Acquire()
	require.True(t, ok)
	_, ok = p.Acquire()
	require.True(t, ok)
	_, ok = p.Acquire()
	assert.False(t, ok)
}

func TestPoolReleaseMakesRequestReusable(t *testing.T) {
	p := NewPool(1)
	r, ok := p.Acquire()
	require.True(t, ok)
	p.Release(r)

	r2, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, StatePicked, r2.State())
}
