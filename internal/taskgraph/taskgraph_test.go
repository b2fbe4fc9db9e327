package taskgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxrt-go/dxrt/internal/devmem"
	"github.com/dxrt-go/dxrt/internal/model"
)

func TestNewBufferPoolsNPUCreatesAllThree(t *testing.T) {
	p := NewBufferPools(2, 4, 128, 256, 64, true)
	require.NotNil(t, p.EncodedInput)
	require.NotNil(t, p.UserOutput)
	require.NotNil(t, p.EncodedOutput)
	assert.Equal(t, 8, p.EncodedInput.Capacity())
}

func TestNewBufferPoolsCPUSkipsEncodedPools(t *testing.T) {
	p := NewBufferPools(2, 4, 128, 256, 64, false)
	assert.Nil(t, p.EncodedInput)
	assert.Nil(t, p.EncodedOutput)
	require.NotNil(t, p.UserOutput)
}

func TestAcquireAllReleaseAllRoundTrip(t *testing.T) {
	p := NewBufferPools(1, 1, 16, 16, 16, true)
	ab, err := p.AcquireAll()
	require.NoError(t, err)
	assert.Len(t, ab.EncodedInput, 16)
	assert.Len(t, ab.UserOutput, 16)
	assert.Len(t, ab.EncodedOutput, 16)

	p.ReleaseAll(ab)
	ab2, err := p.AcquireAll()
	require.NoError(t, err)
	assert.NotNil(t, ab2)
}

func TestAcquireAllReleasesPartialOnFailure(t *testing.T) {
	p := NewBufferPools(1, 1, 16, 16, 16, true)

	// Exhaust the encoded-output pool so the third acquire in the fixed
	// order fails, and the first two must be released back.
	buf, err := p.EncodedOutput.AcquireTimeout(0)
	require.NoError(t, err)

	_, err = p.AcquireAll()
	assert.Error(t, err)
	assert.Equal(t, 1, p.EncodedInput.Available())
	assert.Equal(t, 1, p.UserOutput.Available())

	require.NoError(t, p.EncodedOutput.Release(buf))
}

func TestMemCacheAcquireReleaseRoundRobins(t *testing.T) {
	alloc := devmem.New(1 << 20)
	cache, err := NewMemCache(alloc, 4096)
	require.NoError(t, err)

	off1, idx1, ok := cache.Acquire()
	require.True(t, ok)
	off2, idx2, ok := cache.Acquire()
	require.True(t, ok)
	assert.NotEqual(t, idx1, idx2)
	assert.NotEqual(t, off1, off2)

	cache.Release(idx1)
	_, idx3, ok := cache.Acquire()
	require.True(t, ok)
	assert.NotEqual(t, idx2, idx3)
}

func TestMemCacheExhaustionReportsNotOK(t *testing.T) {
	alloc := devmem.New(1 << 20)
	cache, err := NewMemCache(alloc, 64)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, _, ok := cache.Acquire()
		require.True(t, ok)
	}
	_, _, ok := cache.Acquire()
	assert.False(t, ok)
}

func TestTaskRecordLatencyAverages(t *testing.T) {
	plan := model.TaskPlan{Info: model.SubgraphInfo{Name: "t", Processor: model.ProcessorCPU}}
	task := NewTask(0, plan, nil)

	task.RecordLatency(10 * time.Millisecond)
	task.RecordLatency(20 * time.Millisecond)
	assert.Equal(t, 15*time.Millisecond, task.AverageLatency())
}

func TestTaskLastOutputSnapshotIsCopied(t *testing.T) {
	plan := model.TaskPlan{Info: model.SubgraphInfo{Name: "t"}}
	task := NewTask(0, plan, nil)

	buf := []byte{1, 2, 3}
	task.SetLastOutput(buf)
	buf[0] = 99

	got := task.LastOutput()
	assert.Equal(t, byte(1), got[0])
}
