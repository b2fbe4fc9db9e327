package device

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxrt-go/dxrt/internal/codec"
	"github.com/dxrt-go/dxrt/internal/constants"
	"github.com/dxrt-go/dxrt/internal/driver"
	"github.com/dxrt-go/dxrt/internal/model"
	"github.com/dxrt-go/dxrt/internal/request"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	sim := driver.NewSimAdapter(1<<20, 2)
	d := NewDevice(1, sim, codec.New())
	require.NoError(t, d.Identify(context.Background()))
	return d
}

func TestDeviceIdentifySetsAllocator(t *testing.T) {
	d := newTestDevice(t)
	require.NotNil(t, d.Alloc)
	assert.Equal(t, uint64(1<<20), d.Alloc.Size())
}

func TestDeviceRegisterTaskReservesBackwardMemory(t *testing.T) {
	d := newTestDevice(t)
	plan := model.TaskPlan{Info: model.SubgraphInfo{
		Name:        "npu-task",
		Processor:   model.ProcessorNPU,
		RegisterMap: make([]byte, 256),
		Weights:     make([]byte, 1024),
	}}
	task := taskgraph.NewTask(0, plan, []int{1})

	before := d.Alloc.Available()
	require.NoError(t, d.RegisterTask(task))
	assert.Less(t, d.Alloc.Available(), before)
}

func TestDeviceInFlightTracking(t *testing.T) {
	d := newTestDevice(t)
	var notified int
	d.AttachPool(func(*Device) { notified++ })

	d.IncInFlight()
	assert.Equal(t, 1, d.InFlight())
	d.DecInFlight()
	assert.Equal(t, 0, d.InFlight())
	assert.Equal(t, 2, notified)
}

func TestDeviceNextDMAChannelRoundRobins(t *testing.T) {
	d := newTestDevice(t)
	first := d.NextDMAChannel()
	second := d.NextDMAChannel()
	third := d.NextDMAChannel()
	assert.NotEqual(t, first, second)
	assert.Equal(t, first, third)
}

func TestDevicePoolPickOneSelectsLeastLoaded(t *testing.T) {
	d1 := newTestDevice(t)
	d2 := NewDevice(2, driver.NewSimAdapter(1<<20, 2), codec.New())
	require.NoError(t, d2.Identify(context.Background()))

	pool := NewDevicePool([]*Device{d1, d2})
	d1.IncInFlight()

	picked, err := pool.PickOne(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, picked.ID)
}

func TestDevicePoolSkipsBlockedDevices(t *testing.T) {
	d1 := newTestDevice(t)
	pool := NewDevicePool([]*Device{d1})
	d1.MarkBlocked(true)

	_, err := pool.PickOne(nil)
	assert.Error(t, err)
}

func TestDevicePoolWaitOneUnblocksOnCapacity(t *testing.T) {
	d1 := newTestDevice(t)
	pool := NewDevicePool([]*Device{d1})
	d1.MarkBlocked(true)

	go func() {
		time.Sleep(10 * time.Millisecond)
		d1.MarkBlocked(false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	picked, err := pool.WaitOne(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, picked.ID)
}

func TestEventHandlerMarksDeviceBlockedOnError(t *testing.T) {
	sim := driver.NewSimAdapter(4096, 1)
	d := NewDevice(1, sim, codec.New())
	require.NoError(t, d.Identify(context.Background()))

	h := NewEventHandler(d, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go h.Run(ctx)
	sim.InjectEvent(driver.Event{Type: driver.EventError, Message: "ddr ecc"})

	require.Eventually(t, func() bool { return d.Blocked() }, time.Second, time.Millisecond)
}

// ioctlSpyAdapter wraps a SimAdapter to record every command issued
// through Ioctl, so tests can assert on diagnostics-dump call sites
// without a real device.
type ioctlSpyAdapter struct {
	*driver.SimAdapter
	mu       sync.Mutex
	commands []driver.Command
}

func (a *ioctlSpyAdapter) Ioctl(ctx context.Context, cmd driver.Command, data []byte, subCmd int) ([]byte, error) {
	a.mu.Lock()
	a.commands = append(a.commands, cmd)
	a.mu.Unlock()
	return a.SimAdapter.Ioctl(ctx, cmd, data, subCmd)
}

func (a *ioctlSpyAdapter) seen(cmd driver.Command) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// TestEventHandlerDumpsDiagnosticsOnError confirms the EventError path
// issues the PCIe/DDR diagnostic dump commands (spec §4.6/§7), not just
// MarkBlocked and the runtime-event report.
func TestEventHandlerDumpsDiagnosticsOnError(t *testing.T) {
	spy := &ioctlSpyAdapter{SimAdapter: driver.NewSimAdapter(4096, 1)}
	d := NewDevice(1, spy, codec.New())
	require.NoError(t, d.Identify(context.Background()))

	h := NewEventHandler(d, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go h.Run(ctx)
	spy.InjectEvent(driver.Event{Type: driver.EventError, Message: "ddr ecc"})

	require.Eventually(t, func() bool { return spy.seen(driver.CmdDump) }, time.Second, time.Millisecond)
	assert.True(t, spy.seen(driver.CmdPCIeInfo))
}

func TestInputHandlerDispatchesAndRegistersPending(t *testing.T) {
	sim := driver.NewSimAdapter(1<<16, 1)
	d := NewDevice(1, sim, codec.New())
	require.NoError(t, d.Identify(context.Background()))

	plan := model.TaskPlan{Info: model.SubgraphInfo{
		Name:      "cls",
		Processor: model.ProcessorNPU,
		Outputs: []model.TensorSpec{
			{Name: "cls.out", Shape: []int64{4}, DataType: 0, Layout: model.LayoutRaw},
		},
	}}
	task := taskgraph.NewTask(0, plan, []int{1})
	task.AttachPools(taskgraph.NewBufferPools(1, 1, 16, 16, 16, true), nil)

	pending := NewPendingRegistry()
	input := NewInputHandler(d, pending, 4, false)

	reqPool := request.NewPool(1)
	req, ok := reqPool.Acquire()
	require.True(t, ok)
	req.Init(task, 1, map[string][]byte{"cls.in": make([]byte, 16)}, nil, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go input.Run(ctx)
	input.Enqueue(req, task)

	require.Eventually(t, func() bool { return d.InFlight() == 1 }, time.Second, time.Millisecond)

	got, gotTask, cacheIdx, ok := pending.Take(req.ID)
	require.True(t, ok)
	assert.Same(t, req, got)
	assert.Same(t, task, gotTask)
	assert.Equal(t, -1, cacheIdx)
}

func TestOutputHandlerDecodesArgmaxResponse(t *testing.T) {
	sim := driver.NewSimAdapter(4096, 1)
	d := NewDevice(1, sim, codec.New())
	require.NoError(t, d.Identify(context.Background()))

	plan := model.TaskPlan{Info: model.SubgraphInfo{
		Name:      "cls",
		ModelType: model.ModelTypeArgmax,
		Outputs:   []model.TensorSpec{{Name: "cls.out"}},
	}}
	task := taskgraph.NewTask(0, plan, nil)

	pending := NewPendingRegistry()
	reqPool := request.NewPool(1)
	req, ok := reqPool.Acquire()
	require.True(t, ok)
	req.Init(task, 1, nil, nil, nil, nil, nil)
	pending.Register(req, task, -1)

	output := NewOutputHandler(d, pending, 0, 0)

	resp := make([]byte, 24)
	binary.LittleEndian.PutUint64(resp[8:16], req.ID)
	binary.LittleEndian.PutUint16(resp[16:18], 7)
	output.handleResponse(context.Background(), resp)

	require.Equal(t, request.StateDone, req.State())
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(req.Outputs["cls.out"]))
}

// TestInputHandlerAcquiresCacheAndOutputHandlerReleasesIt exercises the
// per-task MemCache (C2) on its actual hot path: the input handler
// reserves a ring slot for each in-flight request, and the output
// handler releases that same slot once its response is decoded, making
// it available again — driving constants.MemCacheRingSize+1 requests
// through proves the ring is actually being recycled, not just drained.
func TestInputHandlerAcquiresCacheAndOutputHandlerReleasesIt(t *testing.T) {
	d := newTestDevice(t)
	require.NotNil(t, d.Alloc)

	cache, err := taskgraph.NewMemCache(d.Alloc, 64)
	require.NoError(t, err)

	plan := model.TaskPlan{Info: model.SubgraphInfo{
		Name:      "cls",
		ModelType: model.ModelTypeArgmax,
		Outputs:   []model.TensorSpec{{Name: "cls.out"}},
	}}
	task := taskgraph.NewTask(0, plan, nil)
	task.Cache = cache

	pending := NewPendingRegistry()
	input := NewInputHandler(d, pending, constants.MemCacheRingSize+1, true)
	output := NewOutputHandler(d, pending, 0, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go input.Run(ctx)

	reqPool := request.NewPool(constants.MemCacheRingSize + 1)
	for i := 0; i < constants.MemCacheRingSize+1; i++ {
		req, ok := reqPool.Acquire()
		require.True(t, ok)
		req.Init(task, uint64(i), nil, nil, nil, nil, nil)

		input.Enqueue(req, task)
		require.Eventually(t, func() bool { return d.InFlight() == 1 }, time.Second, time.Millisecond)

		resp := make([]byte, 24)
		binary.LittleEndian.PutUint64(resp[8:16], req.ID)
		binary.LittleEndian.PutUint16(resp[16:18], uint16(i))
		output.handleResponse(ctx, resp)

		require.Equal(t, request.StateDone, req.State())
	}
}
