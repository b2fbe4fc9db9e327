// Package device implements the per-accelerator core (C7) and its three
// cooperating dispatchers — input, event, output (C8) — plus the pool
// that owns every discovered device (C10).
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/dxrt-go/dxrt/internal/codec"
	"github.com/dxrt-go/dxrt/internal/devmem"
	"github.com/dxrt-go/dxrt/internal/driver"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

// EventSink receives classified runtime events from a Device's event
// handler (spec §4.13's fan-out), kept as a narrow interface so this
// package never depends on the root profiler implementation.
type EventSink interface {
	OnRuntimeEvent(level, eventType, code int, message string)
}

const (
	EventLevelInfo = iota
	EventLevelWarning
	EventLevelError
)

// Device owns one accelerator: its transport adapter, device-memory
// allocator, codec, and the bookkeeping DevicePool needs to load-balance
// across devices.
type Device struct {
	ID      int
	Adapter driver.Adapter
	Codec   *codec.Codec
	Alloc   *devmem.Allocator
	Info    *driver.IdentifyInfo

	mu              sync.Mutex
	blocked         bool
	inFlight        int
	nextDMAChannel  int
	registeredTasks map[string]*taskgraph.Task

	onCapacityChange func(dev *Device) // DevicePool.notify, set by AttachPool
}

// NewDevice wraps an already-open Adapter. Identify must be called before
// the device accepts tasks, since it determines the device-memory window
// size the allocator needs.
func NewDevice(id int, adapter driver.Adapter, cdc *codec.Codec) *Device {
	return &Device{
		ID:              id,
		Adapter:         adapter,
		Codec:           cdc,
		registeredTasks: make(map[string]*taskgraph.Task),
	}
}

// Identify issues IDENTIFY and sizes the device-memory allocator from the
// response.
func (d *Device) Identify(ctx context.Context) error {
	info, err := d.Adapter.Identify(ctx)
	if err != nil {
		return fmt.Errorf("device %d: identify: %w", d.ID, err)
	}
	d.Info = info
	d.Alloc = devmem.New(info.MemSize)
	return nil
}

// RegisterTask reserves backward (long-lived) device memory for an NPU
// task's register map, weights, and optional PPU binary (spec §4.5).
// The offsets are not kept, and UnregisterTask does not free them.
func (d *Device) RegisterTask(t *taskgraph.Task) error {
	if !t.IsNPU() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, blob := range [][]byte{t.RegisterMap, t.Weights, t.PPUBinary} {
		if len(blob) == 0 {
			continue
		}
		if _, err := d.Alloc.AllocBackward(uint64(len(blob))); err != nil {
			return fmt.Errorf("device %d: register task %q: %w", d.ID, t.Name, err)
		}
	}
	d.registeredTasks[t.Name] = t
	return nil
}

// UnregisterTask drops the task from this device's registry. The backward
// allocations RegisterTask made for it are not freed; they stay reserved
// for the allocator's lifetime.
func (d *Device) UnregisterTask(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.registeredTasks, name)
}

// Terminate issues TERMINATE and waits for TERMINATE_EVENT is the
// responsibility of the caller's event handler; Terminate here only
// issues the command and closes the transport.
func (d *Device) Terminate(ctx context.Context) error {
	if _, err := d.Adapter.Ioctl(ctx, driver.CmdTerminate, nil, 0); err != nil {
		return fmt.Errorf("device %d: terminate: %w", d.ID, err)
	}
	return d.Adapter.Close()
}

// AttachPool wires the callback a DevicePool uses to learn about capacity
// changes (spec §4.8's "signalled by each Device::callback()").
func (d *Device) AttachPool(notify func(dev *Device)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCapacityChange = notify
}

// IncInFlight records one more in-flight request on this device.
func (d *Device) IncInFlight() {
	d.mu.Lock()
	d.inFlight++
	notify := d.onCapacityChange
	d.mu.Unlock()
	if notify != nil {
		notify(d)
	}
}

// DecInFlight records a completed request and notifies DevicePool waiters.
func (d *Device) DecInFlight() {
	d.mu.Lock()
	if d.inFlight > 0 {
		d.inFlight--
	}
	notify := d.onCapacityChange
	d.mu.Unlock()
	if notify != nil {
		notify(d)
	}
}

// InFlight reports the current in-flight request count.
func (d *Device) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// MarkBlocked flags this device as unavailable to the picker, e.g. after
// an unrecovered error event.
func (d *Device) MarkBlocked(blocked bool) {
	d.mu.Lock()
	d.blocked = blocked
	notify := d.onCapacityChange
	d.mu.Unlock()
	if notify != nil {
		notify(d)
	}
}

// Blocked reports whether the picker should skip this device.
func (d *Device) Blocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blocked
}

// NextDMAChannel round-robins across the device's DMA channels, the
// input handler's channel-assignment policy (spec §4.6).
func (d *Device) NextDMAChannel() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Info == nil || d.Info.NumDMAChannels <= 0 {
		return 0
	}
	ch := d.nextDMAChannel
	d.nextDMAChannel = (d.nextDMAChannel + 1) % d.Info.NumDMAChannels
	return ch
}
