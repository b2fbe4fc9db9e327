// Package driver abstracts the host-kernel transport behind the verb set
// named in spec §4.4 (C5): ioctl/write/read/poll/mmap. It is the only
// package in the runtime that would, on real hardware, know the exact
// ioctl numbers and payload struct layouts — those remain out of scope
// per spec §6 ("the wire layout of those structs is considered external").
package driver

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by Mmap when the adapter has no memory-mapped
// window and callers must degrade to ReadMem/WriteMem ioctls.
var ErrNotSupported = errors.New("driver: operation not supported by this adapter")

// ErrBusy is the EBUSY-equivalent: the queue has accepted the command but
// cannot yet accept its payload. Write/Ioctl callers retry with the
// input-data field cleared (spec §4.4).
var ErrBusy = errors.New("driver: device busy, retry with payload cleared")

// IdentifyInfo is the IDENTIFY response: device memory window, DMA channel
// count, and version strings used by Engine.DriverVersion/FirmwareVersions.
type IdentifyInfo struct {
	MemBase        uint64
	MemSize        uint64
	NumDMAChannels int
	DriverVersion  string
	PCIeVersion    string
	FirmwareVersion string
}

// Event is one record returned by a successful Poll.
type Event struct {
	Type    EventType
	Code    int
	Message string
}

type EventType int

const (
	EventError EventType = iota
	EventThrottleNotice
	EventRecovery
)

// Adapter is the Go form of spec §4.4's driver verb set.
type Adapter interface {
	// Identify issues an IDENTIFY command and returns the device's static
	// properties.
	Identify(ctx context.Context) (*IdentifyInfo, error)

	// Ioctl issues a synchronous command/response exchange.
	Ioctl(ctx context.Context, cmd Command, data []byte, subCmd int) ([]byte, error)

	// Write injects an inference request. EBUSY-equivalents are retried by
	// the caller with the input-data field cleared, per spec §4.4.
	Write(ctx context.Context, data []byte) (int, error)

	// Read drains a response record into out, returning the number of
	// bytes read.
	Read(ctx context.Context, out []byte) (int, error)

	// Poll blocks until at least one event is available or ctx is done.
	Poll(ctx context.Context) (*Event, error)

	// Mmap returns a memory-mapped window into device DRAM at the given
	// device-relative offset. Returns ErrNotSupported if the adapter has
	// no mmap capability; callers fall back to Ioctl(ReadMem/WriteMem).
	Mmap(offset, size uint64) ([]byte, error)

	// Close releases the adapter's underlying transport.
	Close() error
}
