//go:build linux

package driver

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxIoctlMagic is the dxrt character-device ioctl magic number. The
// exact opcode assignment and payload struct layout are kernel-driver
// internals out of scope for this runtime (spec §6); this adapter only
// needs a stable encoding of Command -> request number for the open file
// descriptor it owns.
const linuxIoctlMagic = 0xDA

// LinuxAdapter implements Adapter against a real dxrt character device
// using golang.org/x/sys/unix, grounded on the teacher's
// internal/queue/runner.go (page-aligned mmap via raw syscalls,
// runtime.LockOSThread'd poll loop, unix.SchedSetaffinity for DMA-channel
// affinity) and internal/ctrl/control.go (retry-on-EBUSY with the payload
// cleared).
type LinuxAdapter struct {
	mu   sync.Mutex
	fd   int
	path string
}

// OpenLinux opens the given device node (e.g. "/dev/dxrt0").
func OpenLinux(path string) (*LinuxAdapter, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("driver: open %s: %w", path, err)
	}
	return &LinuxAdapter{fd: int(f.Fd()), path: path}, nil
}

func ioctlRequest(cmd Command) uintptr {
	return uintptr(linuxIoctlMagic)<<8 | uintptr(cmd)
}

func (a *LinuxAdapter) Identify(ctx context.Context) (*IdentifyInfo, error) {
	buf, err := a.Ioctl(ctx, CmdIdentify, nil, 0)
	if err != nil {
		return nil, err
	}
	if len(buf) < 24 {
		return nil, fmt.Errorf("driver: short IDENTIFY response (%d bytes)", len(buf))
	}
	return &IdentifyInfo{
		MemBase:        binary.LittleEndian.Uint64(buf[0:8]),
		MemSize:        binary.LittleEndian.Uint64(buf[8:16]),
		NumDMAChannels: int(binary.LittleEndian.Uint32(buf[16:20])),
	}, nil
}

func (a *LinuxAdapter) Ioctl(ctx context.Context, cmd Command, data []byte, subCmd int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	payload := data
	for {
		var ptr unsafe.Pointer
		if len(payload) > 0 {
			ptr = unsafe.Pointer(&payload[0])
		}
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(a.fd), ioctlRequest(cmd), uintptr(ptr))
		if errno == 0 {
			return payload, nil
		}
		if errno == unix.EBUSY {
			// The queue accepted the data but can't yet accept the
			// descriptor: clear the input-data field and retry, per
			// spec §4.4.
			for i := range payload {
				payload[i] = 0
			}
			continue
		}
		return nil, fmt.Errorf("driver: ioctl %s: %w", cmd, errno)
	}
}

func (a *LinuxAdapter) Write(ctx context.Context, data []byte) (int, error) {
	for {
		n, err := unix.Write(a.fd, data)
		if err == unix.EBUSY {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("driver: write: %w", err)
		}
		return n, nil
	}
}

func (a *LinuxAdapter) Read(ctx context.Context, out []byte) (int, error) {
	n, err := unix.Read(a.fd, out)
	if err != nil {
		return 0, fmt.Errorf("driver: read: %w", err)
	}
	return n, nil
}

// Poll long-polls for an EVENT, pinning the calling goroutine to its OS
// thread for the duration the way the teacher's ioLoop does, since the
// underlying blocking poll(2) call must run on a stable thread for
// SchedSetaffinity to be meaningful.
func (a *LinuxAdapter) Poll(ctx context.Context) (*Event, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	fds := []unix.PollFd{{Fd: int32(a.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		n, err := unix.Poll(fds, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("driver: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			buf := make([]byte, 256)
			n, err := a.Read(ctx, buf)
			if err != nil {
				return nil, err
			}
			return decodeEvent(buf[:n]), nil
		}
	}
}

func decodeEvent(buf []byte) *Event {
	if len(buf) < 4 {
		return &Event{Type: EventError, Message: "short event record"}
	}
	return &Event{Type: EventType(binary.LittleEndian.Uint32(buf[:4])), Message: string(buf[4:])}
}

// Mmap maps a device-relative window using page-aligned offsets, mirroring
// the teacher's mmapQueues helper.
func (a *LinuxAdapter) Mmap(offset, size uint64) ([]byte, error) {
	pageSize := uint64(os.Getpagesize())
	alignedOffset := offset &^ (pageSize - 1)
	pad := offset - alignedOffset
	mapped, err := unix.Mmap(a.fd, int64(alignedOffset), int(size+pad), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("driver: mmap: %w", err)
	}
	return mapped[pad:], nil
}

// SetDMAChannelAffinity pins the calling goroutine's OS thread to the CPU
// associated with a DMA channel, mirroring the teacher's per-queue
// SchedSetaffinity call.
func SetDMAChannelAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

func (a *LinuxAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return unix.Close(a.fd)
}

var _ Adapter = (*LinuxAdapter)(nil)
