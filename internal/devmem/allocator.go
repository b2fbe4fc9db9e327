// Package devmem implements the device memory allocator (C6): a
// forward/backward bump allocator over a single accelerator's DRAM window.
package devmem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dxrt-go/dxrt/internal/constants"
)

var ErrOutOfMemory = errors.New("devmem: allocation exceeds device memory window")

// Allocator manages a contiguous window [0, size) of device memory.
// Forward allocations grow from the bottom up (per-request inference
// slots); backward allocations grow from the top down (long-lived per-task
// regions: register maps, weight blobs, PPU binaries). There is no
// compaction. Backward allocations are never freed and stay reserved for
// the Allocator's lifetime; forward allocations are returned one at a time
// through Free, which puts the region on a reuse list for AllocForward.
type Allocator struct {
	mu       sync.Mutex
	size     uint64
	fwdNext  uint64 // next free forward offset
	bwdNext  uint64 // next free backward offset (exclusive upper bound)
	freeFwd  map[uint64]uint64 // offset -> size, released forward allocations available for reuse
}

func New(size uint64) *Allocator {
	return &Allocator{
		size:    size,
		fwdNext: 0,
		bwdNext: size,
		freeFwd: make(map[uint64]uint64),
	}
}

func align(n uint64) uint64 {
	a := uint64(constants.DevMemAllocAlignment)
	return (n + a - 1) / a * a
}

// AllocForward bump-allocates size bytes from the bottom of the window,
// first attempting to reuse a previously freed forward region of equal or
// greater size.
func (a *Allocator) AllocForward(size uint64) (uint64, error) {
	size = align(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	for off, sz := range a.freeFwd {
		if sz >= size {
			delete(a.freeFwd, off)
			if sz > size {
				a.freeFwd[off+size] = sz - size
			}
			return off, nil
		}
	}

	if a.fwdNext+size > a.bwdNext {
		return 0, fmt.Errorf("%w: forward alloc of %d bytes, %d available", ErrOutOfMemory, size, a.bwdNext-a.fwdNext)
	}

	off := a.fwdNext
	a.fwdNext += size
	return off, nil
}

// AllocBackward bump-allocates size bytes from the top of the window,
// growing downward; used for task lifetime regions. Backward regions are
// never freed: Free handles forward regions only.
func (a *Allocator) AllocBackward(size uint64) (uint64, error) {
	size = align(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bwdNext < size || a.bwdNext-size < a.fwdNext {
		return 0, fmt.Errorf("%w: backward alloc of %d bytes, %d available", ErrOutOfMemory, size, a.bwdNext-a.fwdNext)
	}

	a.bwdNext -= size
	return a.bwdNext, nil
}

// Free releases a forward allocation by offset, making it available for
// reuse by a future AllocForward. Backward allocations are not freeable;
// they live until the allocator itself is discarded.
func (a *Allocator) Free(offset, size uint64) {
	size = align(size)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeFwd[offset] = size
}

// Available reports the bytes remaining between the forward and backward
// cursors.
func (a *Allocator) Available() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bwdNext < a.fwdNext {
		return 0
	}
	return a.bwdNext - a.fwdNext
}

// Size returns the total window size the allocator was constructed with.
func (a *Allocator) Size() uint64 {
	return a.size
}
