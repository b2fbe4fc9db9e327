package taskgraph

import (
	"sync"

	"github.com/dxrt-go/dxrt/internal/constants"
	"github.com/dxrt-go/dxrt/internal/devmem"
)

// MemCache is the per-task memory cache (C2): it reuses a small ring of
// device-memory offset assignments for repeat inferences of the same task
// rather than allocating-and-freeing on every request, since allocation
// traffic on the device allocator (C6) is itself mutex-serialized.
type MemCache struct {
	mu      sync.Mutex
	alloc   *devmem.Allocator
	size    uint64
	ring    []uint64 // device offsets, length constants.MemCacheRingSize
	used    []bool
	next    int
}

// NewMemCache reserves a ring of device-memory slots from alloc, each
// sized for one request's encoded payload.
func NewMemCache(alloc *devmem.Allocator, slotSize uint64) (*MemCache, error) {
	c := &MemCache{
		alloc: alloc,
		size:  slotSize,
		ring:  make([]uint64, constants.MemCacheRingSize),
		used:  make([]bool, constants.MemCacheRingSize),
	}
	for i := range c.ring {
		off, err := alloc.AllocForward(slotSize)
		if err != nil {
			return nil, err
		}
		c.ring[i] = off
	}
	return c, nil
}

// Acquire returns the next free ring slot's device offset, round-robining
// across the ring and blocking the caller's retry loop (via ok=false) if
// every slot is currently claimed — the backpressure signal mirrors C1's
// buffer pool exhaustion behavior.
func (c *MemCache) Acquire() (offset uint64, idx int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.ring); i++ {
		slot := (c.next + i) % len(c.ring)
		if !c.used[slot] {
			c.used[slot] = true
			c.next = (slot + 1) % len(c.ring)
			return c.ring[slot], slot, true
		}
	}
	return 0, -1, false
}

// Release returns a previously acquired slot to the ring.
func (c *MemCache) Release(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.used) {
		return
	}
	c.used[idx] = false
}

// SlotSize reports the byte size reserved per ring slot.
func (c *MemCache) SlotSize() uint64 { return c.size }
