// Package bufpool implements the fixed-size, blocking buffer pool (C1):
// a bounded set of pre-aligned byte regions handed out under backpressure
// instead of allocated per request.
package bufpool

import (
	"errors"
	"sync"
	"time"
	"unsafe"

	"github.com/dxrt-go/dxrt/internal/constants"
)

// Sentinel errors. Callers above this package (the root dxrt package) wrap
// these into the structured *dxrt.Error taxonomy; bufpool itself stays
// error-taxonomy agnostic so it has no dependency on the root package.
var (
	ErrResourceExhausted = errors.New("bufpool: timed out acquiring buffer")
	ErrDoubleRelease     = errors.New("bufpool: buffer already released")
	ErrForeignBlock      = errors.New("bufpool: buffer not minted by this pool")
)

// Pool is a fixed-size blocking buffer pool. Unlike the teacher's
// sync.Pool-backed internal/queue.GetBuffer/PutBuffer (which grows
// unboundedly under contention), a Pool allocates exactly `count` blocks at
// construction and never reallocates: acquire() blocks when the free list is
// empty, giving the caller O(1) allocation and the runtime a hard backpressure
// signal instead of unbounded memory growth.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	elemSize  int
	blocks    [][]byte
	free      []int // indices into blocks currently available
	onFree    map[*byte]int
	available int
	capacity  int
}

// New allocates count page-aligned blocks of elemSize bytes and pushes each
// onto the pool's free list.
func New(elemSize, count int) *Pool {
	p := &Pool{
		elemSize: elemSize,
		blocks:   make([][]byte, count),
		free:     make([]int, 0, count),
		onFree:   make(map[*byte]int, count),
		capacity: count,
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < count; i++ {
		p.blocks[i] = alignedAlloc(elemSize)
		p.free = append(p.free, i)
		p.onFree[blockKey(p.blocks[i])] = i
	}
	p.available = count
	return p
}

// alignedAlloc allocates a slice padded so its backing array starts at a
// page-aligned address, matching the accelerator DMA engine's requirement
// that pool blocks be page aligned.
func alignedAlloc(size int) []byte {
	align := constants.BufferAlignment
	buf := make([]byte, size+align)
	offset := 0
	if rem := int(uintptr(blockAddr(buf)) % uintptr(align)); rem != 0 {
		offset = align - rem
	}
	return buf[offset : offset+size : offset+size]
}

// Acquire blocks until a block is available or the safety timeout elapses.
// It returns ResourceExhausted only on true deadlock — the timeout is
// measured in hours, per spec §5.
func (p *Pool) Acquire() ([]byte, error) {
	return p.AcquireTimeout(constants.BufferAcquireTimeout)
}

// AcquireTimeout is Acquire with an explicit timeout, exposed for tests that
// cannot afford to wait the production safety timeout.
func (p *Pool) AcquireTimeout(timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		p.mu.Lock()
		timedOut = true
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	for len(p.free) == 0 {
		if timedOut {
			return nil, ErrResourceExhausted
		}
		p.cond.Wait()
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	delete(p.onFree, blockKey(p.blocks[idx]))
	p.available--
	return p.blocks[idx][:p.elemSize], nil
}

// Release returns a block to the pool. Releasing a block not minted by this
// pool, or releasing the same block twice, is a hard error but never
// corrupts the free list.
func (p *Pool) Release(buf []byte) error {
	idx, err := p.indexOf(buf)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, already := p.onFree[blockKey(p.blocks[idx])]; already {
		return ErrDoubleRelease
	}

	p.free = append(p.free, idx)
	p.onFree[blockKey(p.blocks[idx])] = idx
	p.available++
	p.cond.Signal()
	return nil
}

func (p *Pool) indexOf(buf []byte) (int, error) {
	for i, block := range p.blocks {
		if sameBacking(block, buf) {
			return i, nil
		}
	}
	return 0, ErrForeignBlock
}

// Available returns a snapshot of the number of free blocks.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Capacity returns the fixed number of blocks the pool was constructed with.
func (p *Pool) Capacity() int {
	return p.capacity
}

func blockKey(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}

func blockAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// sameBacking reports whether buf starts at the same address as block.
// Release is always called with a full-length slice previously
// returned by Acquire, so identity of the first byte is sufficient.
func sameBacking(block, buf []byte) bool {
	if len(block) == 0 || len(buf) == 0 {
		return false
	}
	return blockAddr(block) == blockAddr(buf)
}
