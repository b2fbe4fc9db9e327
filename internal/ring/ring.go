// Package ring abstracts completion multiplexing across an accelerator's
// DMA channels, mirroring the teacher's internal/uring package one-for-one:
// a Ring interface, a portable default implementation, and an optional
// io_uring-backed implementation behind a build tag.
package ring

import "errors"

var ErrRingFull = errors.New("ring: submission queue full")

// Result is the outcome of one completed submission.
type Result interface {
	UserData() uint64
	Value() int32
	Error() error
}

// Ring multiplexes completions for one accelerator device's output/event
// handlers so a fixed small thread count can service an arbitrary number of
// in-flight DMA-channel operations without a blocking syscall per channel.
type Ring interface {
	// Submit enqueues one operation identified by opcode, returning
	// synchronously once it completes.
	Submit(opcode uint32, payload []byte, userData uint64) (Result, error)

	// PrepareSubmit stages an operation without submitting it to the
	// kernel/simulator, for batching.
	PrepareSubmit(opcode uint32, payload []byte, userData uint64) error

	// FlushSubmissions submits all staged operations in one batch call,
	// returning the number submitted.
	FlushSubmissions() (uint32, error)

	// WaitForCompletion blocks up to timeoutMs for completions and
	// returns whatever arrived.
	WaitForCompletion(timeoutMs int) ([]Result, error)

	Close() error
}

// Config mirrors the teacher's uring.Config: entries sizes the completion
// queue, FD identifies the underlying transport (a driver.Adapter's file
// descriptor on Linux, unused by the simulated ring).
type Config struct {
	Entries uint32
	FD      int32
}

// result is the concrete Result used by both ring implementations in this
// package.
type result struct {
	userData uint64
	value    int32
	err      error
}

func (r result) UserData() uint64 { return r.userData }
func (r result) Value() int32     { return r.value }
func (r result) Error() error     { return r.err }
