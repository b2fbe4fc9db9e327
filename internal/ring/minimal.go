package ring

import (
	"sync"
)

// MinimalRing is the default, portable Ring implementation: a
// mutex-protected submission queue and an in-process executor function,
// an alternative to the real io_uring backend (giouring.go, built with
// `-tags giouring`). No other package in this repo imports internal/ring.
// Grounded on the teacher's
// internal/uring/minimal.go in spirit (a minimal, dependency-free ring
// implementation used as the baseline path) without its raw io_uring
// syscall plumbing, which is specific to ublk's URING_CMD usage.
type MinimalRing struct {
	mu        sync.Mutex
	entries   uint32
	fd        int32
	exec      func(opcode uint32, payload []byte, userData uint64) (int32, error)
	staged    []stagedOp
	completed []Result
}

type stagedOp struct {
	opcode   uint32
	payload  []byte
	userData uint64
}

// Executor runs one ring operation and returns its result value (0 for
// success, negative for an errno-style failure).
type Executor func(opcode uint32, payload []byte, userData uint64) (int32, error)

// NewMinimalRing builds a MinimalRing with the given completion-queue
// capacity and an Executor that actually performs the operation (typically
// closing over a driver.Adapter).
func NewMinimalRing(cfg Config, exec Executor) *MinimalRing {
	return &MinimalRing{
		entries: cfg.Entries,
		fd:      cfg.FD,
		exec:    exec,
	}
}

func (r *MinimalRing) Submit(opcode uint32, payload []byte, userData uint64) (Result, error) {
	val, err := r.exec(opcode, payload, userData)
	return result{userData: userData, value: val, err: err}, nil
}

func (r *MinimalRing) PrepareSubmit(opcode uint32, payload []byte, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uint32(len(r.staged)) >= r.entries {
		return ErrRingFull
	}
	r.staged = append(r.staged, stagedOp{opcode: opcode, payload: payload, userData: userData})
	return nil
}

func (r *MinimalRing) FlushSubmissions() (uint32, error) {
	r.mu.Lock()
	staged := r.staged
	r.staged = nil
	r.mu.Unlock()

	for _, op := range staged {
		val, err := r.exec(op.opcode, op.payload, op.userData)
		r.mu.Lock()
		r.completed = append(r.completed, result{userData: op.userData, value: val, err: err})
		r.mu.Unlock()
	}
	return uint32(len(staged)), nil
}

func (r *MinimalRing) WaitForCompletion(timeoutMs int) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.completed
	r.completed = nil
	return out, nil
}

func (r *MinimalRing) Close() error {
	return nil
}

var _ Ring = (*MinimalRing)(nil)
