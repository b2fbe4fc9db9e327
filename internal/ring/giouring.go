//go:build giouring

package ring

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

func addrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// GiouringRing is the real io_uring-backed Ring, for multiplexing
// completions across DMA channels without a blocking syscall per channel.
// The accelerator event/output handlers (C8) do not use it.
//
// The teacher's go.mod declares this exact dependency but its own
// giouring-tagged file (internal/uring/iouring.go) imports an unrelated,
// undeclared package under the same build tag — a latent inconsistency.
// This file wires the declared dependency for real instead of carrying the
// same defect forward.
type GiouringRing struct {
	mu  sync.Mutex
	ring *giouring.Ring
	fd  int32
	userData map[uint64][]byte // keeps submitted payloads alive until completion
}

func NewGiouringRing(cfg Config) (*GiouringRing, error) {
	r, err := giouring.CreateRing(cfg.Entries)
	if err != nil {
		return nil, fmt.Errorf("ring: giouring setup: %w", err)
	}
	return &GiouringRing{
		ring:     r,
		fd:       cfg.FD,
		userData: make(map[uint64][]byte),
	}, nil
}

func (r *GiouringRing) Submit(opcode uint32, payload []byte, userData uint64) (Result, error) {
	if err := r.PrepareSubmit(opcode, payload, userData); err != nil {
		return nil, err
	}
	if _, err := r.FlushSubmissions(); err != nil {
		return nil, err
	}
	results, err := r.WaitForCompletion(-1)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if res.UserData() == userData {
			return res, nil
		}
	}
	return nil, fmt.Errorf("ring: completion for user_data %d not found", userData)
}

func (r *GiouringRing) PrepareSubmit(opcode uint32, payload []byte, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}

	sqe.PrepareRW(uint8(opcode), r.fd, 0, uint32(len(payload)), 0)
	if len(payload) > 0 {
		sqe.SetAddr(addrOf(payload))
	}
	sqe.UserData = userData
	r.userData[userData] = payload
	return nil
}

func (r *GiouringRing) FlushSubmissions() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.ring.Submit()
	if err != nil {
		return 0, fmt.Errorf("ring: submit: %w", err)
	}
	return n, nil
}

func (r *GiouringRing) WaitForCompletion(timeoutMs int) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cqes [64]*giouring.CompletionQueueEvent
	n, err := r.ring.PeekBatchCQE(cqes[:])
	if err != nil {
		return nil, fmt.Errorf("ring: peek completions: %w", err)
	}

	out := make([]Result, 0, n)
	for i := uint32(0); i < n; i++ {
		cqe := cqes[i]
		out = append(out, result{userData: cqe.UserData, value: cqe.Res})
		delete(r.userData, cqe.UserData)
	}
	r.ring.CQAdvance(n)
	return out, nil
}

func (r *GiouringRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring.QueueExit()
	return nil
}

var _ Ring = (*GiouringRing)(nil)
