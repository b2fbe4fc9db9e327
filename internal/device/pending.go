package device

import (
	"sync"

	"github.com/dxrt-go/dxrt/internal/request"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

// pendingEntry pairs an in-flight Request with the Task that owns its
// model-type/codec metadata, so the output handler can decode a response
// without a second lookup. cacheIdx is the task's MemCache ring slot
// reserved for this request, or -1 if none was acquired (cache disabled
// or momentarily exhausted) — the output handler releases it back to the
// ring once the response is decoded.
type pendingEntry struct {
	req      *request.Request
	task     *taskgraph.Task
	cacheIdx int
}

// PendingRegistry maps accelerator request IDs to their in-flight Request,
// so responses arriving out of DMA-channel order (spec §4.6's concurrency
// guarantee) are matched correctly by req_id rather than by arrival order.
type PendingRegistry struct {
	mu      sync.Mutex
	pending map[uint64]pendingEntry
}

func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{pending: make(map[uint64]pendingEntry)}
}

// Register records an in-flight request. cacheIdx is the MemCache ring
// slot reserved for it, or -1 if the task has no cache (CPU/unregistered)
// or the ring was momentarily exhausted.
func (r *PendingRegistry) Register(req *request.Request, task *taskgraph.Task, cacheIdx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[req.ID] = pendingEntry{req: req, task: task, cacheIdx: cacheIdx}
}

// Take removes and returns the entry for reqID, if any — responses whose
// proc_id doesn't match this process, or whose req_id is unknown, are
// dropped by the caller (spec §4.6).
func (r *PendingRegistry) Take(reqID uint64) (*request.Request, *taskgraph.Task, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[reqID]
	if !ok {
		return nil, nil, -1, false
	}
	delete(r.pending, reqID)
	return e.req, e.task, e.cacheIdx, true
}
