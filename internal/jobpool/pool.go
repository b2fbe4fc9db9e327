package jobpool

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dxrt-go/dxrt/internal/constants"
	"github.com/dxrt-go/dxrt/internal/request"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

// Pool is the pre-allocated circular pool of InferenceJob objects (C15),
// sized constants.InferenceJobMaxCount. Job identity uses a UUID rather
// than a pool index so a caller holding a stale job_id from a previous
// lease can never be confused with the job currently occupying that slot.
type Pool struct {
	mu   sync.Mutex
	free []*Job
	live map[uint64]*Job
	ids  map[uint64]uuid.UUID
}

// NewPool pre-builds constants.InferenceJobMaxCount Jobs, each wired to
// the given task list/output order/tail offsets and sharing reqPool for
// request leasing.
func NewPool(tasks []*taskgraph.Task, outputOrder []string, tailOffsets map[string]map[string]uint64, reqPool *request.Pool) *Pool {
	p := &Pool{
		free: make([]*Job, 0, constants.InferenceJobMaxCount),
		live: make(map[uint64]*Job),
		ids:  make(map[uint64]uuid.UUID),
	}
	for i := 0; i < constants.InferenceJobMaxCount; i++ {
		p.free = append(p.free, NewJob(tasks, outputOrder, tailOffsets, reqPool))
	}
	return p
}

// Acquire leases a Job and binds it for one inference run.
func (p *Pool) Acquire(dispatcher Dispatcher, userArg any, outputBuffer []byte, callback Callback) (*Job, error) {
	p.mu.Lock()
	if len(p.free) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("jobpool: pool exhausted (max %d concurrent jobs)", constants.InferenceJobMaxCount)
	}
	job := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	id := uuid.New()
	numericID := idToUint64(id)
	p.live[numericID] = job
	p.ids[numericID] = id
	p.mu.Unlock()

	job.Bind(numericID, dispatcher, userArg, outputBuffer, callback)
	return job, nil
}

// Release returns a finished Job to the free list.
func (p *Pool) Release(job *Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, job.ID)
	delete(p.ids, job.ID)
	p.free = append(p.free, job)
}

// Lookup finds a live job by its numeric ID, for wait(job_id) callers.
func (p *Pool) Lookup(id uint64) (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.live[id]
	return j, ok
}

// Available reports how many job slots are currently free.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// idToUint64 folds a UUID down to a uint64 handle. Collisions would only
// matter across simultaneously-live jobs, bounded by
// constants.InferenceJobMaxCount, making a birthday-bound collision
// astronomically unlikely for a 64-bit fold of a 128-bit random UUID.
func idToUint64(id uuid.UUID) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i]^id[i+8])
	}
	return v
}
