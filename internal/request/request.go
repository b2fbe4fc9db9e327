// Package request implements Request (C12): one execution of one task for
// one job, carrying its inputs/outputs/state through the lifecycle
// picked -> busy -> done -> reset -> available (spec §4.10).
package request

import (
	"sync"
	"time"

	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

// State is a Request's position in its lifecycle.
type State int

const (
	StateAvailable State = iota
	StatePicked
	StateBusy
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StatePicked:
		return "picked"
	case StateBusy:
		return "busy"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// CompletionReporter is the callback surface a job (C13) implements so a
// Request can report itself done without importing the jobpool package
// (which itself depends on request, so a direct import would cycle). The
// reporter receives the Request itself (not just its id/task name) so it
// can release it back to the owning request.Pool once it's done reading
// from it — request.Pool.Release has no other production call site.
type CompletionReporter interface {
	OnRequestComplete(req *Request, outputs map[string][]byte, err error)
}

// Request is one in-flight execution of one Task.
type Request struct {
	mu sync.Mutex

	ID       uint64
	Task     *taskgraph.Task
	JobID    uint64
	UserArg  any

	Inputs  map[string][]byte
	Outputs map[string][]byte

	OutputBufferBase []byte // caller-provided output buffer, if any
	Buffers          *taskgraph.AcquiredBuffers

	reporter CompletionReporter

	state     State
	startedAt time.Time
	endedAt   time.Time
	err       error
}

// Create assembles a Request for one task execution within one job,
// mirroring Request::create(task, inputs, outputs, user_arg, job_id).
func Create(id uint64, task *taskgraph.Task, jobID uint64, inputs, outputs map[string][]byte, outputBufferBase []byte, userArg any, reporter CompletionReporter) *Request {
	return &Request{
		ID:               id,
		Task:             task,
		JobID:            jobID,
		UserArg:          userArg,
		Inputs:           inputs,
		Outputs:          outputs,
		OutputBufferBase: outputBufferBase,
		reporter:         reporter,
		state:            StatePicked,
	}
}

// Init re-purposes an already-pooled Request for a new execution in place,
// avoiding a whole-struct assignment over a Request that embeds a mutex.
func (r *Request) Init(task *taskgraph.Task, jobID uint64, inputs, outputs map[string][]byte, outputBufferBase []byte, userArg any, reporter CompletionReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Task = task
	r.JobID = jobID
	r.UserArg = userArg
	r.Inputs = inputs
	r.Outputs = outputs
	r.OutputBufferBase = outputBufferBase
	r.Buffers = nil
	r.reporter = reporter
	r.err = nil
	r.state = StatePicked
}

// AttachBuffers records the buffer-set acquired for this request so
// Complete can release it.
func (r *Request) AttachBuffers(b *taskgraph.AcquiredBuffers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Buffers = b
}

// Begin transitions Picked -> Busy and records the start time.
func (r *Request) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateBusy
	r.startedAt = time.Now()
}

// Complete runs the three completion steps from spec §4.10: records
// end-time/latency, reports outputs to the owning job, and releases the
// buffer-set if one is owned and not already released.
func (r *Request) Complete(runErr error) {
	r.mu.Lock()
	r.endedAt = time.Now()
	r.err = runErr
	r.state = StateDone
	latency := r.endedAt.Sub(r.startedAt)
	task := r.Task
	outputs := r.Outputs
	buffers := r.Buffers
	r.Buffers = nil
	reporter := r.reporter
	r.mu.Unlock()

	if task != nil {
		task.RecordLatency(latency)
	}

	if reporter != nil {
		reporter.OnRequestComplete(r, outputs, runErr)
	}

	if task != nil && task.Pools != nil && buffers != nil {
		task.Pools.ReleaseAll(buffers)
	}
}

// Reset returns the Request to Available, clearing per-execution state so
// the pool can hand it out again.
func (r *Request) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Task = nil
	r.JobID = 0
	r.UserArg = nil
	r.Inputs = nil
	r.Outputs = nil
	r.OutputBufferBase = nil
	r.Buffers = nil
	r.reporter = nil
	r.err = nil
	r.state = StateAvailable
}

// State returns the Request's current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error recorded at completion, if any.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Latency returns the completed request's duration, or 0 if not yet done.
func (r *Request) Latency() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endedAt.IsZero() {
		return 0
	}
	return r.endedAt.Sub(r.startedAt)
}
