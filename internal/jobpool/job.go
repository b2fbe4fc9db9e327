// Package jobpool implements InferenceJob (C13), the orchestrator of one
// end-to-end inference over the task graph, and its pre-allocated pool
// (C15, the job half — internal/request.Pool covers the request half).
package jobpool

import (
	"fmt"
	"sync"

	"github.com/dxrt-go/dxrt/internal/request"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

// TaskStatus is a job-local view of one task's progress, distinct from
// the task's own immutable definition.
type TaskStatus int

const (
	TaskIdle TaskStatus = iota
	TaskReady
	TaskDispatched
	TaskDone
)

// JobStatus is the job's own top-level state.
type JobStatus int

const (
	JobAvailable JobStatus = iota
	JobBusy
	JobDone
)

// Dispatcher issues a bound Request onto either the CPU worker pool or a
// picked accelerator device. Implemented by the engine; kept as an
// interface here so jobpool never imports internal/device or
// internal/cpuexec (both of which would otherwise need to import jobpool
// back to report completions, a cycle).
type Dispatcher interface {
	Dispatch(req *request.Request) error
}

// Callback is invoked once when a job finishes, successfully or not.
type Callback func(outputs map[string][]byte, err error)

// Job is one end-to-end inference over the task graph (C13).
type Job struct {
	mu sync.Mutex

	ID         uint64
	Tasks      []*taskgraph.Task
	byName     map[string]*taskgraph.Task
	InputTasks []*taskgraph.Task
	OutputOrder []string

	TailOffsets map[string]map[string]uint64 // task name -> tensor name -> byte offset into the model-global output buffer

	status     JobStatus
	taskStatus map[string]TaskStatus
	tensorMap  map[string][]byte

	doneCount      int
	totalLatencyNs int64
	npuTimeNs      int64

	outputBuffer []byte // caller-provided, nil if the engine owns the result copies
	userArg      any
	callback     Callback
	reqPool      *request.Pool
	dispatcher   Dispatcher

	waitCh chan struct{}
	result map[string][]byte
	err    error
}

// NewJob builds a Job bound to a fixed task list and output order. Reset
// re-purposes the same Job for a new inference via the job pool.
func NewJob(tasks []*taskgraph.Task, outputOrder []string, tailOffsets map[string]map[string]uint64, reqPool *request.Pool) *Job {
	byName := make(map[string]*taskgraph.Task, len(tasks))
	var heads []*taskgraph.Task
	for _, t := range tasks {
		byName[t.Name] = t
		if t.IsHead {
			heads = append(heads, t)
		}
	}
	return &Job{
		Tasks:       tasks,
		byName:      byName,
		InputTasks:  heads,
		OutputOrder: outputOrder,
		TailOffsets: tailOffsets,
		reqPool:     reqPool,
	}
}

// Bind attaches the dispatcher and resets per-inference state so a pooled
// Job can be reused for a new run (spec §4.11 construction semantics).
func (j *Job) Bind(id uint64, dispatcher Dispatcher, userArg any, outputBuffer []byte, callback Callback) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.ID = id
	j.dispatcher = dispatcher
	j.userArg = userArg
	j.outputBuffer = outputBuffer
	j.callback = callback
	j.status = JobBusy
	j.doneCount = 0
	j.totalLatencyNs = 0
	j.npuTimeNs = 0
	j.err = nil
	j.result = nil
	j.waitCh = make(chan struct{})

	j.taskStatus = make(map[string]TaskStatus, len(j.Tasks))
	for _, t := range j.Tasks {
		j.taskStatus[t.Name] = TaskIdle
	}
	j.tensorMap = make(map[string][]byte)
}

// StartJob implements spec §4.11's start_job for single-input models: it
// binds the single head task's inputs, optionally maps its output
// directly into the caller's buffer when the head is also a tail, and
// dispatches the head request.
func (j *Job) StartJob(input map[string][]byte) error {
	j.mu.Lock()
	if len(j.InputTasks) != 1 {
		j.mu.Unlock()
		return fmt.Errorf("jobpool: start_job requires exactly one head task, got %d", len(j.InputTasks))
	}
	head := j.InputTasks[0]
	for name, buf := range input {
		j.tensorMap[name] = buf
	}
	j.mu.Unlock()

	return j.dispatchTask(head)
}

// StartMultiInputJob implements spec §4.11's start_multi_input_job: it
// populates the tensor map from tensorsByName, then dispatches every
// IDLE task whose declared inputs are already fully satisfied.
func (j *Job) StartMultiInputJob(tensorsByName map[string][]byte) error {
	j.mu.Lock()
	for name, buf := range tensorsByName {
		j.tensorMap[name] = buf
	}
	ready := j.collectNewlyReadyLocked()
	j.mu.Unlock()

	for _, t := range ready {
		if err := j.dispatchTask(t); err != nil {
			return err
		}
	}
	return nil
}

// collectNewlyReadyLocked scans IDLE tasks and flips to READY+returns any
// whose inputs are now all present in the tensor map. Caller holds j.mu.
func (j *Job) collectNewlyReadyLocked() []*taskgraph.Task {
	var ready []*taskgraph.Task
	for _, t := range j.Tasks {
		if j.taskStatus[t.Name] != TaskIdle {
			continue
		}
		if j.inputsSatisfiedLocked(t) {
			j.taskStatus[t.Name] = TaskReady
			ready = append(ready, t)
		}
	}
	return ready
}

func (j *Job) inputsSatisfiedLocked(t *taskgraph.Task) bool {
	for _, in := range t.Inputs {
		if _, ok := j.tensorMap[in.Name]; !ok {
			return false
		}
	}
	return true
}

func (j *Job) dispatchTask(t *taskgraph.Task) error {
	j.mu.Lock()
	j.taskStatus[t.Name] = TaskDispatched

	inputs := make(map[string][]byte, len(t.Inputs))
	for _, in := range t.Inputs {
		inputs[in.Name] = j.tensorMap[in.Name]
	}

	var outputBufferBase []byte
	if j.outputBuffer != nil {
		if offsets, ok := j.TailOffsets[t.Name]; ok {
			outputBufferBase = sliceAtMinOffset(j.outputBuffer, offsets)
		}
	}
	dispatcher := j.dispatcher
	jobID := j.ID
	j.mu.Unlock()

	req, ok := j.reqPool.Acquire()
	if !ok {
		return fmt.Errorf("jobpool: request pool exhausted dispatching task %q", t.Name)
	}
	req.Init(t, jobID, inputs, make(map[string][]byte, len(t.Outputs)), outputBufferBase, j.userArg, j)

	if dispatcher == nil {
		return fmt.Errorf("jobpool: no dispatcher bound")
	}
	return dispatcher.Dispatch(req)
}

// sliceAtMinOffset picks the smallest declared offset among a task's
// output tensors and slices the user buffer from there, since individual
// per-tensor base pointers are computed by the caller of Dispatch (the
// device/cpu output handler) using the full offsets map.
func sliceAtMinOffset(buf []byte, offsets map[string]uint64) []byte {
	var min uint64
	first := true
	for _, off := range offsets {
		if first || off < min {
			min = off
			first = false
		}
	}
	if int(min) > len(buf) {
		return nil
	}
	return buf[min:]
}

// OnRequestComplete implements request.CompletionReporter — spec §4.11's
// on_request_complete. It reads everything it needs off req before
// releasing it back to the request pool, since req.Task/req.JobID are
// cleared the moment Release resets it for reuse.
func (j *Job) OnRequestComplete(req *request.Request, outputs map[string][]byte, runErr error) {
	taskName := ""
	if req.Task != nil {
		taskName = req.Task.Name
	}
	j.reqPool.Release(req)

	j.mu.Lock()

	for name, buf := range outputs {
		j.tensorMap[name] = buf
	}

	j.doneCount++
	j.taskStatus[taskName] = TaskDone

	if runErr != nil {
		j.err = runErr
	}

	t := j.byName[taskName]
	var toDispatch []*taskgraph.Task
	if t != nil && !t.IsTail {
		toDispatch = j.collectNewlyReadyLocked()
	}

	allDone := j.doneCount >= len(j.Tasks)
	var result map[string][]byte
	var finalErr error
	if allDone {
		result, finalErr = j.resolveOutputsLocked()
		j.result = result
		if finalErr != nil && j.err == nil {
			j.err = finalErr
		}
		j.status = JobDone
	}
	cb := j.callback
	waitCh := j.waitCh
	finalResult := j.result
	finalJobErr := j.err
	j.mu.Unlock()

	for _, next := range toDispatch {
		_ = j.dispatchTask(next) // best-effort; a dispatch failure surfaces via that task's own completion path
	}

	if allDone {
		if cb != nil {
			cb(finalResult, finalJobErr)
		}
		close(waitCh)
	}
}

// resolveOutputsLocked resolves the declared output order into a result
// map once every task is done. Caller holds j.mu.
func (j *Job) resolveOutputsLocked() (map[string][]byte, error) {
	result := make(map[string][]byte, len(j.OutputOrder))
	for _, name := range j.OutputOrder {
		buf, ok := j.tensorMap[name]
		if !ok {
			return nil, fmt.Errorf("jobpool: declared output tensor %q was never produced", name)
		}
		result[name] = buf
	}
	return result, nil
}

// Wait blocks until the job completes and returns its resolved outputs.
func (j *Job) Wait() (map[string][]byte, error) {
	j.mu.Lock()
	waitCh := j.waitCh
	j.mu.Unlock()
	<-waitCh

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Status reports the job's current top-level state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}
