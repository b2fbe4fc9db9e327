package dxrt

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dxrt-go/dxrt/internal/constants"
	"github.com/dxrt-go/dxrt/internal/jobpool"
	"github.com/dxrt-go/dxrt/internal/request"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

// Dispatch implements jobpool.Dispatcher: it acquires req.Task's buffer
// pool trio, encodes inputs for NPU tasks, picks a device (or a CPU
// worker), and hands the request off to run asynchronously. Completion
// flows back through request.CompletionReporter to the owning Job, not
// through this call's return value.
func (e *Engine) Dispatch(req *request.Request) error {
	t := req.Task
	if t.Pools == nil {
		return NewTaskError("Dispatch", -1, t.ID, ErrInvalidOperation, "task has no buffer pools attached")
	}

	ab, err := t.Pools.AcquireAll()
	if err != nil {
		return WrapError("Dispatch", err)
	}
	req.AttachBuffers(ab)

	if t.IsNPU() {
		return e.dispatchNPU(req, t, ab)
	}
	return e.dispatchCPU(req, t, ab)
}

func (e *Engine) dispatchNPU(req *request.Request, t *taskgraph.Task, ab *taskgraph.AcquiredBuffers) error {
	if ab.EncodedInput != nil {
		if err := e.encodeInputsInto(t, req, ab.EncodedInput); err != nil {
			t.Pools.ReleaseAll(ab)
			req.AttachBuffers(nil)
			return WrapError("Dispatch", err)
		}
	}

	dev, err := e.devices.WaitOne(e.ctx, t.BoundDevices)
	if err != nil {
		t.Pools.ReleaseAll(ab)
		req.AttachBuffers(nil)
		return WrapError("Dispatch", err)
	}

	handler := e.inputHandlers[dev.ID]
	if handler == nil {
		t.Pools.ReleaseAll(ab)
		req.AttachBuffers(nil)
		return NewDeviceError("Dispatch", dev.ID, ErrInvalidOperation, "no input handler for device")
	}
	handler.Enqueue(req, t)
	return nil
}

func (e *Engine) dispatchCPU(req *request.Request, t *taskgraph.Task, ab *taskgraph.AcquiredBuffers) error {
	worker, ok := e.cpuWorkers[t.Name]
	if !ok {
		t.Pools.ReleaseAll(ab)
		req.AttachBuffers(nil)
		return NewTaskError("Dispatch", -1, t.ID, ErrInvalidOperation, fmt.Sprintf("no CPU worker for task %q", t.Name))
	}
	worker.Submit(req)
	return nil
}

// encodeInputsInto encodes every one of t's declared inputs from req's raw
// tensor bytes into its region of slot, replacing req.Inputs with views
// over the encoded bytes so the input handler can write them as-is.
func (e *Engine) encodeInputsInto(t *taskgraph.Task, req *request.Request, slot []byte) error {
	regions := e.inputRegions[t.Name]
	encoded := make(map[string][]byte, len(t.Inputs))
	for _, spec := range t.Inputs {
		region, ok := regions[spec.Name]
		if !ok || region.offset+region.size > len(slot) {
			continue
		}
		dst := slot[region.offset : region.offset+region.size]
		src := req.Inputs[spec.Name]

		_, col := tensorRowCol(spec.Shape)
		channel := col
		if len(spec.EncodedShape) > 0 {
			channel = int(spec.EncodedShape[len(spec.EncodedShape)-1])
		}
		elemSize := DataType(spec.DataType).ElementSize()

		if err := e.codec.Encode(codecLayoutOf(spec.Layout), src, dst, col, channel, elemSize, codecTransposeOf(spec.Transpose)); err != nil {
			return err
		}
		encoded[spec.Name] = dst
	}
	req.Inputs = encoded
	return nil
}

// Run submits a single-head-task inference synchronously and blocks for
// its result, mirroring spec §4.12's synchronous run().
func (e *Engine) Run(input map[string][]byte) (map[string][]byte, error) {
	return e.runSync(input, nil, nil)
}

// RunWithOutputBuffer is Run, but tail task outputs are written directly
// into outputBuffer at their declared offsets instead of being allocated
// fresh (spec §4.9).
func (e *Engine) RunWithOutputBuffer(input map[string][]byte, outputBuffer []byte) (map[string][]byte, error) {
	return e.runSync(input, outputBuffer, nil)
}

func (e *Engine) runSync(input map[string][]byte, outputBuffer []byte, userArg any) (map[string][]byte, error) {
	job, err := e.jobs.Acquire(e, userArg, outputBuffer, nil)
	if err != nil {
		return nil, WrapError("Run", err)
	}
	if err := job.StartJob(input); err != nil {
		e.jobs.Release(job)
		return nil, WrapError("Run", err)
	}
	result, runErr := job.Wait()
	e.jobs.Release(job)
	return result, runErr
}

// RunAsync dispatches a single-head-task inference without blocking and
// returns its job id; the caller retrieves the result later via Wait.
func (e *Engine) RunAsync(input map[string][]byte, outputBuffer []byte, userArg any) (uint64, error) {
	job, err := e.jobs.Acquire(e, userArg, outputBuffer, nil)
	if err != nil {
		return 0, WrapError("RunAsync", err)
	}
	if err := job.StartJob(input); err != nil {
		e.jobs.Release(job)
		return 0, WrapError("RunAsync", err)
	}
	return job.ID, nil
}

// RunMultiInput dispatches every head task of a multi-input model as soon
// as its inputs are present in tensorsByName (spec §4.11's
// start_multi_input_job), returning the job id for a later Wait.
func (e *Engine) RunMultiInput(tensorsByName map[string][]byte, outputBuffer []byte, userArg any) (uint64, error) {
	job, err := e.jobs.Acquire(e, userArg, outputBuffer, nil)
	if err != nil {
		return 0, WrapError("RunMultiInput", err)
	}
	if err := job.StartMultiInputJob(tensorsByName); err != nil {
		e.jobs.Release(job)
		return 0, WrapError("RunMultiInput", err)
	}
	return job.ID, nil
}

// RunMultiInputBuffer implements the auto-split policy for multi-input
// models with a single head task (spec §4.11/§4.12): buf must be exactly
// the sum of that head task's declared input tensor sizes; it's sliced
// into one copy per input tensor, in declared order, and dispatched
// through the same path as RunMultiInput. Any other length is
// InvalidArgument, as is a model with more than one head task.
func (e *Engine) RunMultiInputBuffer(buf []byte, outputBuffer []byte, userArg any) (uint64, error) {
	tensors, err := e.splitMonolithicInput(buf)
	if err != nil {
		return 0, WrapError("RunMultiInputBuffer", err)
	}
	return e.RunMultiInput(tensors, outputBuffer, userArg)
}

// splitMonolithicInput locates the model's single head task and slices buf
// into per-input views in that task's declared Inputs order.
func (e *Engine) splitMonolithicInput(buf []byte) (map[string][]byte, error) {
	var head *taskgraph.Task
	heads := 0
	for _, t := range e.tasks {
		if t.IsHead {
			heads++
			head = t
		}
	}
	if heads != 1 {
		return nil, NewError("splitMonolithicInput", ErrInvalidArgument,
			fmt.Sprintf("auto-split requires exactly one head task, model has %d", heads))
	}

	total := 0
	for _, in := range head.Inputs {
		total += tensorUserSize(in)
	}
	if len(buf) != total {
		return nil, NewError("splitMonolithicInput", ErrInvalidArgument,
			fmt.Sprintf("buffer length %d does not match sum of declared input sizes %d", len(buf), total))
	}

	tensors := make(map[string][]byte, len(head.Inputs))
	offset := 0
	for _, in := range head.Inputs {
		size := tensorUserSize(in)
		tensors[in.Name] = buf[offset : offset+size]
		offset += size
	}
	return tensors, nil
}

// RegisterCallback dispatches a single-head-task inference and invokes
// callback exactly once on completion; the job is released automatically
// and must not also be retrieved via Wait.
func (e *Engine) RegisterCallback(input map[string][]byte, outputBuffer []byte, userArg any, callback func(map[string][]byte, error)) error {
	var job *jobpool.Job
	wrapped := func(outputs map[string][]byte, err error) {
		if callback != nil {
			callback(outputs, err)
		}
		e.jobs.Release(job)
	}

	j, err := e.jobs.Acquire(e, userArg, outputBuffer, wrapped)
	if err != nil {
		return WrapError("RegisterCallback", err)
	}
	job = j

	if err := job.StartJob(input); err != nil {
		e.jobs.Release(job)
		return WrapError("RegisterCallback", err)
	}
	return nil
}

// Wait blocks for the job identified by jobID (as returned by RunAsync or
// RunMultiInput) and releases it back to the pool. Calling Wait twice, or
// calling it on a job dispatched via RegisterCallback, is a usage error.
func (e *Engine) Wait(jobID uint64) (map[string][]byte, error) {
	job, ok := e.jobs.Lookup(jobID)
	if !ok {
		return nil, NewError("Wait", ErrInvalidArgument, fmt.Sprintf("unknown or already-released job id %d", jobID))
	}
	result, err := job.Wait()
	e.jobs.Release(job)
	return result, err
}

// BatchInput is one request of a RunBatch call.
type BatchInput struct {
	Tensors      map[string][]byte
	OutputBuffer []byte
	UserArg      any
}

// BatchResult is the outcome of one BatchInput.
type BatchResult struct {
	Outputs map[string][]byte
	Err     error
}

// RunBatch runs every input synchronously, fanning out across at most
// constants.MaxBatchSize concurrent jobs per sub-batch (spec §4.12's
// batch auto-split). Each sub-batch runs in a golang.org/x/sync/errgroup
// group and is awaited before the next starts; no error is propagated
// through the group, and each input's error is carried in its BatchResult.
func (e *Engine) RunBatch(inputs []BatchInput) []BatchResult {
	results := make([]BatchResult, len(inputs))

	for start := 0; start < len(inputs); start += constants.MaxBatchSize {
		end := min(start+constants.MaxBatchSize, len(inputs))
		sub := inputs[start:end]

		g := new(errgroup.Group)
		var mu sync.Mutex
		for i, in := range sub {
			i, in := i, in
			g.Go(func() error {
				res, err := e.runSync(in.Tensors, in.OutputBuffer, in.UserArg)
				mu.Lock()
				results[start+i] = BatchResult{Outputs: res, Err: err}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait() // per-item errors are carried in results, not propagated
	}

	return results
}
