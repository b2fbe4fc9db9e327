package device

import (
	"context"
	"encoding/binary"

	"github.com/dxrt-go/dxrt/internal/driver"
	"github.com/dxrt-go/dxrt/internal/request"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

// InputHandler drains a single-producer FIFO of pending requests for one
// device, matching spec §4.6's input handler: assign a DMA channel,
// write the input payload (or skip under SkipInferenceIO), then issue
// NPU_RUN_REQ, retrying on EBUSY with the input-data field cleared.
type InputHandler struct {
	device          *Device
	pending         *PendingRegistry
	queue           chan inputJob
	skipInferenceIO bool
}

type inputJob struct {
	req  *request.Request
	task *taskgraph.Task
}

// NewInputHandler builds an InputHandler with the given FIFO depth.
func NewInputHandler(d *Device, pending *PendingRegistry, queueDepth int, skipInferenceIO bool) *InputHandler {
	return &InputHandler{
		device:          d,
		pending:         pending,
		queue:           make(chan inputJob, queueDepth),
		skipInferenceIO: skipInferenceIO,
	}
}

// Enqueue submits a request for input-handler processing. Non-blocking up
// to the FIFO's depth; backpressure is expected to come from the task's
// own buffer pools (C1), not from this queue.
func (h *InputHandler) Enqueue(req *request.Request, task *taskgraph.Task) {
	h.queue <- inputJob{req: req, task: task}
}

// Run drains the FIFO until ctx is cancelled. Intended to be the body of
// the dedicated input-handler goroutine (spec §5's "one dedicated worker
// fed by a FIFO").
func (h *InputHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-h.queue:
			if !ok {
				return
			}
			h.process(ctx, job.req, job.task)
		}
	}
}

func (h *InputHandler) process(ctx context.Context, req *request.Request, task *taskgraph.Task) {
	channel := h.device.NextDMAChannel()

	cacheIdx := -1
	var cacheOffset uint64
	if task.Cache != nil {
		if off, idx, ok := task.Cache.Acquire(); ok {
			cacheOffset = off
			cacheIdx = idx
		}
	}

	payload := buildRunRequestPayload(req, channel, cacheOffset)

	if !h.skipInferenceIO {
		// Inputs are already in the task's declared encoded layout by the
		// time they reach the input handler — encoding happens once, at
		// request-build time, via the codec driven by the task's
		// per-tensor model.TensorSpec.Layout (see job.go's
		// encodeInputsInto).
		for _, in := range req.Inputs {
			if _, werr := h.device.Adapter.Write(ctx, in); werr != nil {
				if cacheIdx >= 0 {
					task.Cache.Release(cacheIdx)
				}
				req.Complete(werr)
				return
			}
		}
	}

	h.device.IncInFlight()
	h.pending.Register(req, task, cacheIdx)

	for {
		_, err := h.device.Adapter.Ioctl(ctx, driver.CmdNPURunReq, payload, channel)
		if err == driver.ErrBusy {
			clearInputData(payload)
			continue
		}
		if err != nil {
			h.device.DecInFlight()
			if cacheIdx >= 0 {
				task.Cache.Release(cacheIdx)
			}
			req.Complete(err)
			return
		}
		break
	}
}

// buildRunRequestPayload assembles the minimal NPU_RUN_REQ descriptor this
// runtime needs at the Go layer: request id, assigned DMA channel, and the
// cached device-memory offset reserved for the response (0 if the task
// has no cache or the ring was exhausted, in which case firmware falls
// back to its own allocation). The full register-map-bound descriptor
// format is driver/firmware-specific and out of scope (spec §6).
func buildRunRequestPayload(req *request.Request, channel int, cacheOffset uint64) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], req.ID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(channel))
	binary.LittleEndian.PutUint64(buf[16:24], cacheOffset)
	return buf
}

// clearInputData zeroes the payload's leading bytes, the documented EBUSY
// recovery: the queue accepted the data but not yet the descriptor, so a
// retry must not resend the already-accepted input.
func clearInputData(payload []byte) {
	for i := range payload {
		payload[i] = 0
	}
}
