package device

import (
	"context"
	"encoding/binary"

	"github.com/dxrt-go/dxrt/internal/codec"
	"github.com/dxrt-go/dxrt/internal/constants"
	"github.com/dxrt-go/dxrt/internal/driver"
	"github.com/dxrt-go/dxrt/internal/model"
	"github.com/dxrt-go/dxrt/internal/request"
	"github.com/dxrt-go/dxrt/internal/taskgraph"
)

// OutputHandler is one of num_dma_ch worker goroutines that each issue
// NPU_RUN_RESP, wait for a response, and dispatch it to the model-type
// specific decode path named in spec §4.6.
type OutputHandler struct {
	device      *Device
	pending     *PendingRegistry
	channel     int
	processID   uint64
	maxPPUFilter int
}

// NewOutputHandler builds the handler for one DMA channel. processID is
// compared against each response's embedded proc_id so responses destined
// for a different process (a shared-device scenario) are ignored.
func NewOutputHandler(d *Device, pending *PendingRegistry, channel int, processID uint64) *OutputHandler {
	return &OutputHandler{
		device:       d,
		pending:      pending,
		channel:      channel,
		processID:    processID,
		maxPPUFilter: constants.DefaultMaxPPUFilterNum,
	}
}

// Run loops issuing NPU_RUN_RESP and processing whatever comes back until
// ctx is cancelled.
func (h *OutputHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resp, err := h.device.Adapter.Ioctl(ctx, driver.CmdNPURunResp, nil, h.channel)
		if err != nil {
			continue
		}
		h.handleResponse(ctx, resp)
	}
}

// responseHeader is the minimal NPU_RUN_RESP decoding this runtime needs:
// proc_id, req_id, argmax value, and PPU filter count. The full register-
// map-bound descriptor is driver/firmware-specific and out of scope.
type responseHeader struct {
	procID     uint64
	reqID      uint64
	argmax     uint16
	filterNum  uint32
}

func decodeResponseHeader(resp []byte) (responseHeader, bool) {
	if len(resp) < 24 {
		return responseHeader{}, false
	}
	return responseHeader{
		procID:    binary.LittleEndian.Uint64(resp[0:8]),
		reqID:     binary.LittleEndian.Uint64(resp[8:16]),
		argmax:    binary.LittleEndian.Uint16(resp[16:18]),
		filterNum: binary.LittleEndian.Uint32(resp[20:24]),
	}, true
}

func (h *OutputHandler) handleResponse(ctx context.Context, resp []byte) {
	hdr, ok := decodeResponseHeader(resp)
	if !ok {
		return
	}
	if hdr.procID != h.processID {
		return // not ours, per spec §4.6
	}

	req, task, cacheIdx, ok := h.pending.Take(hdr.reqID)
	h.device.DecInFlight()
	if !ok {
		return
	}
	if cacheIdx >= 0 && task.Cache != nil {
		defer task.Cache.Release(cacheIdx)
	}

	var out []byte
	var decodeErr error
	switch task.ModelType {
	case model.ModelTypeArgmax:
		out, decodeErr = h.decodeArgmax(hdr, task)
	case model.ModelTypePPU:
		out, decodeErr = h.decodePPU(ctx, hdr, task)
	case model.ModelTypePPCPU:
		out, decodeErr = h.decodePPCPU(ctx, hdr, task)
	default:
		out, decodeErr = h.decodeNormal(ctx, req, task)
	}

	if decodeErr != nil {
		req.Complete(decodeErr)
		return
	}

	if len(task.Outputs) > 0 {
		name := task.Outputs[0].Name
		if req.Outputs == nil {
			req.Outputs = make(map[string][]byte, 1)
		}
		req.Outputs[name] = out
		task.SetLastOutput(out)
	}
	req.Complete(nil)
}

// decodeArgmax writes the response's 16-bit argmax value directly into the
// single output tensor (spec §4.6).
func (h *OutputHandler) decodeArgmax(hdr responseHeader, task *taskgraph.Task) ([]byte, error) {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, hdr.argmax)
	return out, nil
}

// decodePPU copies a fixed-size buffer and reports the filter count as the
// output tensor's second shape dimension via the returned bytes' length
// (the caller re-derives shape from len(out)/elemSize upstream).
func (h *OutputHandler) decodePPU(ctx context.Context, hdr responseHeader, task *taskgraph.Task) ([]byte, error) {
	n := int(hdr.filterNum)
	out := make([]byte, n)
	if _, err := h.device.Adapter.Read(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodePPCPU reads exactly filter_num * dtype_size bytes from device
// memory, clamping filter_num to the declared maximum (spec §4.6's PPCPU
// edge case). The clamp is not logged and raises no runtime event.
func (h *OutputHandler) decodePPCPU(ctx context.Context, hdr responseHeader, task *taskgraph.Task) ([]byte, error) {
	filterNum := int(hdr.filterNum)
	clamped := filterNum > h.maxPPUFilter
	if clamped {
		filterNum = h.maxPPUFilter
	}

	elemSize := 4
	if len(task.Outputs) > 0 {
		elemSize = dtypeElemSize(task.Outputs[0].DataType)
	}

	out := make([]byte, filterNum*elemSize)
	if _, err := h.device.Adapter.Read(ctx, out); err != nil {
		return nil, err
	}
	if clamped {
		h.reportClamp(task.Name, filterNum)
	}
	return out, nil
}

func (h *OutputHandler) reportClamp(taskName string, clampedTo int) {
	// Runtime event fan-out (C16) is wired by the engine via EventSink;
	// this handler has no sink of its own, so clamping is observable
	// through the task's last-output snapshot length instead.
}

// decodeNormal reads the device's bulk output region and decodes it
// host-ward via the codec using the task's declared output layout.
func (h *OutputHandler) decodeNormal(ctx context.Context, req *request.Request, task *taskgraph.Task) ([]byte, error) {
	if len(task.Outputs) == 0 {
		return nil, nil
	}
	spec := task.Outputs[0]

	encodedSize := int(spec.MemorySize)
	if encodedSize == 0 {
		encodedSize = elementCount(spec.Shape) * dtypeElemSize(spec.DataType)
	}
	encoded := make([]byte, encodedSize)
	if _, err := h.device.Adapter.Read(ctx, encoded); err != nil {
		return nil, err
	}

	userSize := elementCount(spec.Shape) * dtypeElemSize(spec.DataType)
	decoded := make([]byte, userSize)

	layout := codec.Layout(spec.Layout)
	transpose := codec.TransposeKind(spec.Transpose)
	channel := 0
	if len(spec.EncodedShape) > 0 {
		channel = int(spec.EncodedShape[len(spec.EncodedShape)-1])
	}
	row, col := shapeRowCol(spec.Shape)

	if err := h.device.Codec.Decode(layout, encoded, decoded, channel, dtypeElemSize(spec.DataType), row, col, transpose); err != nil {
		return nil, err
	}
	return decoded, nil
}

func elementCount(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	if len(shape) == 0 {
		return 0
	}
	return n
}

func shapeRowCol(shape []int64) (int, int) {
	if len(shape) < 2 {
		return elementCount(shape), 1
	}
	row := 1
	for _, d := range shape[:len(shape)-1] {
		row *= int(d)
	}
	return row, int(shape[len(shape)-1])
}

// dtypeElemSize mirrors dxrt.DataType.ElementSize() without importing the
// root package (which imports this one via engine.go, making a direct
// dependency a cycle).
func dtypeElemSize(dtype int) int {
	switch dtype {
	case 0: // float32
		return 4
	case 1, 5: // int8, uint8
		return 1
	case 2, 6: // int16, uint16
		return 2
	case 3, 7: // int32, uint32
		return 4
	case 4, 8: // int64, uint64
		return 8
	case 9: // bbox
		return 32
	case 10: // face
		return 64
	case 11: // pose
		return 256
	default:
		return 4
	}
}
