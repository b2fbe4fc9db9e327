package device

import (
	"context"
	"errors"

	"github.com/dxrt-go/dxrt/internal/driver"
)

// EventHandler long-polls EVENT in a dedicated goroutine per device,
// classifying and reacting per spec §4.6: on error, block the device and
// raise a runtime event; on recovery, unblock the device, report it and
// reissue START. Model parameters are not rewritten on recovery.
type EventHandler struct {
	device *Device
	sink   EventSink
}

// NewEventHandler builds an EventHandler reporting to sink (nil is valid:
// events are simply not fanned out).
func NewEventHandler(d *Device, sink EventSink) *EventHandler {
	return &EventHandler{device: d, sink: sink}
}

// Run polls until ctx is cancelled. Poll errors are reported as warnings
// and polling continues.
func (h *EventHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, err := h.device.Adapter.Poll(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			h.report(EventLevelWarning, int(driver.CmdEvent), -1, "poll error: "+err.Error())
			continue
		}
		h.handle(ctx, ev)
	}
}

func (h *EventHandler) handle(ctx context.Context, ev *driver.Event) {
	switch ev.Type {
	case driver.EventError:
		h.device.MarkBlocked(true)
		h.dumpDiagnostics(ctx)
		h.report(EventLevelError, int(ev.Type), ev.Code, ev.Message)
	case driver.EventThrottleNotice:
		h.report(EventLevelWarning, int(ev.Type), ev.Code, ev.Message)
	case driver.EventRecovery:
		h.device.MarkBlocked(false)
		h.report(EventLevelInfo, int(ev.Type), ev.Code, ev.Message)
		if _, err := h.device.Adapter.Ioctl(ctx, driver.CmdStart, nil, 0); err != nil {
			h.report(EventLevelWarning, int(driver.CmdStart), -1, "restart after recovery failed: "+err.Error())
		}
	}
}

// dumpDiagnostics issues PCIe/DDR diagnostic dump commands on device error
// (spec §4.6/§7): PCIE_INFO then DUMP. Failures are reported as warnings
// rather than aborting the error path already in progress.
func (h *EventHandler) dumpDiagnostics(ctx context.Context) {
	if _, err := h.device.Adapter.Ioctl(ctx, driver.CmdPCIeInfo, nil, 0); err != nil {
		h.report(EventLevelWarning, int(driver.CmdPCIeInfo), -1, "pcie diagnostics dump failed: "+err.Error())
	}
	if _, err := h.device.Adapter.Ioctl(ctx, driver.CmdDump, nil, 0); err != nil {
		h.report(EventLevelWarning, int(driver.CmdDump), -1, "device dump failed: "+err.Error())
	}
}

func (h *EventHandler) report(level, eventType, code int, message string) {
	if h.sink != nil {
		h.sink.OnRuntimeEvent(level, eventType, code, message)
	}
}
