package device

import (
	"context"
	"fmt"
	"sync"
)

// DevicePool owns every device discovered at init and implements spec
// §4.8's load-balancing verbs: pick_one (non-blocking least-loaded pick)
// and wait_one (blocks until some candidate is not blocked). A device's
// in-flight count is not capped, so an unblocked device is always eligible.
type DevicePool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	devices map[int]*Device
}

// NewDevicePool takes ownership of devices, wiring each one's capacity-
// change callback to wake wait_one waiters.
func NewDevicePool(devices []*Device) *DevicePool {
	p := &DevicePool{devices: make(map[int]*Device, len(devices))}
	p.cond = sync.NewCond(&p.mu)
	for _, d := range devices {
		p.devices[d.ID] = d
		d.AttachPool(func(*Device) {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
	}
	return p
}

// PickOne selects the least-loaded non-blocked device among candidateIDs
// (or every known device if candidateIDs is empty) without blocking.
func (p *DevicePool) PickOne(candidateIDs []int) (*Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pickLocked(candidateIDs)
}

func (p *DevicePool) pickLocked(candidateIDs []int) (*Device, error) {
	candidates := p.candidatesLocked(candidateIDs)
	var best *Device
	for _, d := range candidates {
		if d.Blocked() {
			continue
		}
		if best == nil || d.InFlight() < best.InFlight() {
			best = d
		}
	}
	if best == nil {
		return nil, fmt.Errorf("device: no available device among %v", candidateIDs)
	}
	return best, nil
}

func (p *DevicePool) candidatesLocked(candidateIDs []int) []*Device {
	if len(candidateIDs) == 0 {
		out := make([]*Device, 0, len(p.devices))
		for _, d := range p.devices {
			out = append(out, d)
		}
		return out
	}
	out := make([]*Device, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if d, ok := p.devices[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// WaitOne blocks until some candidate device is unblocked (picking is
// still least-loaded among those that became available), or ctx is done.
func (p *DevicePool) WaitOne(ctx context.Context, candidateIDs []int) (*Device, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d, err := p.pickLocked(candidateIDs); err == nil {
			return d, nil
		}
		p.cond.Wait()
	}
}

// Device looks up a device by ID.
func (p *DevicePool) Device(id int) (*Device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.devices[id]
	return d, ok
}

// All returns every device this pool owns.
func (p *DevicePool) All() []*Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Device, 0, len(p.devices))
	for _, d := range p.devices {
		out = append(out, d)
	}
	return out
}
