package driver

import (
	"context"
	"encoding/binary"
	"sync"
)

// SimAdapter is an in-process Adapter that answers IDENTIFY/NPU_RUN_REQ/
// EVENT synchronously from an in-memory device model, the way the teacher's
// queue.NewStubRunner/stubLoop let go-ublk run without a real kernel. It
// backs every test.
type SimAdapter struct {
	mu      sync.Mutex
	mem     []byte
	info    IdentifyInfo
	events  chan Event
	closed  bool
	pending []simRequest
}

type simRequest struct {
	reqID  uint64
	input  []byte
}

// NewSimAdapter builds a simulated adapter over a memSize-byte device
// memory window with the given DMA channel count.
func NewSimAdapter(memSize uint64, numDMAChannels int) *SimAdapter {
	return &SimAdapter{
		mem: make([]byte, memSize),
		info: IdentifyInfo{
			MemBase:         0,
			MemSize:         memSize,
			NumDMAChannels:  numDMAChannels,
			DriverVersion:   "sim-0.0.0",
			PCIeVersion:     "sim-0.0.0",
			FirmwareVersion: "sim-0.0.0",
		},
		events: make(chan Event, 64),
	}
}

func (s *SimAdapter) Identify(ctx context.Context) (*IdentifyInfo, error) {
	info := s.info
	return &info, nil
}

func (s *SimAdapter) Ioctl(ctx context.Context, cmd Command, data []byte, subCmd int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case CmdReadMem:
		off := binary.LittleEndian.Uint64(data[:8])
		size := binary.LittleEndian.Uint64(data[8:16])
		if off+size > uint64(len(s.mem)) {
			return nil, ErrNotSupported
		}
		out := make([]byte, size)
		copy(out, s.mem[off:off+size])
		return out, nil
	case CmdWriteMem:
		off := binary.LittleEndian.Uint64(data[:8])
		payload := data[8:]
		if off+uint64(len(payload)) > uint64(len(s.mem)) {
			return nil, ErrNotSupported
		}
		copy(s.mem[off:], payload)
		return nil, nil
	case CmdGetStatus:
		return []byte{0}, nil
	default:
		return nil, nil
	}
}

func (s *SimAdapter) Write(ctx context.Context, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, simRequest{input: append([]byte(nil), data...)})
	return len(data), nil
}

func (s *SimAdapter) Read(ctx context.Context, out []byte) (int, error) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	req := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	return copy(out, req.input), nil
}

func (s *SimAdapter) Poll(ctx context.Context) (*Event, error) {
	select {
	case ev := <-s.events:
		return &ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InjectEvent lets tests push a synthetic event through Poll, emulating
// firmware-driven EVENT notifications.
func (s *SimAdapter) InjectEvent(ev Event) {
	s.events <- ev
}

func (s *SimAdapter) Mmap(offset, size uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset+size > uint64(len(s.mem)) {
		return nil, ErrNotSupported
	}
	return s.mem[offset : offset+size], nil
}

func (s *SimAdapter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.events)
		s.closed = true
	}
	return nil
}

var _ Adapter = (*SimAdapter)(nil)
