package driver

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimAdapterIdentify(t *testing.T) {
	a := NewSimAdapter(1<<20, 4)
	info, err := a.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), info.MemSize)
	assert.Equal(t, 4, info.NumDMAChannels)
}

func TestSimAdapterReadWriteMem(t *testing.T) {
	a := NewSimAdapter(4096, 1)
	payload := []byte("hello-npu")

	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint64(buf[:8], 16)
	copy(buf[8:], payload)

	_, err := a.Ioctl(context.Background(), CmdWriteMem, buf, 0)
	require.NoError(t, err)

	readReq := make([]byte, 16)
	binary.LittleEndian.PutUint64(readReq[:8], 16)
	binary.LittleEndian.PutUint64(readReq[8:16], uint64(len(payload)))
	out, err := a.Ioctl(context.Background(), CmdReadMem, readReq, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestSimAdapterWriteReadRoundTrip(t *testing.T) {
	a := NewSimAdapter(4096, 1)
	req := []byte{1, 2, 3, 4}
	n, err := a.Write(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, len(req), n)

	out := make([]byte, 4)
	n, err = a.Read(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, req, out[:n])
}

func TestSimAdapterPollDeliversInjectedEvent(t *testing.T) {
	a := NewSimAdapter(4096, 1)
	a.InjectEvent(Event{Type: EventRecovery, Message: "rmap reload"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, err := a.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventRecovery, ev.Type)
}

func TestSimAdapterMmapRejectsOutOfRange(t *testing.T) {
	a := NewSimAdapter(1024, 1)
	_, err := a.Mmap(900, 200)
	assert.ErrorIs(t, err, ErrNotSupported)
}
