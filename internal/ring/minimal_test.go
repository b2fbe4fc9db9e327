package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinimalRingSubmitRunsExecutorSynchronously(t *testing.T) {
	var got []byte
	r := NewMinimalRing(Config{Entries: 4}, func(opcode uint32, payload []byte, userData uint64) (int32, error) {
		got = payload
		return int32(opcode), nil
	})

	res, err := r.Submit(7, []byte("payload"), 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.UserData())
	assert.Equal(t, int32(7), res.Value())
	assert.Equal(t, []byte("payload"), got)
}

func TestMinimalRingPrepareSubmitRespectsCapacity(t *testing.T) {
	r := NewMinimalRing(Config{Entries: 1}, func(uint32, []byte, uint64) (int32, error) { return 0, nil })

	require.NoError(t, r.PrepareSubmit(1, nil, 1))
	err := r.PrepareSubmit(1, nil, 2)
	assert.ErrorIs(t, err, ErrRingFull)
}

func TestMinimalRingFlushThenWaitDrainsCompletions(t *testing.T) {
	r := NewMinimalRing(Config{Entries: 4}, func(opcode uint32, payload []byte, userData uint64) (int32, error) {
		return int32(userData), nil
	})

	require.NoError(t, r.PrepareSubmit(1, nil, 10))
	require.NoError(t, r.PrepareSubmit(1, nil, 11))

	n, err := r.FlushSubmissions()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	results, err := r.WaitForCompletion(0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int32(10), results[0].Value())
	assert.Equal(t, int32(11), results[1].Value())

	// A second wait with nothing flushed drains empty.
	results, err = r.WaitForCompletion(0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMinimalRingPropagatesExecutorError(t *testing.T) {
	boom := assert.AnError
	r := NewMinimalRing(Config{Entries: 1}, func(uint32, []byte, uint64) (int32, error) { return -1, boom })

	res, err := r.Submit(1, nil, 1)
	require.NoError(t, err) // Submit itself succeeds; the op's failure rides in Result
	assert.ErrorIs(t, res.Error(), boom)
}
