package bufpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAllocatesCapacity(t *testing.T) {
	p := New(4096, 4)
	assert.Equal(t, 4, p.Capacity())
	assert.Equal(t, 4, p.Available())
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := New(1024, 2)

	buf, err := p.AcquireTimeout(time.Second)
	require.NoError(t, err)
	assert.Len(t, buf, 1024)
	assert.Equal(t, 1, p.Available())

	require.NoError(t, p.Release(buf))
	assert.Equal(t, 2, p.Available())
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := New(64, 1)

	first, err := p.AcquireTimeout(time.Second)
	require.NoError(t, err)

	done := make(chan []byte, 1)
	go func() {
		buf, err := p.AcquireTimeout(time.Second)
		require.NoError(t, err)
		done <- buf
	}()

	select {
	case <-done:
		t.Fatal("acquire should have blocked with an empty pool")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(first))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire should have unblocked after release")
	}
}

func TestAcquireTimesOutWithResourceExhausted(t *testing.T) {
	p := New(64, 1)
	_, err := p.AcquireTimeout(time.Second)
	require.NoError(t, err)

	_, err = p.AcquireTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestDoubleReleaseIsHardErrorWithoutCorruption(t *testing.T) {
	p := New(64, 2)

	buf, err := p.AcquireTimeout(time.Second)
	require.NoError(t, err)

	require.NoError(t, p.Release(buf))
	err = p.Release(buf)
	assert.ErrorIs(t, err, ErrDoubleRelease)

	// The free list must not have grown from the rejected double release.
	assert.Equal(t, 2, p.Available())
}

func TestReleaseForeignBlockIsRejected(t *testing.T) {
	p := New(64, 1)
	foreign := make([]byte, 64)
	err := p.Release(foreign)
	assert.ErrorIs(t, err, ErrForeignBlock)
}

func TestAvailablePlusInFlightEqualsCapacity(t *testing.T) {
	p := New(32, 8)
	var wg sync.WaitGroup
	held := make(chan []byte, 8)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf, err := p.AcquireTimeout(time.Second)
			require.NoError(t, err)
			held <- buf
		}()
	}
	wg.Wait()
	close(held)

	inFlight := 0
	for buf := range held {
		inFlight++
		defer p.Release(buf)
	}

	assert.Equal(t, p.Capacity(), p.Available()+inFlight)
}

func TestReleaseWakesExactlyOneWaiter(t *testing.T) {
	p := New(16, 1)
	buf, err := p.AcquireTimeout(time.Second)
	require.NoError(t, err)

	woken := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := p.AcquireTimeout(2 * time.Second)
			if err == nil {
				woken <- struct{}{}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Release(buf))

	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("expected exactly one waiter to wake")
	}

	select {
	case <-woken:
		t.Fatal("a second waiter should not have woken without another release")
	case <-time.After(50 * time.Millisecond):
	}
}
