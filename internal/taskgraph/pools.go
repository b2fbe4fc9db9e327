package taskgraph

import "github.com/dxrt-go/dxrt/internal/bufpool"

// BufferPools is the per-task trio from spec §4.9: an encoded-input pool
// and encoded-output pool (NPU tasks only), and a user-output pool shared
// by every task. Each pool is sized deviceCount * bufferCount so every
// device this task is bound to can keep bufferCount requests in flight.
type BufferPools struct {
	EncodedInput  *bufpool.Pool // nil for CPU tasks
	UserOutput    *bufpool.Pool
	EncodedOutput *bufpool.Pool // nil for CPU tasks
}

// NewBufferPools builds the pool trio. encodedInputSize/encodedOutputSize
// are ignored (pools left nil) when isNPU is false, since CPU tasks never
// cross the host/device encoding boundary.
func NewBufferPools(deviceCount, bufferCount int, encodedInputSize, userOutputSize, encodedOutputSize int, isNPU bool) *BufferPools {
	count := deviceCount * bufferCount
	if count <= 0 {
		count = bufferCount
	}
	p := &BufferPools{
		UserOutput: bufpool.New(userOutputSize, count),
	}
	if isNPU {
		p.EncodedInput = bufpool.New(encodedInputSize, count)
		p.EncodedOutput = bufpool.New(encodedOutputSize, count)
	}
	return p
}

// AcquiredBuffers is the result of AcquireAll: one slot per non-nil pool
// in the trio, ready to hand to a Request.
type AcquiredBuffers struct {
	EncodedInput  []byte
	UserOutput    []byte
	EncodedOutput []byte
}

// AcquireAll grabs one slot from each configured pool in the fixed order
// encoded-input -> user-output -> encoded-output (spec §4.9). On any
// failure it releases everything already acquired before returning the
// error.
func (p *BufferPools) AcquireAll() (*AcquiredBuffers, error) {
	ab := &AcquiredBuffers{}

	if p.EncodedInput != nil {
		buf, err := p.EncodedInput.Acquire()
		if err != nil {
			return nil, err
		}
		ab.EncodedInput = buf
	}

	if p.UserOutput != nil {
		buf, err := p.UserOutput.Acquire()
		if err != nil {
			p.releasePartial(ab)
			return nil, err
		}
		ab.UserOutput = buf
	}

	if p.EncodedOutput != nil {
		buf, err := p.EncodedOutput.Acquire()
		if err != nil {
			p.releasePartial(ab)
			return nil, err
		}
		ab.EncodedOutput = buf
	}

	return ab, nil
}

// ReleaseAll releases in reverse acquisition order, tolerating nil slots
// from a partial acquire (spec §4.9).
func (p *BufferPools) ReleaseAll(ab *AcquiredBuffers) {
	if ab == nil {
		return
	}
	if p.EncodedOutput != nil && ab.EncodedOutput != nil {
		_ = p.EncodedOutput.Release(ab.EncodedOutput)
	}
	if p.UserOutput != nil && ab.UserOutput != nil {
		_ = p.UserOutput.Release(ab.UserOutput)
	}
	if p.EncodedInput != nil && ab.EncodedInput != nil {
		_ = p.EncodedInput.Release(ab.EncodedInput)
	}
}

func (p *BufferPools) releasePartial(ab *AcquiredBuffers) {
	p.ReleaseAll(ab)
}
