package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidirectionalTransposeRoundTrip(t *testing.T) {
	row, col, elemSize := 3, 4, 4
	src := make([]byte, row*col*elemSize)
	for i := range src {
		src[i] = byte(i)
	}

	transposed := make([]byte, row*col*elemSize)
	require.NoError(t, BidirectionalTranspose(src, transposed, row, col, elemSize))

	back := make([]byte, row*col*elemSize)
	require.NoError(t, BidirectionalTranspose(transposed, back, col, row, elemSize))

	assert.Equal(t, src, back)
}

func TestEncodeDecodeFormattedRoundTrip(t *testing.T) {
	c := New()
	channel, elemSize, rows := 3, 4, 2

	src := make([]byte, rows*channel*elemSize)
	for i := range src {
		src[i] = byte(i + 1)
	}

	paddedChannel := ceilDiv(channel, formatUnit) * formatUnit
	encoded := make([]byte, rows*paddedChannel*elemSize)
	require.NoError(t, c.EncodeFormatted(src, encoded, channel, elemSize))

	decoded := make([]byte, rows*channel*elemSize)
	require.NoError(t, c.DecodeAligned(encoded, decoded, channel, elemSize))

	assert.Equal(t, src, decoded)
}

func TestEncodeNeverReadsPastSrc(t *testing.T) {
	c := New()
	src := []byte{1, 2, 3}
	dst := make([]byte, 8)
	require.NoError(t, c.EncodePreFormatter(src, dst))
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, dst)
}

func TestDecodeNeverWritesPastDst(t *testing.T) {
	c := New()
	channel, elemSize := 2, 4
	paddedChannel := ceilDiv(channel, formatUnit) * formatUnit
	src := make([]byte, paddedChannel*elemSize)
	dst := make([]byte, channel*elemSize)

	require.NoError(t, c.DecodeAligned(src, dst, channel, elemSize))
	assert.Len(t, dst, channel*elemSize)
}

func TestRawLayoutFallsThroughToMemcpy(t *testing.T) {
	c := New()
	src := []byte{9, 8, 7}
	dst := make([]byte, 3)
	require.NoError(t, c.Encode(LayoutRaw, src, dst, 0, 0, 0, TransposeNone))
	assert.Equal(t, src, dst)
}
