package codec

import "fmt"

// BidirectionalTranspose performs an out-of-place transpose of a row-major
// (row x col) matrix of elements of elemSize bytes, writing the transposed
// (col x row) matrix into dst. It supports the element sizes the
// accelerator's tensor types actually use: 1, 2, 4, and 8 bytes.
func BidirectionalTranspose(src, dst []byte, row, col, elemSize int) error {
	need := row * col * elemSize
	if len(src) < need {
		return fmt.Errorf("codec: transpose src has %d bytes, need %d", len(src), need)
	}
	if len(dst) < need {
		return fmt.Errorf("codec: transpose dst has %d bytes, need %d", len(dst), need)
	}
	switch elemSize {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("codec: unsupported transpose element size %d", elemSize)
	}

	for r := 0; r < row; r++ {
		for c := 0; c < col; c++ {
			srcOff := (r*col + c) * elemSize
			dstOff := (c*row + r) * elemSize
			copy(dst[dstOff:dstOff+elemSize], src[srcOff:srcOff+elemSize])
		}
	}
	return nil
}
