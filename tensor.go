package dxrt

import "fmt"

// DataType identifies the element type of a Tensor, drawn from the closed
// set the accelerator and its post-processing units can produce.
type DataType int

const (
	DataTypeFloat32 DataType = iota
	DataTypeInt8
	DataTypeInt16
	DataTypeInt32
	DataTypeInt64
	DataTypeUint8
	DataTypeUint16
	DataTypeUint32
	DataTypeUint64
	// Structured post-processor outputs (PPU/PPCPU results).
	DataTypeBBox
	DataTypeFace
	DataTypePose
)

// Fixed record sizes for the structured post-processor output types.
const (
	bboxRecordSize = 32
	faceRecordSize = 64
	poseRecordSize = 256
)

// ElementSize returns the size in bytes of one element of the given type.
// Structured types return the size of their fixed-layout record.
func (d DataType) ElementSize() int {
	switch d {
	case DataTypeInt8, DataTypeUint8:
		return 1
	case DataTypeInt16, DataTypeUint16:
		return 2
	case DataTypeFloat32, DataTypeInt32, DataTypeUint32:
		return 4
	case DataTypeInt64, DataTypeUint64:
		return 8
	case DataTypeBBox:
		return bboxRecordSize
	case DataTypeFace:
		return faceRecordSize
	case DataTypePose:
		return poseRecordSize
	default:
		return 0
	}
}

func (d DataType) String() string {
	switch d {
	case DataTypeFloat32:
		return "float32"
	case DataTypeInt8:
		return "int8"
	case DataTypeInt16:
		return "int16"
	case DataTypeInt32:
		return "int32"
	case DataTypeInt64:
		return "int64"
	case DataTypeUint8:
		return "uint8"
	case DataTypeUint16:
		return "uint16"
	case DataTypeUint32:
		return "uint32"
	case DataTypeUint64:
		return "uint64"
	case DataTypeBBox:
		return "bbox"
	case DataTypeFace:
		return "face"
	case DataTypePose:
		return "pose"
	default:
		return "unknown"
	}
}

// MemoryKind records where a Tensor's backing bytes physically live.
type MemoryKind int

const (
	// MemoryHost is a plain host-heap or pool-allocated buffer.
	MemoryHost MemoryKind = iota
	// MemoryUserBuffer marks a tensor whose Data aliases a caller-provided
	// output buffer at a model-global offset (§3's "user-buffer-mapped").
	MemoryUserBuffer
	// MemoryDevice marks a tensor backed by a device-memory mapped window.
	MemoryDevice
)

// Tensor is a named, typed, shaped view over a byte buffer. It never owns
// the memory it describes: Data aliases either a bufpool block, a
// device-memory mapped region, or a caller-supplied slice, depending on
// where it sits in the pipeline.
type Tensor struct {
	Name       string
	Shape      []int64
	DataType   DataType
	Data       []byte
	MemoryKind MemoryKind
	// PhysAddr is the device-physical address backing Data when MemoryKind
	// is MemoryDevice; zero otherwise.
	PhysAddr uint64
}

// NumElements returns the product of the shape dimensions.
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// ByteSize returns the number of bytes the tensor's shape+type implies,
// which may differ from len(t.Data) if the tensor is a view into a larger
// aligned buffer.
func (t *Tensor) ByteSize() int64 {
	return t.NumElements() * int64(t.DataType.ElementSize())
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s, shape=%v, dtype=%s, %d bytes)", t.Name, t.Shape, t.DataType, len(t.Data))
}

// Validate checks the tensor's internal consistency: its Data slice must be
// at least as large as its declared shape implies.
func (t *Tensor) Validate() error {
	if t.DataType.ElementSize() == 0 {
		return NewError("Tensor.Validate", ErrInvalidArgument, fmt.Sprintf("unknown data type %d for tensor %q", t.DataType, t.Name))
	}
	want := t.ByteSize()
	if int64(len(t.Data)) < want {
		return NewError("Tensor.Validate", ErrInvalidArgument,
			fmt.Sprintf("tensor %q: data has %d bytes, shape requires %d", t.Name, len(t.Data), want))
	}
	return nil
}
