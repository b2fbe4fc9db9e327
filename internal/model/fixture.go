package model

import "github.com/vmihailenco/msgpack/v5"

// wireContainer/wireTensorSpec/wireSubgraph mirror Container/TensorSpec/
// SubgraphInfo field-for-field; msgpack tags keep the wire form stable
// independent of exported Go field names.
type wireContainer struct {
	Name            string         `msgpack:"name,omitempty"`
	Version         string         `msgpack:"version,omitempty"`
	CompilerVersion string         `msgpack:"compiler_version"`
	FormatVersion   int            `msgpack:"format_version"`
	Subgraphs       []wireSubgraph `msgpack:"subgraphs"`
	OutputOrder     []string       `msgpack:"output_order"`
}

type wireSubgraph struct {
	Name        string           `msgpack:"name"`
	Processor   int              `msgpack:"processor"`
	ModelType   int              `msgpack:"model_type"`
	Inputs      []wireTensorSpec `msgpack:"inputs"`
	Outputs     []wireTensorSpec `msgpack:"outputs"`
	RegisterMap []byte           `msgpack:"register_map,omitempty"`
	Weights     []byte           `msgpack:"weights,omitempty"`
	PPUBinary   []byte           `msgpack:"ppu_binary,omitempty"`
}

type wireTensorSpec struct {
	Name         string  `msgpack:"name"`
	Shape        []int64 `msgpack:"shape"`
	DataType     int     `msgpack:"dtype"`
	EncodedShape []int64 `msgpack:"encoded_shape,omitempty"`
	EncodedDType int     `msgpack:"encoded_dtype,omitempty"`
	Layout       int     `msgpack:"layout"`
	AlignUnit    int     `msgpack:"align_unit,omitempty"`
	Transpose    int     `msgpack:"transpose,omitempty"`
	Scale        float64 `msgpack:"scale,omitempty"`
	Bias         float64 `msgpack:"bias,omitempty"`
	MemoryOffset uint64  `msgpack:"memory_offset,omitempty"`
	MemorySize   uint64  `msgpack:"memory_size,omitempty"`
}

// FixtureParser decodes the msgpack fixture format produced by
// EncodeFixture. It exists purely to exercise the Parser contract in
// tests and examples that have no access to a real compiler toolchain or
// `.dxnn` byte grammar.
type FixtureParser struct{}

func (FixtureParser) Parse(data []byte) (*Container, error) {
	var w wireContainer
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return fromWire(&w), nil
}

// EncodeFixture serializes a Container to the msgpack fixture format that
// FixtureParser reads back, for use in tests and examples.
func EncodeFixture(c *Container) ([]byte, error) {
	return msgpack.Marshal(toWire(c))
}

func toWire(c *Container) *wireContainer {
	w := &wireContainer{
		Name:            c.Name,
		Version:         c.Version,
		CompilerVersion: c.CompilerVersion,
		FormatVersion:   c.FormatVersion,
		OutputOrder:     c.OutputOrder,
	}
	for _, sg := range c.Subgraphs {
		w.Subgraphs = append(w.Subgraphs, wireSubgraph{
			Name:        sg.Name,
			Processor:   int(sg.Processor),
			ModelType:   int(sg.ModelType),
			Inputs:      toWireTensors(sg.Inputs),
			Outputs:     toWireTensors(sg.Outputs),
			RegisterMap: sg.RegisterMap,
			Weights:     sg.Weights,
			PPUBinary:   sg.PPUBinary,
		})
	}
	return w
}

func toWireTensors(ts []TensorSpec) []wireTensorSpec {
	out := make([]wireTensorSpec, 0, len(ts))
	for _, t := range ts {
		out = append(out, wireTensorSpec{
			Name:         t.Name,
			Shape:        t.Shape,
			DataType:     t.DataType,
			EncodedShape: t.EncodedShape,
			EncodedDType: t.EncodedDType,
			Layout:       int(t.Layout),
			AlignUnit:    t.AlignUnit,
			Transpose:    int(t.Transpose),
			Scale:        t.Scale,
			Bias:         t.Bias,
			MemoryOffset: t.MemoryOffset,
			MemorySize:   t.MemorySize,
		})
	}
	return out
}

func fromWire(w *wireContainer) *Container {
	c := &Container{
		Name:            w.Name,
		Version:         w.Version,
		CompilerVersion: w.CompilerVersion,
		FormatVersion:   w.FormatVersion,
		OutputOrder:     w.OutputOrder,
	}
	for _, sg := range w.Subgraphs {
		c.Subgraphs = append(c.Subgraphs, SubgraphInfo{
			Name:        sg.Name,
			Processor:   Processor(sg.Processor),
			ModelType:   NPUModelType(sg.ModelType),
			Inputs:      fromWireTensors(sg.Inputs),
			Outputs:     fromWireTensors(sg.Outputs),
			RegisterMap: sg.RegisterMap,
			Weights:     sg.Weights,
			PPUBinary:   sg.PPUBinary,
		})
	}
	return c
}

func fromWireTensors(ws []wireTensorSpec) []TensorSpec {
	out := make([]TensorSpec, 0, len(ws))
	for _, w := range ws {
		out = append(out, TensorSpec{
			Name:         w.Name,
			Shape:        w.Shape,
			DataType:     w.DataType,
			EncodedShape: w.EncodedShape,
			EncodedDType: w.EncodedDType,
			Layout:       Layout(w.Layout),
			AlignUnit:    w.AlignUnit,
			Transpose:    TransposeKind(w.Transpose),
			Scale:        w.Scale,
			Bias:         w.Bias,
			MemoryOffset: w.MemoryOffset,
			MemorySize:   w.MemorySize,
		})
	}
	return out
}

// BuildFixture assembles a single-subgraph NPU NORMAL-type container with
// one input and one output tensor, the common case exercised by the
// single-task end-to-end test scenario (spec §8 scenario 1).
func BuildFixture(name string, inputShape, outputShape []int64) *Container {
	return &Container{
		Name:            name,
		Version:         "1.0",
		CompilerVersion: "fixture-1.0",
		FormatVersion:   constantsDefaultFormatVersion,
		OutputOrder:     []string{name + ".out"},
		Subgraphs: []SubgraphInfo{
			{
				Name:      name,
				Processor: ProcessorNPU,
				ModelType: ModelTypeNormal,
				Inputs: []TensorSpec{
					{Name: name + ".in", Shape: inputShape, DataType: 0, Layout: LayoutRaw},
				},
				Outputs: []TensorSpec{
					{Name: name + ".out", Shape: outputShape, DataType: 0, Layout: LayoutRaw},
				},
			},
		},
	}
}

// constantsDefaultFormatVersion is a local literal (rather than an import
// of internal/constants) to keep the fixture valid even if the supported
// version window shifts; fixtures pin to a known-good historical version.
const constantsDefaultFormatVersion = 7
