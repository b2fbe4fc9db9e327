// Package model defines the contract a compiled model container must
// satisfy (spec §6), without specifying the on-disk `.dxnn` byte grammar —
// that parser is an explicit non-goal (spec §1). Production code plugs in
// a Parser; internal/model/fixture.go ships the only implementation this
// repo carries, a round-trippable in-memory/msgpack fixture builder used by
// tests and examples.
package model

import (
	"fmt"

	"github.com/dxrt-go/dxrt/internal/constants"
)

// Processor selects where a subgraph executes.
type Processor int

const (
	ProcessorNPU Processor = iota
	ProcessorCPU
)

// NPUModelType is the per-subgraph NPU model type (spec §3/§4.6).
type NPUModelType int

const (
	ModelTypeNormal NPUModelType = iota
	ModelTypeArgmax
	ModelTypePPU
	ModelTypePPCPU
)

// Layout mirrors codec.Layout without importing internal/codec, to keep
// the model package free of the runtime's execution-path dependencies.
type Layout int

const (
	LayoutRaw Layout = iota
	LayoutPreFormatter
	LayoutPreIm2col
	LayoutFormatted
	LayoutAligned
)

type TransposeKind int

const (
	TransposeNone TransposeKind = iota
	TransposeChannelFirstToLast
	TransposeChannelLastToFirst
)

// TensorSpec describes one declared input or output of a subgraph,
// including the encoded on-device layout metadata the codec consumes.
type TensorSpec struct {
	Name           string
	Shape          []int64
	DataType       int // mirrors dxrt.DataType's underlying values
	EncodedShape   []int64
	EncodedDType   int
	Layout         Layout
	AlignUnit      int
	Transpose      TransposeKind
	Scale          float64
	Bias           float64
	MemoryOffset   uint64
	MemorySize     uint64
}

// SubgraphInfo is one node of the model's task graph as described by the
// container.
type SubgraphInfo struct {
	Name        string
	Processor   Processor
	ModelType   NPUModelType // meaningful only when Processor == ProcessorNPU
	Inputs      []TensorSpec
	Outputs     []TensorSpec
	RegisterMap []byte // NPU only
	Weights     []byte // NPU only
	PPUBinary   []byte // optional, PPCPU subgraphs
}

// Container is the parsed form of a `.dxnn` model package.
type Container struct {
	Name            string
	Version         string
	CompilerVersion string
	FormatVersion   int
	Subgraphs       []SubgraphInfo
	OutputOrder     []string
}

// Parser is the pluggable collaborator that turns container bytes into a
// Container. Production code supplies its own; this repo ships only
// FixtureParser, for tests.
type Parser interface {
	Parse(data []byte) (*Container, error)
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	parser              Parser
	minCompilerVersion  string
}

// WithParser overrides the Parser used by Open; required, since this
// package ships no built-in byte-grammar implementation.
func WithParser(p Parser) Option {
	return func(o *openOptions) { o.parser = p }
}

// WithMinCompilerVersion records a minimum compiler version string. Open
// does not compare it against Container.CompilerVersion.
func WithMinCompilerVersion(v string) Option {
	return func(o *openOptions) { o.minCompilerVersion = v }
}

// Open parses model bytes via the configured Parser and validates the
// result against spec §6: supported format version range and, per
// SPEC_FULL.md §6, rejection of duplicate output tensor names.
func Open(data []byte, opts ...Option) (*Container, error) {
	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.parser == nil {
		return nil, fmt.Errorf("model: Open requires WithParser (no built-in .dxnn parser is shipped)")
	}

	c, err := o.parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("model: parse: %w", err)
	}

	if c.FormatVersion < constants.MinSupportedFormatVersion || c.FormatVersion > constants.MaxSupportedFormatVersion {
		return nil, fmt.Errorf("model: unsupported format version %d (supported range %d-%d)",
			c.FormatVersion, constants.MinSupportedFormatVersion, constants.MaxSupportedFormatVersion)
	}

	if err := validateNoDuplicateOutputs(c); err != nil {
		return nil, err
	}

	return c, nil
}

func validateNoDuplicateOutputs(c *Container) error {
	seen := make(map[string]string, len(c.OutputOrder))
	for _, sg := range c.Subgraphs {
		for _, out := range sg.Outputs {
			if owner, dup := seen[out.Name]; dup {
				return fmt.Errorf("model: duplicate output tensor %q declared by both %q and %q", out.Name, owner, sg.Name)
			}
			seen[out.Name] = sg.Name
		}
	}
	return nil
}
