package openzl

import (
	"fmt"
	"strings"

	"github.com/develerltd/openzl-purego/internal/native"
)

// GraphID identifies a compression graph inside the engine. Two ids are
// equal when their numeric values are equal.
type GraphID uint32

// Standard graphs.
const (
	GraphStore    = GraphID(native.GraphStore)
	GraphZstd     = GraphID(native.GraphZstd)
	GraphNumeric  = GraphID(native.GraphSelectNumeric)
	GraphFieldLZ  = GraphID(native.GraphFieldLZ)
	GraphFSE      = GraphID(native.GraphFSE)
	GraphHuffman  = GraphID(native.GraphHuffman)
	GraphEntropy  = GraphID(native.GraphEntropy)
	GraphBitpack  = GraphID(native.GraphBitpack)
	GraphConstant = GraphID(native.GraphConstant)
)

var graphNames = map[GraphID]string{
	GraphStore:    "store",
	GraphZstd:     "zstd",
	GraphNumeric:  "numeric",
	GraphFieldLZ:  "field_lz",
	GraphFSE:      "fse",
	GraphHuffman:  "huffman",
	GraphEntropy:  "entropy",
	GraphBitpack:  "bitpack",
	GraphConstant: "constant",
}

// Raw returns the numeric id passed to the engine.
func (g GraphID) Raw() uint32 {
	return uint32(g)
}

// IsValid asks the engine whether g names a graph it knows.
func (g GraphID) IsValid(l *Library) bool {
	if l.check() != nil {
		return false
	}
	return l.engine.GraphIDIsValid(native.GraphID(g))
}

// IsStandard reports whether g is one of the standard graphs.
func (g GraphID) IsStandard() bool {
	_, ok := graphNames[g]
	return ok
}

func (g GraphID) String() string {
	if name, ok := graphNames[g]; ok {
		return name
	}
	return fmt.Sprintf("graph(%d)", uint32(g))
}

// GraphFn selects the starting graph of a Compressor. BuildGraph runs
// synchronously inside Compressor.InitializeWithGraph with a borrowed view of
// the compressor being initialized; the format version is already set on it.
// Implementations must not keep the compressor.
type GraphFn interface {
	BuildGraph(c *Compressor) GraphID
}

// StandardGraph is a GraphFn that always selects the same standard graph.
type StandardGraph GraphID

// BuildGraph implements GraphFn.
func (s StandardGraph) BuildGraph(*Compressor) GraphID {
	return GraphID(s)
}

func (s StandardGraph) String() string {
	return GraphID(s).String()
}

// Graph functions for the standard graphs.
var (
	StoreGraph    = StandardGraph(GraphStore)
	ZstdGraph     = StandardGraph(GraphZstd)
	NumericGraph  = StandardGraph(GraphNumeric)
	FieldLZGraph  = StandardGraph(GraphFieldLZ)
	FSEGraph      = StandardGraph(GraphFSE)
	HuffmanGraph  = StandardGraph(GraphHuffman)
	EntropyGraph  = StandardGraph(GraphEntropy)
	BitpackGraph  = StandardGraph(GraphBitpack)
	ConstantGraph = StandardGraph(GraphConstant)
)

// StandardGraphs returns every standard graph.
func StandardGraphs() []StandardGraph {
	return []StandardGraph{
		StoreGraph, ZstdGraph, NumericGraph, FieldLZGraph, FSEGraph,
		HuffmanGraph, EntropyGraph, BitpackGraph, ConstantGraph,
	}
}

// GraphByName returns the standard graph called name, case-insensitively.
func GraphByName(name string) (StandardGraph, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for id, n := range graphNames {
		if n == name {
			return StandardGraph(id), nil
		}
	}
	return 0, invalidArgument("unknown graph %q", name)
}

// GraphFunc adapts a function to GraphFn.
type GraphFunc func(c *Compressor) GraphID

// BuildGraph implements GraphFn.
func (f GraphFunc) BuildGraph(c *Compressor) GraphID {
	return f(c)
}

// selectorFor returns the one-shot selector for g. Only standard graphs have
// one.
func selectorFor(g GraphID, formatVersion int32) (native.Selector, error) {
	if !g.IsStandard() {
		return native.Selector{}, &Error{
			Kind:    KindUnsupportedGraph,
			Code:    CodeInvalidArgument,
			Name:    "unsupported graph",
			Context: fmt.Sprintf(": %s has no one-shot selector", g),
		}
	}

	return native.Selector{Graph: native.GraphID(g), FormatVersion: formatVersion}, nil
}
