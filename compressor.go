package openzl

import (
	"go.uber.org/zap"

	"github.com/develerltd/openzl-purego/internal/native"
)

// CParam is a global compression parameter (ZL_CParam).
type CParam = native.CParam

// Compression parameters.
const (
	CParamStickyParameters      = native.CParamStickyParameters
	CParamCompressionLevel      = native.CParamCompressionLevel
	CParamDecompressionLevel    = native.CParamDecompressionLevel
	CParamFormatVersion         = native.CParamFormatVersion
	CParamPermissiveCompression = native.CParamPermissiveCompression
	CParamCompressedChecksum    = native.CParamCompressedChecksum
	CParamContentChecksum       = native.CParamContentChecksum
	CParamMinStreamSize         = native.CParamMinStreamSize
)

// Compressor holds a reusable graph definition (ZL_Compressor). It must be
// initialized with InitializeWithGraph before a CCtx can reference it.
type Compressor struct {
	lib         *Library
	handle      native.Handle
	borrowed    bool
	closed      bool
	initialized bool
	graph       GraphID
}

// NewCompressor creates an empty compressor.
func (l *Library) NewCompressor() (*Compressor, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	h := l.engine.CompressorCreate()
	if h == 0 {
		return nil, allocationError("ZL_Compressor_create returned null")
	}

	return &Compressor{lib: l, handle: h}, nil
}

func (c *Compressor) check() error {
	if c == nil || c.closed {
		return closedError("compressor")
	}
	return c.lib.check()
}

// SetParameter sets a global parameter on the compressor.
func (c *Compressor) SetParameter(p CParam, value int32) error {
	if err := c.check(); err != nil {
		return err
	}

	r := c.lib.engine.CompressorSetParameter(c.handle, p, value)
	if r.IsError() {
		return engineError(c.lib.engine, r, "")
	}
	return nil
}

// InitializeWithGraph registers the graph chosen by g as the starting graph.
// The engine calls back into g before this method returns; g sees a borrowed
// compressor with the library's format version already set.
func (c *Compressor) InitializeWithGraph(g GraphFn) (GraphID, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	if g == nil {
		return 0, invalidArgument("nil graph function")
	}

	var (
		selected GraphID
		setupErr error
	)
	formatVersion := c.lib.opts.FormatVersion

	r := c.lib.engine.CompressorInitUsingGraphFn(c.handle, func(h native.Handle) native.GraphID {
		borrowed := &Compressor{lib: c.lib, handle: h, borrowed: true}
		defer borrowed.Close()

		if err := borrowed.SetParameter(CParamFormatVersion, formatVersion); err != nil {
			setupErr = err
			return native.GraphIllegal
		}

		selected = g.BuildGraph(borrowed)
		return native.GraphID(selected)
	})
	if setupErr != nil {
		return 0, setupErr
	}
	if r.IsError() {
		return 0, engineError(c.lib.engine, r, "")
	}

	c.graph = selected
	c.initialized = true
	c.lib.log().Debug("compressor initialized", zap.Stringer("graph", selected))

	return selected, nil
}

// Graph returns the starting graph, valid once Initialized reports true.
func (c *Compressor) Graph() GraphID {
	return c.graph
}

// Initialized reports whether a starting graph has been registered.
func (c *Compressor) Initialized() bool {
	return c != nil && !c.closed && c.initialized
}

// Warnings returns a copy of the warnings left by the last operation.
func (c *Compressor) Warnings() []Warning {
	if c.check() != nil {
		return nil
	}
	return copyWarnings(c.lib.engine, c.lib.engine.CompressorGetWarnings(c.handle))
}

// Close frees the native compressor. It is safe to call more than once.
// Borrowed compressors are never freed.
func (c *Compressor) Close() error {
	if c == nil || c.closed {
		return nil
	}
	c.closed = true
	if !c.borrowed && c.lib.check() == nil {
		c.lib.engine.CompressorFree(c.handle)
	}
	c.handle = 0

	return nil
}
