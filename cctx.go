package openzl

import (
	"runtime"
	"unsafe"

	"github.com/develerltd/openzl-purego/internal/native"
)

// CCtx is a compression context (ZL_CCtx). A failed operation leaves the
// context usable.
type CCtx struct {
	lib        *Library
	handle     native.Handle
	closed     bool
	compressor *Compressor
}

// NewCCtx creates a compression context.
func (l *Library) NewCCtx() (*CCtx, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	h := l.engine.CCtxCreate()
	if h == 0 {
		return nil, allocationError("ZL_CCtx_create returned null")
	}

	return &CCtx{lib: l, handle: h}, nil
}

func (x *CCtx) check() error {
	if x == nil || x.closed {
		return closedError("compression context")
	}
	return x.lib.check()
}

// checkCompress additionally requires the referenced compressor to be open.
func (x *CCtx) checkCompress() error {
	if err := x.check(); err != nil {
		return err
	}
	if x.compressor != nil && x.compressor.closed {
		return closedError("referenced compressor")
	}
	return nil
}

func (x *CCtx) fail(r native.Report) error {
	return engineError(x.lib.engine, r, x.lib.engine.CCtxGetErrorContextString(x.handle, r))
}

// SetParameter sets a global parameter on the context. Context parameters
// take precedence over those of a referenced compressor.
func (x *CCtx) SetParameter(p CParam, value int32) error {
	if err := x.check(); err != nil {
		return err
	}

	if r := x.lib.engine.CCtxSetParameter(x.handle, p, value); r.IsError() {
		return x.fail(r)
	}
	return nil
}

// RefCompressor makes c the compressor used by the following operations,
// replacing any earlier reference. c must be initialized and must stay open
// while the context uses it.
func (x *CCtx) RefCompressor(c *Compressor) error {
	if err := x.check(); err != nil {
		return err
	}
	if c == nil {
		return invalidArgument("nil compressor")
	}
	if err := c.check(); err != nil {
		return err
	}
	if c.lib != x.lib {
		return invalidArgument("compressor belongs to another library")
	}
	if !c.initialized {
		return invalidArgument("compressor has no starting graph, call InitializeWithGraph first")
	}

	if r := x.lib.engine.CCtxRefCompressor(x.handle, c.handle); r.IsError() {
		return x.fail(r)
	}
	x.compressor = c

	return nil
}

// Compress compresses serial src into dst and returns the number of bytes
// written. dst should hold at least CompressBound(len(src)) bytes.
func (x *CCtx) Compress(dst, src []byte) (int, error) {
	if err := x.checkCompress(); err != nil {
		return 0, err
	}

	r := x.lib.engine.CCtxCompress(x.handle, bytesPtr(dst), uint64(len(dst)), bytesPtr(src), uint64(len(src)))
	runtime.KeepAlive(dst)
	runtime.KeepAlive(src)
	if r.IsError() {
		return 0, x.fail(r)
	}

	return int(r.Value), nil
}

// CompressTypedRef compresses one typed input into dst.
func (x *CCtx) CompressTypedRef(ref *TypedRef, dst []byte) (int, error) {
	if err := x.checkCompress(); err != nil {
		return 0, err
	}
	if err := ref.usableBy(x.lib); err != nil {
		return 0, err
	}

	r := x.lib.engine.CCtxCompressTypedRef(x.handle, bytesPtr(dst), uint64(len(dst)), ref.handle)
	runtime.KeepAlive(dst)
	runtime.KeepAlive(ref)
	if r.IsError() {
		return 0, x.fail(r)
	}

	return int(r.Value), nil
}

// CompressMultiTypedRef compresses several typed inputs into a single frame.
// Their order is the order of the outputs at decompression.
func (x *CCtx) CompressMultiTypedRef(refs []*TypedRef, dst []byte) (int, error) {
	if err := x.checkCompress(); err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, invalidArgument("no typed inputs")
	}

	handles := make([]native.Handle, len(refs))
	for i, ref := range refs {
		if err := ref.usableBy(x.lib); err != nil {
			return 0, err
		}
		handles[i] = ref.handle
	}

	r := x.lib.engine.CCtxCompressMultiTypedRef(x.handle, bytesPtr(dst), uint64(len(dst)), handles)
	runtime.KeepAlive(dst)
	runtime.KeepAlive(refs)
	if r.IsError() {
		return 0, x.fail(r)
	}

	return int(r.Value), nil
}

// Warnings returns a copy of the warnings left by the last operation.
func (x *CCtx) Warnings() []Warning {
	if x.check() != nil {
		return nil
	}
	return copyWarnings(x.lib.engine, x.lib.engine.CCtxGetWarnings(x.handle))
}

// Close frees the native context. It is safe to call more than once.
func (x *CCtx) Close() error {
	if x == nil || x.closed {
		return nil
	}
	x.closed = true
	if x.lib.check() == nil {
		x.lib.engine.CCtxFree(x.handle)
	}
	x.handle = 0
	x.compressor = nil

	return nil
}

// bytesPtr returns the address of the first element, or nil for an empty
// slice.
func bytesPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(b))
}
