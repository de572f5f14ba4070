package openzl

import (
	"runtime"

	"github.com/develerltd/openzl-purego/internal/native"
)

// DCtx is a decompression context (ZL_DCtx).
type DCtx struct {
	lib    *Library
	handle native.Handle
	closed bool
}

// NewDCtx creates a decompression context.
func (l *Library) NewDCtx() (*DCtx, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	h := l.engine.DCtxCreate()
	if h == 0 {
		return nil, allocationError("ZL_DCtx_create returned null")
	}

	return &DCtx{lib: l, handle: h}, nil
}

func (d *DCtx) check() error {
	if d == nil || d.closed {
		return closedError("decompression context")
	}
	return d.lib.check()
}

func (d *DCtx) fail(r native.Report) error {
	return engineError(d.lib.engine, r, d.lib.engine.DCtxGetErrorContextString(d.handle, r))
}

// DecompressTypedBuffer decompresses a single-output frame into out and
// returns the number of content bytes written. The engine sizes out itself.
func (d *DCtx) DecompressTypedBuffer(src []byte, out *TypedBuffer) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if err := out.usableBy(d.lib); err != nil {
		return 0, err
	}

	r := d.lib.engine.DCtxDecompressTBuffer(d.handle, out.handle, bytesPtr(src), uint64(len(src)))
	runtime.KeepAlive(src)
	if r.IsError() {
		return 0, d.fail(r)
	}

	return int(r.Value), nil
}

// DecompressMultiTypedBuffer decompresses a frame into one buffer per output,
// in frame order. len(outs) must match the number of outputs in the frame.
func (d *DCtx) DecompressMultiTypedBuffer(src []byte, outs []*TypedBuffer) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if len(outs) == 0 {
		return 0, invalidArgument("no output buffers")
	}

	handles := make([]native.Handle, len(outs))
	for i, out := range outs {
		if err := out.usableBy(d.lib); err != nil {
			return 0, err
		}
		handles[i] = out.handle
	}

	r := d.lib.engine.DCtxDecompressMultiTBuffer(d.handle, handles, bytesPtr(src), uint64(len(src)))
	runtime.KeepAlive(src)
	if r.IsError() {
		return 0, d.fail(r)
	}

	return int(r.Value), nil
}

// Warnings returns a copy of the warnings left by the last operation.
func (d *DCtx) Warnings() []Warning {
	if d.check() != nil {
		return nil
	}
	return copyWarnings(d.lib.engine, d.lib.engine.DCtxGetWarnings(d.handle))
}

// Close frees the native context. It is safe to call more than once.
func (d *DCtx) Close() error {
	if d == nil || d.closed {
		return nil
	}
	d.closed = true
	if d.lib.check() == nil {
		d.lib.engine.DCtxFree(d.handle)
	}
	d.handle = 0

	return nil
}
