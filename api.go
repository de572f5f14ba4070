package openzl

import (
	"runtime"
	"unsafe"

	"go.uber.org/zap"

	"github.com/develerltd/openzl-purego/internal/native"
)

// CompressBound returns the maximum frame size for srcSize bytes of serial
// input.
func CompressBound(srcSize int) int {
	return int(native.CompressBound(uint64(srcSize)))
}

// newCCtx returns a context carrying the library's format version and
// compression level.
func (l *Library) newCCtx() (*CCtx, error) {
	cctx, err := l.NewCCtx()
	if err != nil {
		return nil, err
	}

	if err := cctx.SetParameter(CParamFormatVersion, l.opts.FormatVersion); err != nil {
		cctx.Close()
		return nil, err
	}
	if l.opts.CompressionLevel > 0 {
		if err := cctx.SetParameter(CParamCompressionLevel, l.opts.CompressionLevel); err != nil {
			cctx.Close()
			return nil, err
		}
	}

	return cctx, nil
}

func (l *Library) logWarnings(op string, warnings []Warning) {
	if len(warnings) == 0 {
		return
	}
	l.log().Debug("openzl warnings",
		zap.String("op", op),
		zap.Stringers("warnings", warnings))
}

// CompressSerial compresses src as serial data with the engine's default
// graph.
func (l *Library) CompressSerial(src []byte) ([]byte, error) {
	cctx, err := l.newCCtx()
	if err != nil {
		return nil, err
	}
	defer cctx.Close()

	dst := make([]byte, CompressBound(len(src)))
	n, err := cctx.Compress(dst, src)
	if err != nil {
		return nil, err
	}
	l.logWarnings("compress_serial", cctx.Warnings())

	return dst[:n], nil
}

// DecompressSerial decompresses a single-output frame. The exact output size
// is read from the frame before the destination is allocated.
func (l *Library) DecompressSerial(src []byte) ([]byte, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	r := l.engine.GetDecompressedSize(bytesPtr(src), uint64(len(src)))
	if r.IsError() {
		runtime.KeepAlive(src)
		return nil, engineError(l.engine, r, "")
	}

	dst := make([]byte, r.Value)
	r = l.engine.Decompress(bytesPtr(dst), uint64(len(dst)), bytesPtr(src), uint64(len(src)))
	runtime.KeepAlive(src)
	runtime.KeepAlive(dst)
	if r.IsError() {
		return nil, engineError(l.engine, r, "")
	}

	return dst[:r.Value], nil
}

// graphOf resolves the id selected by g. Standard graphs resolve without a
// native round trip.
func (l *Library) graphOf(g GraphFn) (GraphID, error) {
	if s, ok := g.(StandardGraph); ok {
		return GraphID(s), nil
	}

	c, err := l.NewCompressor()
	if err != nil {
		return 0, err
	}
	defer c.Close()

	return c.InitializeWithGraph(g)
}

// CompressWithGraph compresses serial src with the graph selected by g in a
// single native call. Only standard graphs can be used this way; other ids
// fail with ErrUnsupportedGraph.
func (l *Library) CompressWithGraph(src []byte, g GraphFn) ([]byte, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, invalidArgument("nil graph function")
	}

	id, err := l.graphOf(g)
	if err != nil {
		return nil, err
	}
	sel, err := selectorFor(id, l.opts.FormatVersion)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, CompressBound(len(src)))
	r := l.engine.CompressUsingGraphFn(bytesPtr(dst), uint64(len(dst)), bytesPtr(src), uint64(len(src)), sel)
	runtime.KeepAlive(src)
	runtime.KeepAlive(dst)
	if r.IsError() {
		return nil, engineError(l.engine, r, "")
	}

	return dst[:r.Value], nil
}

// CompressTypedRef compresses one typed input with the zstd graph.
func (l *Library) CompressTypedRef(ref *TypedRef) ([]byte, error) {
	return l.CompressTypedRefWithGraph(ZstdGraph, ref)
}

// CompressMultiTypedRef compresses typed inputs into one frame with the zstd
// graph.
func (l *Library) CompressMultiTypedRef(refs ...*TypedRef) ([]byte, error) {
	return l.CompressTypedRefWithGraph(ZstdGraph, refs...)
}

// CompressTypedRefWithGraph compresses typed inputs into one frame using the
// graph selected by g.
func (l *Library) CompressTypedRefWithGraph(g GraphFn, refs ...*TypedRef) ([]byte, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, invalidArgument("no typed inputs")
	}

	// Destination is bounded per input, so frames with many small inputs
	// still fit.
	capacity := 0
	for _, ref := range refs {
		if err := ref.usableBy(l); err != nil {
			return nil, err
		}
		capacity += CompressBound(ref.ByteSize())
	}

	c, err := l.NewCompressor()
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if _, err := c.InitializeWithGraph(g); err != nil {
		return nil, err
	}

	cctx, err := l.newCCtx()
	if err != nil {
		return nil, err
	}
	defer cctx.Close()
	if err := cctx.RefCompressor(c); err != nil {
		return nil, err
	}

	dst := make([]byte, capacity)
	n, err := cctx.CompressMultiTypedRef(refs, dst)
	if err != nil {
		return nil, err
	}
	l.logWarnings("compress_typed", cctx.Warnings())

	return dst[:n], nil
}

// DecompressTypedBuffer decompresses a single-output frame into a new
// buffer. The caller closes the buffer.
func (l *Library) DecompressTypedBuffer(src []byte) (*TypedBuffer, error) {
	bufs, err := l.DecompressMultiTypedBuffer(src, 1)
	if err != nil {
		return nil, err
	}
	return bufs[0], nil
}

// DecompressMultiTypedBuffer decompresses a frame holding n outputs. The
// caller closes the buffers.
func (l *Library) DecompressMultiTypedBuffer(src []byte, n int) ([]*TypedBuffer, error) {
	if n <= 0 {
		return nil, invalidArgument("output count must be positive, got %d", n)
	}

	dctx, err := l.NewDCtx()
	if err != nil {
		return nil, err
	}
	defer dctx.Close()

	bufs := make([]*TypedBuffer, 0, n)
	closeAll := func() {
		for _, b := range bufs {
			b.Close()
		}
	}
	for i := 0; i < n; i++ {
		b, err := l.NewTypedBuffer()
		if err != nil {
			closeAll()
			return nil, err
		}
		bufs = append(bufs, b)
	}

	if n == 1 {
		_, err = dctx.DecompressTypedBuffer(src, bufs[0])
	} else {
		_, err = dctx.DecompressMultiTypedBuffer(src, bufs)
	}
	if err != nil {
		closeAll()
		return nil, err
	}
	l.logWarnings("decompress_typed", dctx.Warnings())

	return bufs, nil
}

// CompressNumericWith compresses values with the numeric graph.
func CompressNumericWith[T Numeric](l *Library, values []T) ([]byte, error) {
	ref, err := NumericRef(l, values)
	if err != nil {
		return nil, err
	}
	defer ref.Close()

	return l.CompressTypedRefWithGraph(NumericGraph, ref)
}

// DecompressNumericWith decompresses a frame produced from []T. It fails
// with ErrTypeMismatch when the frame holds anything else.
func DecompressNumericWith[T Numeric](l *Library, src []byte) ([]T, error) {
	buf, err := l.DecompressTypedBuffer(src)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	var zero T
	if typ := buf.Type(); typ != TypeNumeric {
		return nil, typeMismatch("frame holds %s data, expected numeric", typ)
	}
	if w := buf.EltWidth(); w != int(unsafe.Sizeof(zero)) {
		return nil, typeMismatch("frame holds %d-byte elements, expected %d", w, unsafe.Sizeof(zero))
	}
	if buf.NumElts() == 0 {
		return []T{}, nil
	}

	view, ok := AsNumeric[T](buf)
	if !ok {
		return nil, typeMismatch("numeric output is not addressable as %T", zero)
	}

	out := make([]T, len(view))
	copy(out, view)

	return out, nil
}

// CompressSerial compresses src using the default library.
func CompressSerial(src []byte) ([]byte, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return l.CompressSerial(src)
}

// DecompressSerial decompresses src using the default library.
func DecompressSerial(src []byte) ([]byte, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return l.DecompressSerial(src)
}

// CompressWithGraph compresses src with g using the default library.
func CompressWithGraph(src []byte, g GraphFn) ([]byte, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return l.CompressWithGraph(src, g)
}

// CompressTypedRef compresses ref with the library it was created from.
func CompressTypedRef(ref *TypedRef) ([]byte, error) {
	if ref == nil {
		return nil, invalidArgument("nil typed reference")
	}
	return ref.lib.CompressTypedRef(ref)
}

// CompressMultiTypedRef compresses refs with the library they were created
// from. All refs must come from the same library.
func CompressMultiTypedRef(refs ...*TypedRef) ([]byte, error) {
	if len(refs) == 0 || refs[0] == nil {
		return nil, invalidArgument("no typed inputs")
	}
	return refs[0].lib.CompressMultiTypedRef(refs...)
}

// DecompressTypedBuffer decompresses src using the default library.
func DecompressTypedBuffer(src []byte) (*TypedBuffer, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return l.DecompressTypedBuffer(src)
}

// CompressNumeric compresses values using the default library.
func CompressNumeric[T Numeric](values []T) ([]byte, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return CompressNumericWith(l, values)
}

// DecompressNumeric decompresses src using the default library.
func DecompressNumeric[T Numeric](src []byte) ([]T, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return DecompressNumericWith[T](l, src)
}
