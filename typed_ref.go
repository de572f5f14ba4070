package openzl

import (
	"runtime"
	"unsafe"

	"go.uber.org/zap"

	"github.com/develerltd/openzl-purego/internal/native"
)

// Type is the engine's classification of typed data (ZL_Type).
type Type = native.Type

// Data types.
const (
	TypeSerial  = native.TypeSerial
	TypeStruct  = native.TypeStruct
	TypeNumeric = native.TypeNumeric
	TypeString  = native.TypeString
)

// Numeric lists the element types the engine understands as numeric data.
type Numeric interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// TypedRef is a read-only reference to caller memory described as typed
// input (ZL_TypedRef). The referenced memory is pinned until Close and must
// not be modified in the meantime. A reference that is dropped without Close
// is released once it becomes unreachable.
type TypedRef struct {
	lib     *Library
	handle  native.Handle
	typ     Type
	size    int
	pins    *pinned
	cleanup runtime.Cleanup
	closed  bool
}

// pinned holds the referenced memory. It is allocated apart from the
// TypedRef so the cleanup can unpin it after the TypedRef is gone.
type pinned struct {
	pinner runtime.Pinner
	ptrs   []unsafe.Pointer
}

func (p *pinned) release() {
	p.pinner.Unpin()
	p.ptrs = nil
}

// refRelease is what the cleanup of a dropped TypedRef needs to free it.
type refRelease struct {
	lib    *Library
	handle native.Handle
	pins   *pinned
}

func releaseDropped(rr refRelease) {
	if rr.lib.check() == nil {
		rr.lib.engine.TypedRefFree(rr.handle)
	}
	rr.pins.release()
	rr.lib.log().Warn("typed reference was not closed", zap.Uintptr("handle", uintptr(rr.handle)))
}

func newTypedRef(l *Library, typ Type, size int, ptrs ...unsafe.Pointer) *TypedRef {
	pins := &pinned{}
	for _, p := range ptrs {
		if p != nil {
			pins.pinner.Pin(p)
			pins.ptrs = append(pins.ptrs, p)
		}
	}
	return &TypedRef{lib: l, typ: typ, size: size, pins: pins}
}

func (r *TypedRef) bind(h native.Handle, what string) (*TypedRef, error) {
	if h == 0 {
		r.pins.release()
		return nil, allocationError(what + " returned null")
	}
	r.handle = h
	r.cleanup = runtime.AddCleanup(r, releaseDropped, refRelease{lib: r.lib, handle: h, pins: r.pins})
	return r, nil
}

// SerialRef references data as an opaque byte stream.
func (l *Library) SerialRef(data []byte) (*TypedRef, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	p := bytesPtr(data)
	ref := newTypedRef(l, TypeSerial, len(data), p)
	return ref.bind(l.engine.TypedRefCreateSerial(p, uint64(len(data))), "ZL_TypedRef_createSerial")
}

// NumericBytesRef references data as little-endian numbers of width bytes.
func (l *Library) NumericBytesRef(data []byte, width int) (*TypedRef, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	if width != 1 && width != 2 && width != 4 && width != 8 {
		return nil, invalidArgument("numeric width must be 1, 2, 4 or 8, got %d", width)
	}
	if len(data)%width != 0 {
		return nil, invalidArgument("%d bytes is not a multiple of numeric width %d", len(data), width)
	}

	p := bytesPtr(data)
	ref := newTypedRef(l, TypeNumeric, len(data), p)
	count := uint64(len(data) / width)
	return ref.bind(l.engine.TypedRefCreateNumeric(p, uint64(width), count), "ZL_TypedRef_createNumeric")
}

// NumericRef references values as numeric data.
func NumericRef[T Numeric](l *Library, values []T) (*TypedRef, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	var zero T
	width := uint64(unsafe.Sizeof(zero))

	var p unsafe.Pointer
	if len(values) > 0 {
		p = unsafe.Pointer(unsafe.SliceData(values))
	}
	ref := newTypedRef(l, TypeNumeric, len(values)*int(width), p)
	return ref.bind(l.engine.TypedRefCreateNumeric(p, width, uint64(len(values))), "ZL_TypedRef_createNumeric")
}

// StructRef references count fixed-size records of width bytes each.
func (l *Library) StructRef(data []byte, width, count int) (*TypedRef, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	if width <= 0 || count <= 0 {
		return nil, invalidArgument("struct width and count must be positive, got width %d and count %d", width, count)
	}
	if len(data) != width*count {
		return nil, invalidArgument("struct data holds %d bytes, expected %d (width %d x count %d)",
			len(data), width*count, width, count)
	}

	p := bytesPtr(data)
	ref := newTypedRef(l, TypeStruct, len(data), p)
	return ref.bind(l.engine.TypedRefCreateStruct(p, uint64(width), uint64(count)), "ZL_TypedRef_createStruct")
}

// StringRef references len(lens) strings laid out back to back in flat.
// The lengths are passed through as is; the engine validates them.
func (l *Library) StringRef(flat []byte, lens []uint32) (*TypedRef, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	fp := bytesPtr(flat)
	var lp unsafe.Pointer
	if len(lens) > 0 {
		lp = unsafe.Pointer(unsafe.SliceData(lens))
	}

	ref := newTypedRef(l, TypeString, len(flat)+4*len(lens), fp, lp)
	h := l.engine.TypedRefCreateString(fp, uint64(len(flat)), lp, uint64(len(lens)))
	return ref.bind(h, "ZL_TypedRef_createString")
}

// Type returns the data type the reference was created with.
func (r *TypedRef) Type() Type {
	return r.typ
}

// ByteSize returns the number of referenced bytes, string lengths included.
func (r *TypedRef) ByteSize() int {
	return r.size
}

func (r *TypedRef) usableBy(l *Library) error {
	if r == nil || r.closed {
		return closedError("typed reference")
	}
	if r.lib != l {
		return invalidArgument("typed reference belongs to another library")
	}
	return nil
}

// Close frees the native reference and unpins the referenced memory. It is
// safe to call more than once.
func (r *TypedRef) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	r.cleanup.Stop()
	if r.lib.check() == nil {
		r.lib.engine.TypedRefFree(r.handle)
	}
	r.handle = 0
	r.pins.release()

	return nil
}
