package openzl

import (
	"unsafe"

	"github.com/develerltd/openzl-purego/internal/native"
)

// TypedBuffer receives one decompressed output (ZL_TypedBuffer). The engine
// allocates its content and decides its type; the accessors report what was
// found in the frame.
type TypedBuffer struct {
	lib    *Library
	handle native.Handle
	closed bool
}

// NewTypedBuffer creates an empty output buffer.
func (l *Library) NewTypedBuffer() (*TypedBuffer, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	h := l.engine.TypedBufferCreate()
	if h == 0 {
		return nil, allocationError("ZL_TypedBuffer_create returned null")
	}

	return &TypedBuffer{lib: l, handle: h}, nil
}

func (b *TypedBuffer) usableBy(l *Library) error {
	if b == nil || b.closed {
		return closedError("typed buffer")
	}
	if b.lib != l {
		return invalidArgument("typed buffer belongs to another library")
	}
	return l.check()
}

func (b *TypedBuffer) live() bool {
	return b != nil && !b.closed && b.lib.check() == nil
}

// Type returns the type of the decompressed output, 0 before decompression.
func (b *TypedBuffer) Type() Type {
	if !b.live() {
		return 0
	}
	return b.lib.engine.TypedBufferType(b.handle)
}

// EltWidth returns the element width in bytes.
func (b *TypedBuffer) EltWidth() int {
	if !b.live() {
		return 0
	}
	return int(b.lib.engine.TypedBufferEltWidth(b.handle))
}

// NumElts returns the number of elements (bytes for serial data, strings for
// string data).
func (b *TypedBuffer) NumElts() int {
	if !b.live() {
		return 0
	}
	return int(b.lib.engine.TypedBufferNumElts(b.handle))
}

// ByteSize returns the content size in bytes.
func (b *TypedBuffer) ByteSize() int {
	if !b.live() {
		return 0
	}
	return int(b.lib.engine.TypedBufferByteSize(b.handle))
}

// Bytes returns a read-only view of the content. The view is owned by the
// buffer and becomes invalid on Close.
func (b *TypedBuffer) Bytes() []byte {
	if !b.live() {
		return nil
	}

	size := b.lib.engine.TypedBufferByteSize(b.handle)
	p := b.lib.engine.TypedBufferRPtr(b.handle)
	if p == nil || size == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(p), size)
}

// StringLens returns a view of the string lengths when the buffer holds
// string data.
func (b *TypedBuffer) StringLens() ([]uint32, bool) {
	if b.Type() != TypeString {
		return nil, false
	}

	n := b.lib.engine.TypedBufferNumElts(b.handle)
	if n == 0 {
		return []uint32{}, true
	}
	p := b.lib.engine.TypedBufferRStringLens(b.handle)
	if p == nil {
		return nil, false
	}
	return unsafe.Slice((*uint32)(p), n), true
}

// AsNumeric returns a view of the content as []T. It reports false when the
// buffer is not numeric, its element width differs from T, or its memory is
// missing or misaligned for T.
func AsNumeric[T Numeric](b *TypedBuffer) ([]T, bool) {
	if b.Type() != TypeNumeric {
		return nil, false
	}

	var zero T
	width := unsafe.Sizeof(zero)
	if uint64(width) != b.lib.engine.TypedBufferEltWidth(b.handle) {
		return nil, false
	}

	p := b.lib.engine.TypedBufferRPtr(b.handle)
	if p == nil {
		return nil, false
	}
	if uintptr(p)%unsafe.Alignof(zero) != 0 {
		return nil, false
	}

	n := b.lib.engine.TypedBufferNumElts(b.handle)
	if n == 0 {
		return []T{}, true
	}
	return unsafe.Slice((*T)(p), n), true
}

// Close frees the native buffer. It is safe to call more than once.
func (b *TypedBuffer) Close() error {
	if b == nil || b.closed {
		return nil
	}
	b.closed = true
	if b.lib.check() == nil {
		b.lib.engine.TypedBufferFree(b.handle)
	}
	b.handle = 0

	return nil
}
