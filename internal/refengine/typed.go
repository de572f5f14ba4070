package refengine

import (
	"encoding/binary"
	"unsafe"

	"github.com/develerltd/openzl-purego/internal/native"
)

// stream is one typed input: a borrowed view of caller memory.
type stream struct {
	typ   native.Type
	width uint64
	count uint64
	data  []byte
	lens  []uint32
}

// serialized returns the bytes a graph compresses: string lengths as
// little-endian u32 followed by the flat content for strings, the content
// itself otherwise.
func (s *stream) serialized() []byte {
	if s.typ != native.TypeString {
		return s.data
	}

	out := make([]byte, 0, 4*len(s.lens)+len(s.data))
	for _, l := range s.lens {
		out = binary.LittleEndian.AppendUint32(out, l)
	}
	return append(out, s.data...)
}

func codecWidth(typ native.Type, width uint64) int {
	if typ == native.TypeNumeric || typ == native.TypeStruct {
		return int(width)
	}
	return 1
}

func (e *Engine) TypedRefCreateSerial(src unsafe.Pointer, srcSize uint64) native.Handle {
	return e.register(&stream{
		typ:   native.TypeSerial,
		width: 1,
		count: srcSize,
		data:  bytesAt(src, srcSize),
	})
}

func (e *Engine) TypedRefCreateNumeric(src unsafe.Pointer, width, count uint64) native.Handle {
	if !validNumericWidth(width) {
		return 0
	}
	return e.register(&stream{
		typ:   native.TypeNumeric,
		width: width,
		count: count,
		data:  bytesAt(src, width*count),
	})
}

func (e *Engine) TypedRefCreateStruct(src unsafe.Pointer, width, count uint64) native.Handle {
	if width == 0 {
		return 0
	}
	return e.register(&stream{
		typ:   native.TypeStruct,
		width: width,
		count: count,
		data:  bytesAt(src, width*count),
	})
}

func (e *Engine) TypedRefCreateString(flat unsafe.Pointer, flatSize uint64, lens unsafe.Pointer, nbStrings uint64) native.Handle {
	s := &stream{
		typ:   native.TypeString,
		count: nbStrings,
		data:  bytesAt(flat, flatSize),
	}
	if lens != nil && nbStrings > 0 {
		s.lens = unsafe.Slice((*uint32)(lens), nbStrings)
	}
	return e.register(s)
}

func (e *Engine) TypedRefFree(ref native.Handle) {
	if _, ok := lookup[*stream](e, ref); ok {
		e.release(ref)
	}
}

// typedBuffer is engine-owned decompression output. Content is stored in
// 8-byte words so that the read pointer suits any numeric width.
type typedBuffer struct {
	filled bool
	typ    native.Type
	width  uint64
	count  uint64
	size   uint64
	words  []uint64
	lens   []uint32
}

func (b *typedBuffer) fill(h streamHeader, content []byte, lens []uint32) {
	n := max((len(content)+7)/8, 1)
	b.words = make([]uint64, n)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&b.words[0])), n*8), content)

	b.filled = true
	b.typ = h.typ
	b.width = h.width
	b.count = h.count
	b.size = h.size
	b.lens = lens
}

func (e *Engine) TypedBufferCreate() native.Handle {
	return e.register(&typedBuffer{})
}

func (e *Engine) TypedBufferFree(buf native.Handle) {
	if _, ok := lookup[*typedBuffer](e, buf); ok {
		e.release(buf)
	}
}

func (e *Engine) TypedBufferType(buf native.Handle) native.Type {
	b, ok := lookup[*typedBuffer](e, buf)
	if !ok || !b.filled {
		return 0
	}
	return b.typ
}

func (e *Engine) TypedBufferByteSize(buf native.Handle) uint64 {
	if b, ok := lookup[*typedBuffer](e, buf); ok {
		return b.size
	}
	return 0
}

func (e *Engine) TypedBufferNumElts(buf native.Handle) uint64 {
	if b, ok := lookup[*typedBuffer](e, buf); ok {
		return b.count
	}
	return 0
}

func (e *Engine) TypedBufferEltWidth(buf native.Handle) uint64 {
	if b, ok := lookup[*typedBuffer](e, buf); ok {
		return b.width
	}
	return 0
}

func (e *Engine) TypedBufferRPtr(buf native.Handle) unsafe.Pointer {
	b, ok := lookup[*typedBuffer](e, buf)
	if !ok || !b.filled {
		return nil
	}
	return unsafe.Pointer(&b.words[0])
}

func (e *Engine) TypedBufferRStringLens(buf native.Handle) unsafe.Pointer {
	b, ok := lookup[*typedBuffer](e, buf)
	if !ok || b.typ != native.TypeString || len(b.lens) == 0 {
		return nil
	}
	return unsafe.Pointer(&b.lens[0])
}
