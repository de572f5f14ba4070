package refengine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/develerltd/openzl-purego/internal/native"
)

// Frame layout:
//
//	magic "ZLRF" | version u8 | flags u8 | uvarint nbStreams
//	nbStreams x { uvarint type, graph, width, count, size, payloadSize }
//	payloads
//	[content checksum u32le] [frame checksum u32le]
//
// size is the content size in bytes; string streams additionally carry
// count little-endian u32 lengths ahead of the content in their payload.
var frameMagic = []byte("ZLRF")

const (
	flagContentChecksum byte = 1 << iota
	flagFrameChecksum

	frameHeaderSize = 6
	maxStreams      = 1 << 12
	maxStreamSize   = 1 << 31
)

type streamHeader struct {
	typ         native.Type
	graph       native.GraphID
	width       uint64
	count       uint64
	size        uint64
	payloadSize uint64
}

// decodedSize is the length of the serialized content the graph reproduces.
func (h streamHeader) decodedSize() uint64 {
	if h.typ == native.TypeString {
		return h.size + 4*h.count
	}
	return h.size
}

func (h streamHeader) validate() error {
	if h.size > maxStreamSize || h.count > maxStreamSize || h.decodedSize() > maxStreamSize {
		return fmt.Errorf("stream size %d exceeds limit", h.size)
	}
	if _, ok := graphs[h.graph]; !ok {
		return fmt.Errorf("unknown graph %d", uint32(h.graph))
	}

	switch h.typ {
	case native.TypeSerial:
		if h.width != 1 || h.count != h.size {
			return fmt.Errorf("serial stream with width %d and %d elements for %d bytes", h.width, h.count, h.size)
		}
	case native.TypeNumeric:
		if !validNumericWidth(h.width) || h.width*h.count != h.size {
			return fmt.Errorf("numeric stream with width %d and %d elements for %d bytes", h.width, h.count, h.size)
		}
	case native.TypeStruct:
		if h.width == 0 || h.width*h.count != h.size {
			return fmt.Errorf("struct stream with width %d and %d elements for %d bytes", h.width, h.count, h.size)
		}
	case native.TypeString:
		if h.width != 0 {
			return fmt.Errorf("string stream with width %d", h.width)
		}
	default:
		return fmt.Errorf("unknown stream type %d", uint32(h.typ))
	}

	return nil
}

type frame struct {
	version  int32
	flags    byte
	streams  []streamHeader
	payloads [][]byte
	content  uint32
}

func checksum(b []byte) uint32 {
	return uint32(xxhash.Sum64(b))
}

// contentChecksum hashes the serialized contents of every stream in order.
func contentChecksum(contents [][]byte) uint32 {
	d := xxhash.New()
	for _, c := range contents {
		_, _ = d.Write(c)
	}
	return uint32(d.Sum64())
}

func (f *frame) appendTo(dst []byte) []byte {
	start := len(dst)

	dst = append(dst, frameMagic...)
	dst = append(dst, byte(f.version), f.flags)
	dst = binary.AppendUvarint(dst, uint64(len(f.streams)))
	for _, h := range f.streams {
		dst = binary.AppendUvarint(dst, uint64(h.typ))
		dst = binary.AppendUvarint(dst, uint64(h.graph))
		dst = binary.AppendUvarint(dst, h.width)
		dst = binary.AppendUvarint(dst, h.count)
		dst = binary.AppendUvarint(dst, h.size)
		dst = binary.AppendUvarint(dst, h.payloadSize)
	}
	for _, p := range f.payloads {
		dst = append(dst, p...)
	}

	if f.flags&flagContentChecksum != 0 {
		dst = binary.LittleEndian.AppendUint32(dst, f.content)
	}
	if f.flags&flagFrameChecksum != 0 {
		dst = binary.LittleEndian.AppendUint32(dst, checksum(dst[start:]))
	}

	return dst
}

// parseFrame validates the frame structure and its frame checksum. Payloads
// alias src.
func parseFrame(src []byte) (*frame, *failure) {
	if len(src) < frameHeaderSize || !bytes.Equal(src[:len(frameMagic)], frameMagic) {
		return nil, fail(codeHeaderUnknown, "missing frame magic")
	}

	f := &frame{
		version: int32(src[4]),
		flags:   src[5],
	}
	if f.version < MinFormatVersion || f.version > MaxFormatVersion {
		return nil, fail(codeFormatVersionUnsupported, fmt.Sprintf("frame format version %d", f.version))
	}

	body := src
	if f.flags&flagFrameChecksum != 0 {
		if len(src) < frameHeaderSize+4 {
			return nil, fail(codeSrcSizeTooSmall, "frame checksum missing")
		}
		body = src[:len(src)-4]
		if checksum(body) != binary.LittleEndian.Uint32(src[len(src)-4:]) {
			return nil, fail(codeCompressedChecksumWrong, "frame checksum does not match")
		}
	}
	if f.flags&flagContentChecksum != 0 {
		if len(body) < frameHeaderSize+4 {
			return nil, fail(codeSrcSizeTooSmall, "content checksum missing")
		}
		f.content = binary.LittleEndian.Uint32(body[len(body)-4:])
		body = body[:len(body)-4]
	}

	r := reader{buf: body[frameHeaderSize:]}
	n := r.uvarint()
	if r.err == nil && n > maxStreams {
		return nil, fail(codeCorruption, fmt.Sprintf("frame declares %d streams", n))
	}

	var total uint64
	for i := uint64(0); i < n && r.err == nil; i++ {
		h := streamHeader{
			typ:         native.Type(r.uvarint()),
			graph:       native.GraphID(r.uvarint()),
			width:       r.uvarint(),
			count:       r.uvarint(),
			size:        r.uvarint(),
			payloadSize: r.uvarint(),
		}
		if r.err != nil {
			break
		}
		if err := h.validate(); err != nil {
			return nil, fail(codeCorruption, fmt.Sprintf("stream %d: %v", i, err))
		}
		total += h.payloadSize
		f.streams = append(f.streams, h)
	}
	if r.err != nil {
		return nil, fail(codeCorruption, r.err.Error())
	}
	if total != uint64(len(r.buf)) {
		return nil, fail(codeCorruption, fmt.Sprintf("payloads span %d bytes, frame holds %d", total, len(r.buf)))
	}

	for _, h := range f.streams {
		f.payloads = append(f.payloads, r.buf[:h.payloadSize])
		r.buf = r.buf[h.payloadSize:]
	}

	return f, nil
}

var errTruncatedHeader = errors.New("truncated frame header")

type reader struct {
	buf []byte
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}

	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errTruncatedHeader
		return 0
	}
	r.buf = r.buf[n:]

	return v
}

func validNumericWidth(w uint64) bool {
	return w == 1 || w == 2 || w == 4 || w == 8
}
