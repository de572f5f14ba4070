package refengine

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/develerltd/openzl-purego/internal/native"
)

type dctx struct {
	warnings warnings
	last     lastError
}

func (e *Engine) DCtxCreate() native.Handle {
	return e.register(&dctx{})
}

func (e *Engine) DCtxFree(h native.Handle) {
	if _, ok := lookup[*dctx](e, h); ok {
		e.release(h)
	}
}

func (e *Engine) DCtxDecompressTBuffer(h native.Handle, output native.Handle, src unsafe.Pointer, srcSize uint64) native.Report {
	return e.DCtxDecompressMultiTBuffer(h, []native.Handle{output}, src, srcSize)
}

func (e *Engine) DCtxDecompressMultiTBuffer(h native.Handle, outputs []native.Handle, src unsafe.Pointer, srcSize uint64) native.Report {
	dx, ok := lookup[*dctx](e, h)
	if !ok {
		return reportOf(fail(codeParameterInvalid, "unknown decompression context"))
	}
	dx.warnings.reset()

	bufs := make([]*typedBuffer, len(outputs))
	for i, out := range outputs {
		b, ok := lookup[*typedBuffer](e, out)
		if !ok {
			return dx.last.record(fail(codeParameterInvalid, fmt.Sprintf("output %d is not a typed buffer", i)))
		}
		bufs[i] = b
	}

	fr, contents, f := decodeFrame(bytesAt(src, srcSize))
	if f != nil {
		return dx.last.record(f)
	}
	if len(fr.streams) != len(bufs) {
		code := codeUserBuffersInvalidNum
		if len(bufs) == 1 {
			code = codeSingleOutputFrameOnly
		}
		return dx.last.record(fail(code,
			fmt.Sprintf("frame hosts %d outputs, %d buffers provided", len(fr.streams), len(bufs))))
	}

	var total uint64
	for i, hdr := range fr.streams {
		data, lens, f := splitContent(hdr, contents[i])
		if f != nil {
			return dx.last.record(f)
		}
		bufs[i].fill(hdr, data, lens)
		total += hdr.size
	}

	return success(total)
}

func (e *Engine) DCtxGetErrorContextString(h native.Handle, r native.Report) string {
	if dx, ok := lookup[*dctx](e, h); ok {
		return dx.last.contextFor(r)
	}
	return ""
}

func (e *Engine) DCtxGetWarnings(h native.Handle) native.ErrorArray {
	if dx, ok := lookup[*dctx](e, h); ok {
		return dx.warnings.array()
	}
	return native.ErrorArray{}
}

// Decompress regenerates the single output of a frame into dst. String
// outputs need a typed buffer.
func (e *Engine) Decompress(dst unsafe.Pointer, dstCapacity uint64, src unsafe.Pointer, srcSize uint64) native.Report {
	fr, contents, f := decodeFrame(bytesAt(src, srcSize))
	if f != nil {
		return reportOf(f)
	}
	if len(fr.streams) != 1 {
		return reportOf(fail(codeSingleOutputFrameOnly, ""))
	}

	hdr := fr.streams[0]
	if hdr.typ == native.TypeString {
		return reportOf(fail(codeDecompressionIncorrectAPI, ""))
	}
	if hdr.size > dstCapacity {
		return reportOf(fail(codeDstCapacityTooSmall, ""))
	}
	copy(bytesAt(dst, dstCapacity), contents[0])

	return success(hdr.size)
}

func (e *Engine) GetDecompressedSize(src unsafe.Pointer, srcSize uint64) native.Report {
	fr, f := parseFrame(bytesAt(src, srcSize))
	if f != nil {
		return reportOf(f)
	}
	if len(fr.streams) != 1 {
		return reportOf(fail(codeSingleOutputFrameOnly, ""))
	}
	return success(fr.streams[0].size)
}

// decodeFrame parses src and regenerates the serialized content of every
// stream.
func decodeFrame(src []byte) (*frame, [][]byte, *failure) {
	fr, f := parseFrame(src)
	if f != nil {
		return nil, nil, f
	}

	contents := make([][]byte, len(fr.streams))
	for i, hdr := range fr.streams {
		g := graphs[hdr.graph]
		p := codecParams{width: codecWidth(hdr.typ, hdr.width)}
		out, err := decodePayload(g, fr.payloads[i], p, int(hdr.decodedSize()))
		if err != nil {
			return nil, nil, fail(codeCorruption, fmt.Sprintf("stream %d (%s): %v", i, g.name, err))
		}
		contents[i] = out
	}

	if fr.flags&flagContentChecksum != 0 && contentChecksum(contents) != fr.content {
		return nil, nil, fail(codeContentChecksumWrong, "")
	}

	return fr, contents, nil
}

// splitContent separates the string lengths from the flat content.
func splitContent(hdr streamHeader, content []byte) ([]byte, []uint32, *failure) {
	if hdr.typ != native.TypeString {
		return content, nil, nil
	}

	n := int(hdr.count)
	lens := make([]uint32, n)
	var total uint64
	for i := range lens {
		lens[i] = binary.LittleEndian.Uint32(content[4*i:])
		total += uint64(lens[i])
	}
	if total != hdr.size {
		return nil, nil, fail(codeCorruption, fmt.Sprintf("string lengths sum to %d, content holds %d bytes", total, hdr.size))
	}

	return content[4*n:], lens, nil
}
