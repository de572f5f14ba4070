package refengine

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/develerltd/openzl-purego/internal/native"
)

// ternaryDisable is ZL_TernaryParam_disable.
const ternaryDisable = 2

type compressor struct {
	params      parameters
	graph       native.GraphID
	initialized bool
	warnings    warnings
}

type cctx struct {
	params   parameters
	ref      *compressor
	warnings warnings
	last     lastError
}

func (e *Engine) CompressorCreate() native.Handle {
	return e.register(&compressor{params: parameters{}})
}

func (e *Engine) CompressorFree(c native.Handle) {
	if _, ok := lookup[*compressor](e, c); ok {
		e.release(c)
	}
}

func (e *Engine) CompressorSetParameter(c native.Handle, p native.CParam, value int32) native.Report {
	cp, ok := lookup[*compressor](e, c)
	if !ok {
		return reportOf(fail(codeParameterInvalid, "unknown compressor"))
	}
	if f := cp.params.set(p, value); f != nil {
		return reportOf(f)
	}
	return success(0)
}

func (e *Engine) CompressorGetWarnings(c native.Handle) native.ErrorArray {
	if cp, ok := lookup[*compressor](e, c); ok {
		return cp.warnings.array()
	}
	return native.ErrorArray{}
}

// CompressorInitUsingGraphFn invokes fn synchronously with the compressor
// being initialized. fn may set parameters on that compressor.
func (e *Engine) CompressorInitUsingGraphFn(c native.Handle, fn native.GraphFn) native.Report {
	cp, ok := lookup[*compressor](e, c)
	if !ok || fn == nil {
		return reportOf(fail(codeParameterInvalid, "unknown compressor"))
	}

	cp.warnings.reset()
	if cp.initialized {
		cp.warnings.add(codeSuccessorAlreadySet)
	}

	gid := fn(c)
	if _, known := graphs[gid]; !known {
		return reportOf(fail(codeGraphInvalid, fmt.Sprintf("selector returned %s", graphName(gid))))
	}
	cp.graph = gid
	cp.initialized = true

	return success(0)
}

func (e *Engine) CCtxCreate() native.Handle {
	return e.register(&cctx{params: parameters{}})
}

func (e *Engine) CCtxFree(h native.Handle) {
	if _, ok := lookup[*cctx](e, h); ok {
		e.release(h)
	}
}

func (e *Engine) CCtxSetParameter(h native.Handle, p native.CParam, value int32) native.Report {
	cx, ok := lookup[*cctx](e, h)
	if !ok {
		return reportOf(fail(codeParameterInvalid, "unknown compression context"))
	}
	if f := cx.params.set(p, value); f != nil {
		return cx.last.record(f)
	}
	return success(0)
}

func (e *Engine) CCtxRefCompressor(h native.Handle, c native.Handle) native.Report {
	cx, ok := lookup[*cctx](e, h)
	if !ok {
		return reportOf(fail(codeParameterInvalid, "unknown compression context"))
	}
	cp, ok := lookup[*compressor](e, c)
	if !ok {
		return cx.last.record(fail(codeParameterInvalid, "unknown compressor"))
	}
	if !cp.initialized {
		return cx.last.record(fail(codeGraphInvalid, "compressor has no starting graph"))
	}
	cx.ref = cp

	return success(0)
}

func (e *Engine) CCtxCompress(h native.Handle, dst unsafe.Pointer, dstCapacity uint64, src unsafe.Pointer, srcSize uint64) native.Report {
	cx, ok := lookup[*cctx](e, h)
	if !ok {
		return reportOf(fail(codeParameterInvalid, "unknown compression context"))
	}
	return cx.compress(dst, dstCapacity, []*stream{serialStream(src, srcSize)})
}

func (e *Engine) CCtxCompressTypedRef(h native.Handle, dst unsafe.Pointer, dstCapacity uint64, input native.Handle) native.Report {
	return e.CCtxCompressMultiTypedRef(h, dst, dstCapacity, []native.Handle{input})
}

func (e *Engine) CCtxCompressMultiTypedRef(h native.Handle, dst unsafe.Pointer, dstCapacity uint64, inputs []native.Handle) native.Report {
	cx, ok := lookup[*cctx](e, h)
	if !ok {
		return reportOf(fail(codeParameterInvalid, "unknown compression context"))
	}
	if len(inputs) == 0 {
		return cx.last.record(fail(codeParameterInvalid, "no inputs"))
	}

	streams := make([]*stream, len(inputs))
	for i, in := range inputs {
		s, ok := lookup[*stream](e, in)
		if !ok {
			return cx.last.record(fail(codeParameterInvalid, fmt.Sprintf("input %d is not a typed reference", i)))
		}
		streams[i] = s
	}

	return cx.compress(dst, dstCapacity, streams)
}

func (e *Engine) CCtxGetErrorContextString(h native.Handle, r native.Report) string {
	if cx, ok := lookup[*cctx](e, h); ok {
		return cx.last.contextFor(r)
	}
	return ""
}

func (e *Engine) CCtxGetWarnings(h native.Handle) native.ErrorArray {
	if cx, ok := lookup[*cctx](e, h); ok {
		return cx.warnings.array()
	}
	return native.ErrorArray{}
}

// CompressUsingGraphFn compresses serial input with a one-shot selector that
// sets the format version and picks sel.Graph.
func (e *Engine) CompressUsingGraphFn(dst unsafe.Pointer, dstCapacity uint64, src unsafe.Pointer, srcSize uint64, sel native.Selector) native.Report {
	if _, known := graphs[sel.Graph]; !known {
		return reportOf(fail(codeGraphInvalid, fmt.Sprintf("selector returned %s", graphName(sel.Graph))))
	}

	params := parameters{native.CParamFormatVersion: sel.FormatVersion}
	var w warnings
	out, f := compressStreams(params, sel.Graph, []*stream{serialStream(src, srcSize)}, &w)
	if f != nil {
		return reportOf(f)
	}
	if uint64(len(out)) > dstCapacity {
		return reportOf(fail(codeDstCapacityTooSmall, ""))
	}
	copy(bytesAt(dst, dstCapacity), out)

	return success(uint64(len(out)))
}

func serialStream(src unsafe.Pointer, srcSize uint64) *stream {
	return &stream{
		typ:   native.TypeSerial,
		width: 1,
		count: srcSize,
		data:  bytesAt(src, srcSize),
	}
}

func (cx *cctx) compress(dst unsafe.Pointer, dstCapacity uint64, streams []*stream) native.Report {
	cx.warnings.reset()

	params := cx.params
	gid := native.GraphIllegal
	if cx.ref != nil {
		params = cx.params.merged(cx.ref.params)
		gid = cx.ref.graph
	}

	out, f := compressStreams(params, gid, streams, &cx.warnings)
	if f != nil {
		return cx.last.record(f)
	}
	if uint64(len(out)) > dstCapacity {
		return cx.last.record(fail(codeDstCapacityTooSmall,
			fmt.Sprintf("frame needs %d bytes, destination holds %d", len(out), dstCapacity)))
	}
	copy(bytesAt(dst, dstCapacity), out)

	return success(uint64(len(out)))
}

func defaultGraph(typ native.Type) native.GraphID {
	if typ == native.TypeNumeric {
		return native.GraphSelectNumeric
	}
	return native.GraphZstd
}

// compressStreams builds one frame holding every stream in order. gid is the
// starting graph; GraphIllegal selects a default per stream type.
func compressStreams(params parameters, gid native.GraphID, streams []*stream, w *warnings) ([]byte, *failure) {
	version := params[native.CParamFormatVersion]
	if version == 0 {
		return nil, fail(codeFormatVersionNotSet, "")
	}
	if version < MinFormatVersion || version > MaxFormatVersion {
		return nil, fail(codeFormatVersionUnsupported,
			fmt.Sprintf("format version %d is outside [%d, %d]", version, MinFormatVersion, MaxFormatVersion))
	}

	fr := &frame{version: version}
	if params[native.CParamContentChecksum] != ternaryDisable {
		fr.flags |= flagContentChecksum
	}
	if params[native.CParamCompressedChecksum] != ternaryDisable {
		fr.flags |= flagFrameChecksum
	}

	permissive := params[native.CParamPermissiveCompression] == 1
	minStreamSize := int(params[native.CParamMinStreamSize])

	contents := make([][]byte, 0, len(streams))
	for i, s := range streams {
		if s.typ != native.TypeString && uint64(len(s.data)) != s.width*s.count {
			return nil, fail(codeNodeInvalidInput,
				fmt.Sprintf("input %d: %d elements of width %d over %d bytes", i, s.count, s.width, len(s.data)))
		}
		if s.typ == native.TypeString {
			var total uint64
			for _, l := range s.lens {
				total += uint64(l)
			}
			if total != uint64(len(s.data)) {
				return nil, fail(codeNodeInvalidInput,
					fmt.Sprintf("input %d: string lengths sum to %d, content holds %d bytes", i, total, len(s.data)))
			}
		}

		g := gid
		if g == native.GraphIllegal {
			g = defaultGraph(s.typ)
		}

		raw := s.serialized()
		if minStreamSize > 0 && len(raw) < minStreamSize {
			g = native.GraphStore
		}

		payload, used, f := encodeStream(i, g, s, raw, params[native.CParamCompressionLevel], permissive, w)
		if f != nil {
			return nil, f
		}

		fr.streams = append(fr.streams, streamHeader{
			typ:         s.typ,
			graph:       used,
			width:       streamWidth(s),
			count:       s.count,
			size:        uint64(len(s.data)),
			payloadSize: uint64(len(payload)),
		})
		fr.payloads = append(fr.payloads, payload)
		contents = append(contents, raw)
	}
	fr.content = contentChecksum(contents)

	return fr.appendTo(nil), nil
}

// encodeStream runs graph g, falling back to zstd with a warning in
// permissive mode when g rejects the input.
func encodeStream(i int, g native.GraphID, s *stream, raw []byte, level int32, permissive bool, w *warnings) ([]byte, native.GraphID, *failure) {
	if graphs[g].accepts&s.typ == 0 {
		if !permissive {
			return nil, g, fail(codeInputTypeUnsupported,
				fmt.Sprintf("input %d: graph %s does not accept %s input", i, graphName(g), s.typ))
		}
		w.add(codeInputTypeUnsupported)
		g = native.GraphZstd
	}

	p := codecParams{width: codecWidth(s.typ, s.width), level: level}
	payload, err := encodePayload(graphs[g], raw, p)
	if errors.Is(err, errNotConstant) {
		if !permissive {
			return nil, g, fail(codeNodeInvalidInput, fmt.Sprintf("input %d: graph %s: %v", i, graphName(g), err))
		}
		w.add(codeNodeInvalidInput)
		g = native.GraphZstd
		payload, err = encodePayload(graphs[g], raw, p)
	}
	if err != nil {
		return nil, g, fail(codeGeneric, fmt.Sprintf("input %d: graph %s: %v", i, graphName(g), err))
	}

	return payload, g, nil
}

func streamWidth(s *stream) uint64 {
	if s.typ == native.TypeString {
		return 0
	}
	return s.width
}
