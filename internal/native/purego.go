package native

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Library is an Engine backed by a dlopen'ed libopenzl.
//
// Entry points taking and returning scalars are registered with
// purego.RegisterFunc. Entry points returning ZL_Report or ZL_Error_Array by
// value are kept as raw symbol addresses and called through purego.SyscallN:
// both structs are two machine words and come back in the two integer return
// registers (RAX:RDX on amd64, X0:X1 on arm64).
type Library struct {
	handle uintptr

	// Errors and graph ids
	errorCodeToString func(code int32) string
	graphIDIsValid    func(gid uint32) int32

	// Compressor
	compressorCreate           func() uintptr
	compressorFree             func(c uintptr)
	compressorSetParameter     uintptr
	compressorGetWarnings      uintptr
	compressorInitUsingGraphFn uintptr

	// Compression context
	cctxCreate                func() uintptr
	cctxFree                  func(cctx uintptr)
	cctxSetParameter          uintptr
	cctxRefCompressor         uintptr
	cctxCompress              uintptr
	cctxCompressTypedRef      uintptr
	cctxCompressMultiTypedRef uintptr
	cctxGetErrorContextString func(cctx, code, value uintptr) string
	cctxGetWarnings           uintptr
	compressUsingGraphFn      uintptr

	// Decompression
	dctxCreate                 func() uintptr
	dctxFree                   func(dctx uintptr)
	dctxDecompressTBuffer      uintptr
	dctxDecompressMultiTBuffer uintptr
	dctxGetErrorContextString  func(dctx, code, value uintptr) string
	dctxGetWarnings            uintptr
	decompress                 uintptr
	getDecompressedSize        uintptr

	// Typed references
	typedRefCreateSerial  func(src unsafe.Pointer, srcSize uint64) uintptr
	typedRefCreateNumeric func(src unsafe.Pointer, width, count uint64) uintptr
	typedRefCreateStruct  func(src unsafe.Pointer, width, count uint64) uintptr
	typedRefCreateString  func(flat unsafe.Pointer, flatSize uint64, lens unsafe.Pointer, nbStrings uint64) uintptr
	typedRefFree          func(ref uintptr)

	// Typed buffers
	typedBufferCreate      func() uintptr
	typedBufferFree        func(buf uintptr)
	typedBufferType        func(buf uintptr) uint32
	typedBufferByteSize    func(buf uintptr) uint64
	typedBufferNumElts     func(buf uintptr) uint64
	typedBufferEltWidth    func(buf uintptr) uint64
	typedBufferRPtr        func(buf uintptr) unsafe.Pointer
	typedBufferRStringLens func(buf uintptr) unsafe.Pointer

	// graphFns holds the Go selector of every compressor currently inside
	// ZL_Compressor_initUsingGraphFn, keyed by compressor handle.
	graphFns   sync.Map
	trampoline uintptr

	mu        sync.Mutex
	selectors map[Selector]uintptr
}

var _ Engine = (*Library)(nil)

// symbol is one entry of the binding table. Exactly one of fptr and addr is
// set: fptr receives a purego-generated function, addr the raw address.
type symbol struct {
	name string
	fptr any
	addr *uintptr
}

// Bind resolves every OpenZL symbol in the dlopen'ed library.
func Bind(handle uintptr) (*Library, error) {
	l := &Library{
		handle:    handle,
		selectors: make(map[Selector]uintptr),
	}

	if err := bindSymbols(handle, l.symbols()); err != nil {
		return nil, err
	}

	trampoline, err := newCallback(l.selectGraph)
	if err != nil {
		return nil, err
	}
	l.trampoline = trampoline

	return l, nil
}

// symbols is the binding table of every entry point the Library calls.
func (l *Library) symbols() []symbol {
	return []symbol{
		{name: "ZL_ErrorCode_toString", fptr: &l.errorCodeToString},
		{name: "ZL_GraphID_isValid", fptr: &l.graphIDIsValid},

		{name: "ZL_Compressor_create", fptr: &l.compressorCreate},
		{name: "ZL_Compressor_free", fptr: &l.compressorFree},
		{name: "ZL_Compressor_setParameter", addr: &l.compressorSetParameter},
		{name: "ZL_Compressor_getWarnings", addr: &l.compressorGetWarnings},
		{name: "ZL_Compressor_initUsingGraphFn", addr: &l.compressorInitUsingGraphFn},

		{name: "ZL_CCtx_create", fptr: &l.cctxCreate},
		{name: "ZL_CCtx_free", fptr: &l.cctxFree},
		{name: "ZL_CCtx_setParameter", addr: &l.cctxSetParameter},
		{name: "ZL_CCtx_refCompressor", addr: &l.cctxRefCompressor},
		{name: "ZL_CCtx_compress", addr: &l.cctxCompress},
		{name: "ZL_CCtx_compressTypedRef", addr: &l.cctxCompressTypedRef},
		{name: "ZL_CCtx_compressMultiTypedRef", addr: &l.cctxCompressMultiTypedRef},
		{name: "ZL_CCtx_getErrorContextString", fptr: &l.cctxGetErrorContextString},
		{name: "ZL_CCtx_getWarnings", addr: &l.cctxGetWarnings},
		{name: "ZL_compress_usingGraphFn", addr: &l.compressUsingGraphFn},

		{name: "ZL_DCtx_create", fptr: &l.dctxCreate},
		{name: "ZL_DCtx_free", fptr: &l.dctxFree},
		{name: "ZL_DCtx_decompressTBuffer", addr: &l.dctxDecompressTBuffer},
		{name: "ZL_DCtx_decompressMultiTBuffer", addr: &l.dctxDecompressMultiTBuffer},
		{name: "ZL_DCtx_getErrorContextString", fptr: &l.dctxGetErrorContextString},
		{name: "ZL_DCtx_getWarnings", addr: &l.dctxGetWarnings},
		{name: "ZL_decompress", addr: &l.decompress},
		{name: "ZL_getDecompressedSize", addr: &l.getDecompressedSize},

		{name: "ZL_TypedRef_createSerial", fptr: &l.typedRefCreateSerial},
		{name: "ZL_TypedRef_createNumeric", fptr: &l.typedRefCreateNumeric},
		{name: "ZL_TypedRef_createStruct", fptr: &l.typedRefCreateStruct},
		{name: "ZL_TypedRef_createString", fptr: &l.typedRefCreateString},
		{name: "ZL_TypedRef_free", fptr: &l.typedRefFree},

		{name: "ZL_TypedBuffer_create", fptr: &l.typedBufferCreate},
		{name: "ZL_TypedBuffer_free", fptr: &l.typedBufferFree},
		{name: "ZL_TypedBuffer_type", fptr: &l.typedBufferType},
		{name: "ZL_TypedBuffer_byteSize", fptr: &l.typedBufferByteSize},
		{name: "ZL_TypedBuffer_numElts", fptr: &l.typedBufferNumElts},
		{name: "ZL_TypedBuffer_eltWidth", fptr: &l.typedBufferEltWidth},
		{name: "ZL_TypedBuffer_rPtr", fptr: &l.typedBufferRPtr},
		{name: "ZL_TypedBuffer_rStringLens", fptr: &l.typedBufferRStringLens},
	}
}

// bindSymbols looks up every symbol and fills its destination. purego
// reports unsupported signatures by panicking; those panics are returned as
// errors naming the symbol.
func bindSymbols(handle uintptr, symbols []symbol) error {
	for _, s := range symbols {
		sym, err := purego.Dlsym(handle, s.name)
		if err != nil {
			return fmt.Errorf("missing symbol %s: %w", s.name, err)
		}

		if s.addr != nil {
			*s.addr = sym
			continue
		}
		if err := registerFunc(s.fptr, sym); err != nil {
			return fmt.Errorf("cannot bind %s: %w", s.name, err)
		}
	}

	return nil
}

func registerFunc(fptr any, sym uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	purego.RegisterFunc(fptr, sym)

	return nil
}

func newCallback(fn any) (cb uintptr, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cannot create graph callback: %v", r)
		}
	}()

	return purego.NewCallback(fn), nil
}

// callReport calls a native function returning ZL_Report.
//
//go:uintptrescapes
func callReport(fn uintptr, args ...uintptr) Report {
	r1, r2, _ := purego.SyscallN(fn, args...)
	return reportFromWords(r1, r2)
}

// callErrorArray calls a native function returning ZL_Error_Array.
//
//go:uintptrescapes
func callErrorArray(fn uintptr, args ...uintptr) ErrorArray {
	r1, r2, _ := purego.SyscallN(fn, args...)
	return errorArrayFromWords(r1, r2)
}

func reportFromWords(r1, r2 uintptr) Report {
	return Report{Code: int32(uint32(r1)), Value: uint64(r2)}
}

func errorArrayFromWords(r1, r2 uintptr) ErrorArray {
	return ErrorArray{Errors: *(*unsafe.Pointer)(unsafe.Pointer(&r1)), Size: uint64(r2)}
}

// reportWords splits a report passed by value into its two argument words.
func reportWords(r Report) (uintptr, uintptr) {
	return uintptr(uint32(r.Code)), uintptr(r.Value)
}

func int32Word(v int32) uintptr {
	return uintptr(uint32(v))
}

// selectGraph is the single C-callable ZL_GraphFn handed to
// ZL_Compressor_initUsingGraphFn. The native engine passes the compressor
// being initialized, which doubles as the lookup key for the Go selector.
func (l *Library) selectGraph(compressor uintptr) uintptr {
	fn, ok := l.graphFns.Load(Handle(compressor))
	if !ok {
		return uintptr(GraphIllegal)
	}

	return uintptr(fn.(GraphFn)(Handle(compressor)))
}

// selectorCallback returns the dispatch-table entry for sel, creating the
// C callback on first use. purego callbacks are never released, so the
// table only grows with distinct selectors.
func (l *Library) selectorCallback(sel Selector) uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cb, ok := l.selectors[sel]; ok {
		return cb
	}

	setParameter := l.compressorSetParameter
	cb := purego.NewCallback(func(compressor uintptr) uintptr {
		callReport(setParameter, compressor, uintptr(CParamFormatVersion), int32Word(sel.FormatVersion))
		return uintptr(sel.Graph)
	})
	l.selectors[sel] = cb

	return cb
}

// ErrorCodeToString returns the description of an error code.
func (l *Library) ErrorCodeToString(code int32) string { return l.errorCodeToString(code) }

// GraphIDIsValid reports whether the engine knows gid.
func (l *Library) GraphIDIsValid(gid GraphID) bool { return l.graphIDIsValid(uint32(gid)) != 0 }

// CompressorCreate calls ZL_Compressor_create.
func (l *Library) CompressorCreate() Handle { return Handle(l.compressorCreate()) }

// CompressorFree calls ZL_Compressor_free.
func (l *Library) CompressorFree(c Handle) { l.compressorFree(uintptr(c)) }

// CompressorSetParameter calls ZL_Compressor_setParameter.
func (l *Library) CompressorSetParameter(c Handle, p CParam, value int32) Report {
	return callReport(l.compressorSetParameter, uintptr(c), uintptr(p), int32Word(value))
}

// CompressorGetWarnings calls ZL_Compressor_getWarnings.
func (l *Library) CompressorGetWarnings(c Handle) ErrorArray {
	return callErrorArray(l.compressorGetWarnings, uintptr(c))
}

// CompressorInitUsingGraphFn calls ZL_Compressor_initUsingGraphFn with the
// shared trampoline; fn is reachable from it for the duration of the call.
func (l *Library) CompressorInitUsingGraphFn(c Handle, fn GraphFn) Report {
	l.graphFns.Store(c, fn)
	defer l.graphFns.Delete(c)

	return callReport(l.compressorInitUsingGraphFn, uintptr(c), l.trampoline)
}

// CCtxCreate calls ZL_CCtx_create.
func (l *Library) CCtxCreate() Handle { return Handle(l.cctxCreate()) }

// CCtxFree calls ZL_CCtx_free.
func (l *Library) CCtxFree(cctx Handle) { l.cctxFree(uintptr(cctx)) }

// CCtxSetParameter calls ZL_CCtx_setParameter.
func (l *Library) CCtxSetParameter(cctx Handle, p CParam, value int32) Report {
	return callReport(l.cctxSetParameter, uintptr(cctx), uintptr(p), int32Word(value))
}

// CCtxRefCompressor calls ZL_CCtx_refCompressor.
func (l *Library) CCtxRefCompressor(cctx Handle, c Handle) Report {
	return callReport(l.cctxRefCompressor, uintptr(cctx), uintptr(c))
}

// CCtxCompress calls ZL_CCtx_compress.
func (l *Library) CCtxCompress(cctx Handle, dst unsafe.Pointer, dstCapacity uint64, src unsafe.Pointer, srcSize uint64) Report {
	return callReport(l.cctxCompress, uintptr(cctx), uintptr(dst), uintptr(dstCapacity), uintptr(src), uintptr(srcSize))
}

// CCtxCompressTypedRef calls ZL_CCtx_compressTypedRef.
func (l *Library) CCtxCompressTypedRef(cctx Handle, dst unsafe.Pointer, dstCapacity uint64, input Handle) Report {
	return callReport(l.cctxCompressTypedRef, uintptr(cctx), uintptr(dst), uintptr(dstCapacity), uintptr(input))
}

// CCtxCompressMultiTypedRef calls ZL_CCtx_compressMultiTypedRef.
func (l *Library) CCtxCompressMultiTypedRef(cctx Handle, dst unsafe.Pointer, dstCapacity uint64, inputs []Handle) Report {
	r := callReport(l.cctxCompressMultiTypedRef, uintptr(cctx), uintptr(dst), uintptr(dstCapacity),
		uintptr(unsafe.Pointer(unsafe.SliceData(inputs))), uintptr(len(inputs)))
	runtime.KeepAlive(inputs)

	return r
}

// CCtxGetErrorContextString calls ZL_CCtx_getErrorContextString. The report
// is passed by value as two words.
func (l *Library) CCtxGetErrorContextString(cctx Handle, r Report) string {
	code, value := reportWords(r)
	return l.cctxGetErrorContextString(uintptr(cctx), code, value)
}

// CCtxGetWarnings calls ZL_CCtx_getWarnings.
func (l *Library) CCtxGetWarnings(cctx Handle) ErrorArray {
	return callErrorArray(l.cctxGetWarnings, uintptr(cctx))
}

// CompressUsingGraphFn calls ZL_compress_usingGraphFn with the callback
// registered for sel.
func (l *Library) CompressUsingGraphFn(dst unsafe.Pointer, dstCapacity uint64, src unsafe.Pointer, srcSize uint64, sel Selector) Report {
	return callReport(l.compressUsingGraphFn, uintptr(dst), uintptr(dstCapacity), uintptr(src), uintptr(srcSize), l.selectorCallback(sel))
}

// DCtxCreate calls ZL_DCtx_create.
func (l *Library) DCtxCreate() Handle { return Handle(l.dctxCreate()) }

// DCtxFree calls ZL_DCtx_free.
func (l *Library) DCtxFree(dctx Handle) { l.dctxFree(uintptr(dctx)) }

// DCtxDecompressTBuffer calls ZL_DCtx_decompressTBuffer.
func (l *Library) DCtxDecompressTBuffer(dctx Handle, output Handle, src unsafe.Pointer, srcSize uint64) Report {
	return callReport(l.dctxDecompressTBuffer, uintptr(dctx), uintptr(output), uintptr(src), uintptr(srcSize))
}

// DCtxDecompressMultiTBuffer calls ZL_DCtx_decompressMultiTBuffer.
func (l *Library) DCtxDecompressMultiTBuffer(dctx Handle, outputs []Handle, src unsafe.Pointer, srcSize uint64) Report {
	r := callReport(l.dctxDecompressMultiTBuffer, uintptr(dctx),
		uintptr(unsafe.Pointer(unsafe.SliceData(outputs))), uintptr(len(outputs)), uintptr(src), uintptr(srcSize))
	runtime.KeepAlive(outputs)

	return r
}

// DCtxGetErrorContextString calls ZL_DCtx_getErrorContextString.
func (l *Library) DCtxGetErrorContextString(dctx Handle, r Report) string {
	code, value := reportWords(r)
	return l.dctxGetErrorContextString(uintptr(dctx), code, value)
}

// DCtxGetWarnings calls ZL_DCtx_getWarnings.
func (l *Library) DCtxGetWarnings(dctx Handle) ErrorArray {
	return callErrorArray(l.dctxGetWarnings, uintptr(dctx))
}

// Decompress calls ZL_decompress.
func (l *Library) Decompress(dst unsafe.Pointer, dstCapacity uint64, src unsafe.Pointer, srcSize uint64) Report {
	return callReport(l.decompress, uintptr(dst), uintptr(dstCapacity), uintptr(src), uintptr(srcSize))
}

// GetDecompressedSize calls ZL_getDecompressedSize.
func (l *Library) GetDecompressedSize(src unsafe.Pointer, srcSize uint64) Report {
	return callReport(l.getDecompressedSize, uintptr(src), uintptr(srcSize))
}

// TypedRefCreateSerial calls ZL_TypedRef_createSerial.
func (l *Library) TypedRefCreateSerial(src unsafe.Pointer, srcSize uint64) Handle {
	return Handle(l.typedRefCreateSerial(src, srcSize))
}

// TypedRefCreateNumeric calls ZL_TypedRef_createNumeric.
func (l *Library) TypedRefCreateNumeric(src unsafe.Pointer, width, count uint64) Handle {
	return Handle(l.typedRefCreateNumeric(src, width, count))
}

// TypedRefCreateStruct calls ZL_TypedRef_createStruct.
func (l *Library) TypedRefCreateStruct(src unsafe.Pointer, width, count uint64) Handle {
	return Handle(l.typedRefCreateStruct(src, width, count))
}

// TypedRefCreateString calls ZL_TypedRef_createString.
func (l *Library) TypedRefCreateString(flat unsafe.Pointer, flatSize uint64, lens unsafe.Pointer, nbStrings uint64) Handle {
	return Handle(l.typedRefCreateString(flat, flatSize, lens, nbStrings))
}

// TypedRefFree calls ZL_TypedRef_free.
func (l *Library) TypedRefFree(ref Handle) { l.typedRefFree(uintptr(ref)) }

// TypedBufferCreate calls ZL_TypedBuffer_create.
func (l *Library) TypedBufferCreate() Handle { return Handle(l.typedBufferCreate()) }

// TypedBufferFree calls ZL_TypedBuffer_free.
func (l *Library) TypedBufferFree(buf Handle) { l.typedBufferFree(uintptr(buf)) }

// TypedBufferType calls ZL_TypedBuffer_type.
func (l *Library) TypedBufferType(buf Handle) Type { return Type(l.typedBufferType(uintptr(buf))) }

// TypedBufferByteSize calls ZL_TypedBuffer_byteSize.
func (l *Library) TypedBufferByteSize(buf Handle) uint64 { return l.typedBufferByteSize(uintptr(buf)) }

// TypedBufferNumElts calls ZL_TypedBuffer_numElts.
func (l *Library) TypedBufferNumElts(buf Handle) uint64 { return l.typedBufferNumElts(uintptr(buf)) }

// TypedBufferEltWidth calls ZL_TypedBuffer_eltWidth.
func (l *Library) TypedBufferEltWidth(buf Handle) uint64 { return l.typedBufferEltWidth(uintptr(buf)) }

// TypedBufferRPtr calls ZL_TypedBuffer_rPtr.
func (l *Library) TypedBufferRPtr(buf Handle) unsafe.Pointer { return l.typedBufferRPtr(uintptr(buf)) }

// TypedBufferRStringLens calls ZL_TypedBuffer_rStringLens.
func (l *Library) TypedBufferRStringLens(buf Handle) unsafe.Pointer {
	return l.typedBufferRStringLens(uintptr(buf))
}
