// Package native describes the C ABI of the OpenZL engine in Go terms and
// binds it with purego.
//
// Everything in this package mirrors a declaration from the public OpenZL
// headers (zl_compress.h, zl_compressor.h, zl_decompress.h, zl_errors.h).
// Types that cross the boundary by value keep the exact C memory layout.
package native

import "unsafe"

// Handle is an opaque pointer to a native object (ZL_Compressor*, ZL_CCtx*,
// ZL_DCtx*, ZL_TypedRef* or ZL_TypedBuffer*). Zero is the null pointer.
type Handle uintptr

// Report mirrors ZL_Report, a union whose first member is always the error
// code. On success the second word holds the size_t value, on failure it
// holds a pointer to rich error information.
type Report struct {
	Code  int32
	Value uint64
}

// IsError reports whether the report carries an error code.
// It must be checked before Value is interpreted.
func (r Report) IsError() bool {
	return r.Code != 0
}

// Type mirrors ZL_Type.
type Type uint32

const (
	TypeSerial  Type = 1
	TypeStruct  Type = 2
	TypeNumeric Type = 4
	TypeString  Type = 8
)

func (t Type) String() string {
	switch t {
	case TypeSerial:
		return "serial"
	case TypeStruct:
		return "struct"
	case TypeNumeric:
		return "numeric"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// CParam mirrors ZL_CParam.
type CParam int32

const (
	CParamStickyParameters      CParam = 1
	CParamCompressionLevel      CParam = 2
	CParamDecompressionLevel    CParam = 3
	CParamFormatVersion         CParam = 4
	CParamPermissiveCompression CParam = 5
	CParamCompressedChecksum    CParam = 6
	CParamContentChecksum       CParam = 7
	CParamMinStreamSize         CParam = 11
)

// GraphID mirrors ZL_GraphID, a struct holding a single 32-bit id.
type GraphID uint32

// Standard graph ids (ZL_StandardGraphID).
const (
	GraphIllegal       GraphID = 0
	GraphStore         GraphID = 2
	GraphFSE           GraphID = 3
	GraphHuffman       GraphID = 4
	GraphEntropy       GraphID = 5
	GraphConstant      GraphID = 6
	GraphZstd          GraphID = 7
	GraphBitpack       GraphID = 8
	GraphFieldLZ       GraphID = 10
	GraphSelectNumeric GraphID = 13
)

// NativeError mirrors ZL_Error: an error code followed by an info pointer.
type NativeError struct {
	Code int32
	Info uintptr
}

// ErrorArray mirrors ZL_Error_Array. The memory it points to belongs to the
// context that produced it and is only valid until the next call on that
// context.
type ErrorArray struct {
	Errors unsafe.Pointer
	Size   uint64
}

// Elements returns a view over the native array. Callers must copy what they
// need before touching the owning context again.
func (a ErrorArray) Elements() []NativeError {
	if a.Errors == nil || a.Size == 0 {
		return nil
	}

	return unsafe.Slice((*NativeError)(a.Errors), a.Size)
}

// GraphFn mirrors ZL_GraphFn. The engine calls it synchronously from inside
// Engine.CompressorInitUsingGraphFn.
type GraphFn func(compressor Handle) GraphID

// Selector describes the fixed behavior of a one-shot graph selector:
// set the format version, then return Graph.
type Selector struct {
	Graph         GraphID
	FormatVersion int32
}

// CompressBound mirrors the header-inline ZL_compressBound.
func CompressBound(srcSize uint64) uint64 {
	return srcSize*2 + 512 + 8
}

// Engine is the complete set of native entry points used by the safety layer.
// Pointer arguments follow the C signatures: a nil pointer with a zero size is
// a valid empty buffer.
type Engine interface {
	ErrorCodeToString(code int32) string
	GraphIDIsValid(gid GraphID) bool

	CompressorCreate() Handle
	CompressorFree(c Handle)
	CompressorSetParameter(c Handle, p CParam, value int32) Report
	CompressorGetWarnings(c Handle) ErrorArray
	CompressorInitUsingGraphFn(c Handle, fn GraphFn) Report

	CCtxCreate() Handle
	CCtxFree(cctx Handle)
	CCtxSetParameter(cctx Handle, p CParam, value int32) Report
	CCtxRefCompressor(cctx Handle, c Handle) Report
	CCtxCompress(cctx Handle, dst unsafe.Pointer, dstCapacity uint64, src unsafe.Pointer, srcSize uint64) Report
	CCtxCompressTypedRef(cctx Handle, dst unsafe.Pointer, dstCapacity uint64, input Handle) Report
	CCtxCompressMultiTypedRef(cctx Handle, dst unsafe.Pointer, dstCapacity uint64, inputs []Handle) Report
	CCtxGetErrorContextString(cctx Handle, r Report) string
	CCtxGetWarnings(cctx Handle) ErrorArray

	CompressUsingGraphFn(dst unsafe.Pointer, dstCapacity uint64, src unsafe.Pointer, srcSize uint64, sel Selector) Report

	DCtxCreate() Handle
	DCtxFree(dctx Handle)
	DCtxDecompressTBuffer(dctx Handle, output Handle, src unsafe.Pointer, srcSize uint64) Report
	DCtxDecompressMultiTBuffer(dctx Handle, outputs []Handle, src unsafe.Pointer, srcSize uint64) Report
	DCtxGetErrorContextString(dctx Handle, r Report) string
	DCtxGetWarnings(dctx Handle) ErrorArray

	Decompress(dst unsafe.Pointer, dstCapacity uint64, src unsafe.Pointer, srcSize uint64) Report
	GetDecompressedSize(src unsafe.Pointer, srcSize uint64) Report

	TypedRefCreateSerial(src unsafe.Pointer, srcSize uint64) Handle
	TypedRefCreateNumeric(src unsafe.Pointer, width, count uint64) Handle
	TypedRefCreateStruct(src unsafe.Pointer, width, count uint64) Handle
	TypedRefCreateString(flat unsafe.Pointer, flatSize uint64, lens unsafe.Pointer, nbStrings uint64) Handle
	TypedRefFree(ref Handle)

	TypedBufferCreate() Handle
	TypedBufferFree(buf Handle)
	TypedBufferType(buf Handle) Type
	TypedBufferByteSize(buf Handle) uint64
	TypedBufferNumElts(buf Handle) uint64
	TypedBufferEltWidth(buf Handle) uint64
	TypedBufferRPtr(buf Handle) unsafe.Pointer
	TypedBufferRStringLens(buf Handle) unsafe.Pointer
}
