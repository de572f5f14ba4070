// Package refengine is an in-process implementation of native.Engine.
//
// It follows the OpenZL ABI contract (handles, reports, warnings, typed
// references and buffers, graph selection) and builds its codecs from
// klauspost/compress and pierrec/lz4. Its frames are not interchangeable with
// frames produced by libopenzl.
package refengine

import (
	"sync"
	"unsafe"

	"github.com/develerltd/openzl-purego/internal/native"
)

const (
	// MinFormatVersion and MaxFormatVersion bound the accepted
	// ZL_CParam_formatVersion values.
	MinFormatVersion = 8
	MaxFormatVersion = 21

	handleBase   = 0x1000
	handleStride = 0x10
)

// Engine is safe for concurrent use on distinct handles. The handle table is
// shared and guarded; objects behind a handle are not.
type Engine struct {
	mu      sync.Mutex
	next    native.Handle
	objects map[native.Handle]any
}

var _ native.Engine = (*Engine)(nil)

// New returns an engine with an empty handle table.
func New() *Engine {
	return &Engine{
		next:    handleBase,
		objects: make(map[native.Handle]any),
	}
}

// Live returns the number of handles that have been created and not freed.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.objects)
}

func (e *Engine) register(obj any) native.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.next
	e.next += handleStride
	e.objects[h] = obj

	return h
}

func (e *Engine) release(h native.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.objects, h)
}

func lookup[T any](e *Engine, h native.Handle) (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	obj, ok := e.objects[h].(T)
	return obj, ok
}

func (e *Engine) ErrorCodeToString(code int32) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return ""
}

func (e *Engine) GraphIDIsValid(gid native.GraphID) bool {
	_, ok := graphs[gid]
	return ok
}

// parameters holds ZL_CParam values. Zero means "use the default".
type parameters map[native.CParam]int32

func (p parameters) set(param native.CParam, value int32) *failure {
	switch param {
	case native.CParamStickyParameters,
		native.CParamCompressionLevel,
		native.CParamDecompressionLevel,
		native.CParamFormatVersion,
		native.CParamPermissiveCompression,
		native.CParamCompressedChecksum,
		native.CParamContentChecksum,
		native.CParamMinStreamSize:
	default:
		return fail(codeCompressionParamInvalid, "unknown parameter")
	}
	p[param] = value

	return nil
}

// merged overlays p on top of base.
func (p parameters) merged(base parameters) parameters {
	out := make(parameters, len(base)+len(p))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}

// warnings is a context-owned list exposed as a ZL_Error_Array. The exposed
// view stays valid until the next operation on the owning context.
type warnings struct {
	list []native.NativeError
}

func (w *warnings) reset() {
	w.list = nil
}

func (w *warnings) add(code int32) {
	w.list = append(w.list, native.NativeError{Code: code})
}

func (w *warnings) array() native.ErrorArray {
	if len(w.list) == 0 {
		return native.ErrorArray{}
	}
	return native.ErrorArray{
		Errors: unsafe.Pointer(unsafe.SliceData(w.list)),
		Size:   uint64(len(w.list)),
	}
}

// lastError remembers the diagnostic of a context's most recent failure.
type lastError struct {
	code    int32
	context string
}

func (l *lastError) record(f *failure) native.Report {
	l.code = f.code
	l.context = f.context
	return reportOf(f)
}

func (l *lastError) contextFor(r native.Report) string {
	if !r.IsError() || r.Code != l.code {
		return ""
	}
	return l.context
}

func bytesAt(p unsafe.Pointer, n uint64) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}
