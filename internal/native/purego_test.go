package native

import (
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"runtime"
	"testing"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/stretchr/testify/require"
)

func openLibc(t *testing.T) uintptr {
	t.Helper()

	var name string
	switch runtime.GOOS {
	case "linux":
		name = "libc.so.6"
	case "darwin":
		name = "/usr/lib/libSystem.B.dylib"
	default:
		t.Skipf("no libc to load on %s", runtime.GOOS)
	}

	handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = purego.Dlclose(handle) })

	return handle
}

// Every function-typed entry of the binding table must be accepted by
// purego on this platform. The signatures are registered against an
// unrelated libc symbol and never called.
func TestBindingTableRegisters(t *testing.T) {
	libc := openLibc(t)
	sym, err := purego.Dlsym(libc, "abs")
	require.NoError(t, err)

	var l Library
	var funcs, raw int
	for _, s := range l.symbols() {
		if s.addr != nil {
			require.Nil(t, s.fptr, s.name)
			raw++
			continue
		}
		require.NoError(t, registerFunc(s.fptr, sym), s.name)
		funcs++
	}
	require.Equal(t, 23, funcs)
	require.Equal(t, 15, raw)
}

func TestBindReportsMissingSymbol(t *testing.T) {
	libc := openLibc(t)

	require.NotPanics(t, func() {
		l, err := Bind(libc)
		require.Nil(t, l)
		require.ErrorContains(t, err, "missing symbol ZL_ErrorCode_toString")
	})
}

func TestRegisterFuncRecovers(t *testing.T) {
	libc := openLibc(t)
	sym, err := purego.Dlsym(libc, "abs")
	require.NoError(t, err)

	var notAFunc int
	require.Error(t, registerFunc(&notAFunc, sym))

	if runtime.GOOS != "darwin" {
		var byValue func() Report
		require.Error(t, registerFunc(&byValue, sym))
	}

	var abs func(int32) int32
	require.NoError(t, registerFunc(&abs, sym))
	require.Equal(t, int32(7), abs(-7))
}

func TestCallReport(t *testing.T) {
	libc := openLibc(t)
	labs, err := purego.Dlsym(libc, "labs")
	require.NoError(t, err)

	n := int64(-5)
	r := callReport(labs, uintptr(n))
	require.Equal(t, int32(5), r.Code)
	require.True(t, r.IsError())
}

func TestReportWords(t *testing.T) {
	r := reportFromWords(uintptr(uint32(0xffffffff)), 42)
	require.Equal(t, Report{Code: -1, Value: 42}, r)

	code, value := reportWords(Report{Code: -1, Value: 42})
	require.Equal(t, uintptr(0xffffffff), code)
	require.Equal(t, uintptr(42), value)
	require.Equal(t, Report{Code: -1, Value: 42}, reportFromWords(code, value))

	require.Equal(t, uintptr(0xfffffffe), int32Word(-2))
}

func TestErrorArrayFromWords(t *testing.T) {
	backing := []NativeError{{Code: 3}, {Code: 4, Info: 9}}
	p := uintptr(unsafe.Pointer(&backing[0]))

	arr := errorArrayFromWords(p, 2)
	require.Equal(t, backing, arr.Elements())
	runtime.KeepAlive(backing)

	require.Nil(t, errorArrayFromWords(0, 0).Elements())
}

func TestLibraryMethodsAreDocumented(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "purego.go", nil, parser.ParseComments)
	require.NoError(t, err)

	var methods int
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || !fn.Name.IsExported() {
			continue
		}
		methods++
		require.NotNil(t, fn.Doc, "Library.%s has no doc comment", fn.Name.Name)
	}
	require.Equal(t, reflect.TypeFor[Engine]().NumMethod(), methods)
}
