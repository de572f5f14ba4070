package openzl

import (
	"fmt"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/develerltd/openzl-purego/internal/refengine"
)

func TestMain(m *testing.M) {
	lib, err := Open(WithReferenceEngine())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open reference engine: %v\n", err)
		os.Exit(1)
	}
	SetDefault(lib)

	code := m.Run()
	lib.Close()
	os.Exit(code)
}

// newTestLibrary opens a library on a private reference engine and checks on
// cleanup that every native handle was freed.
func newTestLibrary(t *testing.T, opts ...Option) (*Library, *refengine.Engine) {
	t.Helper()

	engine := refengine.New()
	lib, err := Open(append([]Option{withEngine(engine)}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.Zero(t, engine.Live(), "native handles leaked")
		require.NoError(t, lib.Close())
	})

	return lib, engine
}

func ptrOf[T any](s []T) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(s))
}
