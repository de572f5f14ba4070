package openzl

import (
	"encoding/binary"
	"math"
	"runtime"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/develerltd/openzl-purego/internal/native"
)

// countingEngine records how many typed references reach the engine.
type countingEngine struct {
	native.Engine
	creates int
}

func (e *countingEngine) TypedRefCreateNumeric(src unsafe.Pointer, width, count uint64) native.Handle {
	e.creates++
	return e.Engine.TypedRefCreateNumeric(src, width, count)
}

func (e *countingEngine) TypedRefCreateStruct(src unsafe.Pointer, width, count uint64) native.Handle {
	e.creates++
	return e.Engine.TypedRefCreateStruct(src, width, count)
}

func TestNumericBytesRefValidation(t *testing.T) {
	lib, ref := newTestLibrary(t)
	counting := &countingEngine{Engine: ref}
	lib.engine = counting

	for _, width := range []int{0, 3, 5, 16, -1} {
		_, err := lib.NumericBytesRef(make([]byte, 48), width)
		require.ErrorIs(t, err, ErrInvalidArgument, "width %d", width)
	}
	_, err := lib.NumericBytesRef(make([]byte, 6), 4)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Contains(t, err.Error(), "6 bytes is not a multiple of numeric width 4")
	require.Zero(t, counting.creates)

	r, err := lib.NumericBytesRef(make([]byte, 8), 4)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 1, counting.creates)
	require.Equal(t, TypeNumeric, r.Type())
	require.Equal(t, 8, r.ByteSize())
}

func TestStructRefValidation(t *testing.T) {
	lib, ref := newTestLibrary(t)
	counting := &countingEngine{Engine: ref}
	lib.engine = counting

	_, err := lib.StructRef(make([]byte, 10), 4, 3)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Contains(t, err.Error(), "struct data holds 10 bytes, expected 12 (width 4 x count 3)")

	_, err = lib.StructRef(nil, 0, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Zero(t, counting.creates)

	data := make([]byte, 12)
	r, err := lib.StructRef(data, 4, 3)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, TypeStruct, r.Type())
	require.Equal(t, 12, r.ByteSize())
}

func TestTypedRefRoundTrip(t *testing.T) {
	lib, _ := newTestLibrary(t)

	records := make([]byte, 0, 6*100)
	for i := 0; i < 100; i++ {
		records = binary.LittleEndian.AppendUint32(records, uint32(i*7))
		records = binary.LittleEndian.AppendUint16(records, uint16(i%3))
	}

	tests := []struct {
		name  string
		graph GraphFn
		make  func() (*TypedRef, error)
		typ   Type
		width int
		count int
		want  []byte
	}{
		{
			name:  "serial",
			graph: ZstdGraph,
			make:  func() (*TypedRef, error) { return lib.SerialRef([]byte("hello typed world")) },
			typ:   TypeSerial,
			width: 1,
			count: 17,
			want:  []byte("hello typed world"),
		},
		{
			name:  "struct",
			graph: FieldLZGraph,
			make:  func() (*TypedRef, error) { return lib.StructRef(records, 6, 100) },
			typ:   TypeStruct,
			width: 6,
			count: 100,
			want:  records,
		},
		{
			name:  "numeric bytes",
			graph: NumericGraph,
			make:  func() (*TypedRef, error) { return lib.NumericBytesRef(records, 2) },
			typ:   TypeNumeric,
			width: 2,
			count: 300,
			want:  records,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := tt.make()
			require.NoError(t, err)
			defer ref.Close()

			frame, err := lib.CompressTypedRefWithGraph(tt.graph, ref)
			require.NoError(t, err)

			buf, err := lib.DecompressTypedBuffer(frame)
			require.NoError(t, err)
			defer buf.Close()

			require.Equal(t, tt.typ, buf.Type())
			require.Equal(t, tt.width, buf.EltWidth())
			require.Equal(t, tt.count, buf.NumElts())
			require.Equal(t, len(tt.want), buf.ByteSize())
			require.Equal(t, tt.want, buf.Bytes())
		})
	}
}

func TestStringRefRoundTrip(t *testing.T) {
	lib, _ := newTestLibrary(t)

	words := []string{"alpha", "", "gamma", "delta epsilon"}
	var flat []byte
	lens := make([]uint32, len(words))
	for i, w := range words {
		flat = append(flat, w...)
		lens[i] = uint32(len(w))
	}

	strs, err := lib.StringRef(flat, lens)
	require.NoError(t, err)
	defer strs.Close()
	require.Equal(t, TypeString, strs.Type())
	require.Equal(t, len(flat)+4*len(lens), strs.ByteSize())

	nums, err := NumericRef(lib, []uint16{1, 2, 3})
	require.NoError(t, err)
	defer nums.Close()

	frame, err := lib.CompressMultiTypedRef(strs, nums)
	require.NoError(t, err)

	bufs, err := lib.DecompressMultiTypedBuffer(frame, 2)
	require.NoError(t, err)
	defer func() {
		for _, b := range bufs {
			b.Close()
		}
	}()

	require.Equal(t, TypeString, bufs[0].Type())
	require.Equal(t, len(words), bufs[0].NumElts())
	require.Equal(t, flat, bufs[0].Bytes())
	gotLens, ok := bufs[0].StringLens()
	require.True(t, ok)
	require.Equal(t, lens, gotLens)

	got, ok := AsNumeric[uint16](bufs[1])
	require.True(t, ok)
	require.Equal(t, []uint16{1, 2, 3}, got)
	_, ok = bufs[1].StringLens()
	require.False(t, ok)
}

func TestStringRefLengthMismatch(t *testing.T) {
	lib, _ := newTestLibrary(t)

	strs, err := lib.StringRef([]byte("abc"), []uint32{1, 1})
	require.NoError(t, err)
	defer strs.Close()

	_, err = lib.CompressTypedRef(strs)
	require.ErrorIs(t, err, ErrEngine)
	require.Contains(t, err.Error(), "string lengths sum to 2, content holds 3 bytes")
}

func TestMultiTypedBufferCount(t *testing.T) {
	lib, _ := newTestLibrary(t)

	a, err := lib.SerialRef([]byte("first"))
	require.NoError(t, err)
	defer a.Close()
	b, err := lib.SerialRef([]byte("second"))
	require.NoError(t, err)
	defer b.Close()

	frame, err := lib.CompressMultiTypedRef(a, b)
	require.NoError(t, err)

	_, err = lib.DecompressMultiTypedBuffer(frame, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = lib.DecompressMultiTypedBuffer(frame, 3)
	require.ErrorIs(t, err, ErrEngine)

	_, err = lib.DecompressSerial(frame)
	require.ErrorIs(t, err, ErrEngine)

	bufs, err := lib.DecompressMultiTypedBuffer(frame, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), bufs[0].Bytes())
	require.Equal(t, []byte("second"), bufs[1].Bytes())
	for _, buf := range bufs {
		require.NoError(t, buf.Close())
	}

	_, err = lib.CompressMultiTypedRef()
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTypedRefOwnership(t *testing.T) {
	lib, _ := newTestLibrary(t)
	other, _ := newTestLibrary(t)

	ref, err := other.SerialRef([]byte("foreign"))
	require.NoError(t, err)
	defer ref.Close()

	_, err = lib.CompressTypedRef(ref)
	require.ErrorIs(t, err, ErrInvalidArgument)

	closed, err := lib.SerialRef([]byte("closed"))
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	_, err = lib.CompressTypedRef(closed)
	require.ErrorIs(t, err, ErrClosed)

	buf, err := other.NewTypedBuffer()
	require.NoError(t, err)
	defer buf.Close()
	dctx, err := lib.NewDCtx()
	require.NoError(t, err)
	defer dctx.Close()
	_, err = dctx.DecompressTypedBuffer([]byte("frame"), buf)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAsNumeric(t *testing.T) {
	lib, _ := newTestLibrary(t)

	frame, err := CompressNumericWith(lib, []float64{0.5, math.Pi, -1})
	require.NoError(t, err)

	buf, err := lib.DecompressTypedBuffer(frame)
	require.NoError(t, err)
	defer buf.Close()

	_, ok := AsNumeric[uint32](buf)
	require.False(t, ok, "width mismatch")

	got, ok := AsNumeric[float64](buf)
	require.True(t, ok)
	require.Equal(t, []float64{0.5, math.Pi, -1}, got)

	u, ok := AsNumeric[uint64](buf)
	require.True(t, ok)
	require.Equal(t, math.Float64bits(0.5), u[0])

	serial, err := lib.CompressSerial([]byte("abc"))
	require.NoError(t, err)
	sbuf, err := lib.DecompressTypedBuffer(serial)
	require.NoError(t, err)
	defer sbuf.Close()
	_, ok = AsNumeric[uint8](sbuf)
	require.False(t, ok, "serial output is not numeric")
}

func TestEmptyNumericRef(t *testing.T) {
	lib, _ := newTestLibrary(t)

	ref, err := NumericRef(lib, []int32{})
	require.NoError(t, err)
	defer ref.Close()
	require.Zero(t, ref.ByteSize())

	frame, err := lib.CompressTypedRefWithGraph(NumericGraph, ref)
	require.NoError(t, err)
	require.NotEmpty(t, frame)

	buf, err := lib.DecompressTypedBuffer(frame)
	require.NoError(t, err)
	defer buf.Close()
	require.Equal(t, TypeNumeric, buf.Type())
	require.Equal(t, 4, buf.EltWidth())
	require.Zero(t, buf.NumElts())
	require.Equal(t, []byte{}, buf.Bytes())

	got, ok := AsNumeric[int32](buf)
	require.True(t, ok)
	require.Empty(t, got)
}

//go:noinline
func dropSerialRef(t *testing.T, lib *Library, n int) {
	_, err := lib.SerialRef(make([]byte, n))
	require.NoError(t, err)
}

func TestDroppedTypedRefIsReleased(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	lib, engine := newTestLibrary(t, WithLogger(zap.New(core)))

	dropSerialRef(t, lib, 64)
	dropSerialRef(t, lib, 4096)
	require.Equal(t, 2, engine.Live())

	require.Eventually(t, func() bool {
		runtime.GC()
		return engine.Live() == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("typed reference was not closed").Len() == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClosedTypedRefIsNotReleasedTwice(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	lib, engine := newTestLibrary(t, WithLogger(zap.New(core)))

	ref, err := lib.SerialRef([]byte(fox))
	require.NoError(t, err)
	require.NoError(t, ref.Close())
	require.Zero(t, engine.Live())

	for range 3 {
		runtime.GC()
	}
	require.Zero(t, logs.Len())
}
