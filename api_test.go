package openzl

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

const fox = "The quick brown fox jumps over the lazy dog. "

func TestCompressSerialRoundTrip(t *testing.T) {
	lib, _ := newTestLibrary(t)

	tests := []struct {
		name string
		src  []byte
	}{
		{name: "empty", src: []byte{}},
		{name: "single byte", src: []byte{42}},
		{name: "text", src: []byte(fox)},
		{name: "repetitive", src: bytes.Repeat([]byte(fox), 100)},
		{name: "binary", src: func() []byte {
			b := make([]byte, 64<<10)
			for i := range b {
				b[i] = byte(i * 31 >> 3)
			}
			return b
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := lib.CompressSerial(tt.src)
			require.NoError(t, err)
			require.NotEmpty(t, frame)
			require.LessOrEqual(t, len(frame), CompressBound(len(tt.src)))

			out, err := lib.DecompressSerial(frame)
			require.NoError(t, err)
			require.Equal(t, len(tt.src), len(out))
			require.True(t, bytes.Equal(tt.src, out))
		})
	}
}

func TestCompressWithGraph(t *testing.T) {
	lib, _ := newTestLibrary(t)
	src := bytes.Repeat([]byte(fox), 100)

	for _, g := range []StandardGraph{StoreGraph, ZstdGraph, FSEGraph, HuffmanGraph, EntropyGraph, BitpackGraph} {
		t.Run(g.String(), func(t *testing.T) {
			frame, err := lib.CompressWithGraph(src, g)
			require.NoError(t, err)

			out, err := lib.DecompressSerial(frame)
			require.NoError(t, err)
			require.Equal(t, src, out)
		})
	}

	frame, err := lib.CompressWithGraph(src, ZstdGraph)
	require.NoError(t, err)
	require.Less(t, len(frame), len(src)/10)

	stored, err := lib.CompressWithGraph(src, StoreGraph)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(stored), len(src))

	_, err = lib.CompressWithGraph(src, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	// The numeric graph does not accept serial input.
	_, err = lib.CompressWithGraph(src, NumericGraph)
	require.ErrorIs(t, err, ErrEngine)

	constant, err := lib.CompressWithGraph(bytes.Repeat([]byte{7}, 1000), ConstantGraph)
	require.NoError(t, err)
	require.Less(t, len(constant), 100)
}

func TestCompressionLevel(t *testing.T) {
	fast, _ := newTestLibrary(t, WithCompressionLevel(1))
	strong, _ := newTestLibrary(t, WithCompressionLevel(19))

	const size = 128 << 10
	src := make([]byte, 0, size)
	for i := 0; len(src) < size; i++ {
		src = append(src, fox[i%len(fox):]...)
		src = append(src, byte(i))
	}
	src = src[:size]

	a, err := fast.CompressSerial(src)
	require.NoError(t, err)
	b, err := strong.CompressSerial(src)
	require.NoError(t, err)
	require.LessOrEqual(t, len(b), len(a))

	out, err := fast.DecompressSerial(b)
	require.NoError(t, err)
	require.Equal(t, src, out)
}

func TestDecompressSerialErrors(t *testing.T) {
	lib, _ := newTestLibrary(t)

	_, err := lib.DecompressSerial(nil)
	require.ErrorIs(t, err, ErrEngine)

	_, err = lib.DecompressSerial([]byte("definitely not a frame"))
	require.ErrorIs(t, err, ErrEngine)

	frame, err := lib.CompressSerial(bytes.Repeat([]byte(fox), 10))
	require.NoError(t, err)

	corrupted := bytes.Clone(frame)
	corrupted[len(corrupted)-1] ^= 0xff
	_, err = lib.DecompressSerial(corrupted)
	require.ErrorIs(t, err, ErrEngine)

	_, err = lib.DecompressSerial(frame[:len(frame)/2])
	require.ErrorIs(t, err, ErrEngine)
}

func testNumericRoundTrip[T Numeric](t *testing.T, lib *Library, values []T) {
	t.Helper()

	frame, err := CompressNumericWith(lib, values)
	require.NoError(t, err)

	got, err := DecompressNumericWith[T](lib, frame)
	require.NoError(t, err)
	require.Equal(t, values, got)
}

func TestNumericRoundTrip(t *testing.T) {
	lib, _ := newTestLibrary(t)

	t.Run("uint8", func(t *testing.T) { testNumericRoundTrip(t, lib, []uint8{0, 1, 2, 255, 128}) })
	t.Run("uint16", func(t *testing.T) { testNumericRoundTrip(t, lib, []uint16{0, 1000, 65535}) })
	t.Run("uint32", func(t *testing.T) { testNumericRoundTrip(t, lib, []uint32{0, 1, math.MaxUint32}) })
	t.Run("uint64", func(t *testing.T) { testNumericRoundTrip(t, lib, []uint64{math.MaxUint64, 0, 42}) })
	t.Run("int8", func(t *testing.T) { testNumericRoundTrip(t, lib, []int8{-128, 0, 127}) })
	t.Run("int16", func(t *testing.T) { testNumericRoundTrip(t, lib, []int16{-32768, -1, 32767}) })
	t.Run("int32", func(t *testing.T) { testNumericRoundTrip(t, lib, []int32{math.MinInt32, 0, math.MaxInt32}) })
	t.Run("int64", func(t *testing.T) { testNumericRoundTrip(t, lib, []int64{math.MinInt64, -5, math.MaxInt64}) })
	t.Run("float32", func(t *testing.T) { testNumericRoundTrip(t, lib, []float32{0, -1.5, math.MaxFloat32}) })
	t.Run("float64", func(t *testing.T) {
		testNumericRoundTrip(t, lib, []float64{math.Inf(1), math.SmallestNonzeroFloat64, -0.25})
	})
	t.Run("empty", func(t *testing.T) { testNumericRoundTrip(t, lib, []uint32{}) })
}

func TestNumericCompressesSequences(t *testing.T) {
	lib, _ := newTestLibrary(t)

	values := make([]uint32, 10000)
	for i := range values {
		values[i] = uint32(i)
	}

	frame, err := CompressNumericWith(lib, values)
	require.NoError(t, err)
	require.Less(t, len(frame), len(values)*4/20)

	got, err := DecompressNumericWith[uint32](lib, frame)
	require.NoError(t, err)
	require.Equal(t, values, got)
}

func TestDecompressNumericTypeMismatch(t *testing.T) {
	lib, _ := newTestLibrary(t)

	frame, err := CompressNumericWith(lib, []uint32{1, 2, 3})
	require.NoError(t, err)

	_, err = DecompressNumericWith[uint16](lib, frame)
	require.ErrorIs(t, err, ErrTypeMismatch)
	require.Contains(t, err.Error(), "4-byte elements, expected 2")

	// Same width, different type: the frame only records the width.
	f, err := DecompressNumericWith[float32](lib, frame)
	require.NoError(t, err)
	require.Len(t, f, 3)

	serial, err := lib.CompressSerial([]byte("abc"))
	require.NoError(t, err)
	_, err = DecompressNumericWith[uint8](lib, serial)
	require.ErrorIs(t, err, ErrTypeMismatch)
	require.Contains(t, err.Error(), "expected numeric")
}

func TestPackageLevelFunctions(t *testing.T) {
	src := bytes.Repeat([]byte(fox), 20)

	frame, err := CompressSerial(src)
	require.NoError(t, err)
	out, err := DecompressSerial(frame)
	require.NoError(t, err)
	require.Equal(t, src, out)

	frame, err = CompressWithGraph(src, HuffmanGraph)
	require.NoError(t, err)
	out, err = DecompressSerial(frame)
	require.NoError(t, err)
	require.Equal(t, src, out)

	nums, err := CompressNumeric([]int64{-3, -2, -1, 0, 1, 2, 3})
	require.NoError(t, err)
	values, err := DecompressNumeric[int64](nums)
	require.NoError(t, err)
	require.Equal(t, []int64{-3, -2, -1, 0, 1, 2, 3}, values)

	lib, err := Default()
	require.NoError(t, err)
	ref, err := lib.SerialRef(src)
	require.NoError(t, err)
	defer ref.Close()

	frame, err = CompressTypedRef(ref)
	require.NoError(t, err)
	buf, err := DecompressTypedBuffer(frame)
	require.NoError(t, err)
	defer buf.Close()
	require.Equal(t, src, buf.Bytes())

	frame, err = CompressMultiTypedRef(ref, ref)
	require.NoError(t, err)
	bufs, err := lib.DecompressMultiTypedBuffer(frame, 2)
	require.NoError(t, err)
	for _, b := range bufs {
		require.Equal(t, src, b.Bytes())
		b.Close()
	}

	_, err = CompressTypedRef(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = CompressMultiTypedRef()
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCompressBound(t *testing.T) {
	require.Equal(t, 520, CompressBound(0))
	require.Equal(t, 2*1000+520, CompressBound(1000))
}
