package openzl

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func TestWriterReader(t *testing.T) {
	lib, _ := newTestLibrary(t)
	src := strings.Repeat(fox, 50)

	var compressed bytes.Buffer
	w := lib.NewWriter(&compressed)
	for _, chunk := range strings.SplitAfter(src, ". ") {
		_, err := io.WriteString(w, chunk)
		require.NoError(t, err)
	}
	require.Zero(t, compressed.Len(), "frame is written on Close")
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.NotZero(t, compressed.Len())

	_, err := w.Write([]byte("late"))
	require.ErrorIs(t, err, ErrClosed)

	r := lib.NewReader(&compressed)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, src, string(out))

	require.NoError(t, r.Close())
	_, err = r.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrClosed)
}

func TestWriterGraph(t *testing.T) {
	lib, _ := newTestLibrary(t)

	var compressed bytes.Buffer
	w := lib.NewWriterGraph(&compressed, StoreGraph)
	_, err := w.Write([]byte("stored"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := lib.DecompressSerial(compressed.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("stored"), out)

	var empty bytes.Buffer
	require.NoError(t, lib.NewWriter(&empty).Close())
	out, err = io.ReadAll(lib.NewReader(&empty))
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestReaderErrors(t *testing.T) {
	lib, _ := newTestLibrary(t)

	r := lib.NewReader(strings.NewReader("garbage"))
	_, err := io.ReadAll(r)
	require.ErrorIs(t, err, ErrEngine)

	// The error sticks.
	_, err = r.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrEngine)

	failing := errors.New("read failed")
	r = lib.NewReader(io.MultiReader(strings.NewReader("x"), iotest.ErrReader(failing)))
	_, err = r.Read(make([]byte, 8))
	require.ErrorIs(t, err, failing)
}

func TestPackageLevelStreams(t *testing.T) {
	var compressed bytes.Buffer
	w, err := NewWriter(&compressed)
	require.NoError(t, err)
	_, err = w.Write([]byte(fox))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(&compressed)
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, fox, string(out))
}
