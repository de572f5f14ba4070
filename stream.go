package openzl

import (
	"bytes"
	"io"
)

// Writer implements an io.WriteCloser that compresses everything written to
// it into a single frame. OpenZL frames are not streamable, so the frame is
// produced and written on Close.
type Writer struct {
	lib    *Library
	writer io.Writer
	graph  GraphFn
	buffer bytes.Buffer
	closed bool
}

// NewWriter creates a Writer that compresses with the zstd graph.
func (l *Library) NewWriter(w io.Writer) *Writer {
	return l.NewWriterGraph(w, ZstdGraph)
}

// NewWriterGraph creates a Writer that compresses with the graph selected by
// g. g must be a standard graph.
func (l *Library) NewWriterGraph(w io.Writer, g GraphFn) *Writer {
	return &Writer{lib: l, writer: w, graph: g}
}

// Write implements the io.Writer interface
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, closedError("writer")
	}
	return w.buffer.Write(p)
}

// Close compresses the buffered data and writes the frame.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	frame, err := w.lib.CompressWithGraph(w.buffer.Bytes(), w.graph)
	w.buffer = bytes.Buffer{}
	if err != nil {
		return err
	}

	_, err = w.writer.Write(frame)
	return err
}

// Reader implements an io.ReadCloser that decompresses a single frame read
// from an underlying reader. The whole frame is read on the first call to
// Read.
type Reader struct {
	lib    *Library
	reader io.Reader
	data   []byte
	pos    int
	loaded bool
	err    error
	closed bool
}

// NewReader creates a Reader decompressing the frame in r.
func (l *Library) NewReader(r io.Reader) *Reader {
	return &Reader{lib: l, reader: r}
}

// Read implements the io.Reader interface
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, closedError("reader")
	}

	if !r.loaded {
		r.loaded = true
		src, err := io.ReadAll(r.reader)
		if err != nil {
			r.err = err
		} else {
			r.data, r.err = r.lib.DecompressSerial(src)
		}
	}
	if r.err != nil {
		return 0, r.err
	}

	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n

	return n, nil
}

// Close implements the io.Closer interface
func (r *Reader) Close() error {
	r.closed = true
	r.data = nil
	return nil
}

// NewWriter creates a Writer on the default library.
func NewWriter(w io.Writer) (*Writer, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return l.NewWriter(w), nil
}

// NewReader creates a Reader on the default library.
func NewReader(r io.Reader) (*Reader, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return l.NewReader(r), nil
}
