// Package openzl provides Go bindings to the OpenZL graph-based typed
// compression library using purego to avoid CGo dependencies.
//
// The native engine owns the compression algorithms, graph execution and
// frame format. This package manages native handles with create-once and
// free-once semantics, converts native reports into *Error values, maps
// serial, numeric, struct and string data onto the engine's type system and
// offers one-call helpers on top of that.
//
// A Library is obtained with Open, or implicitly through Default for the
// package-level helpers. The shared library is resolved from WithLibraryPath,
// WithLibraryFS, the OPENZL_LIBRARY_PATH environment variable or the
// platform's default library names. WithReferenceEngine (or
// OPENZL_ENGINE=reference) selects an in-process engine whose frames are only
// readable by itself.
//
// Handles (Compressor, CCtx, DCtx, TypedRef, TypedBuffer) are not safe for
// concurrent use. Distinct handles may be used from different goroutines.
package openzl

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/develerltd/openzl-purego/internal/native"
	"github.com/develerltd/openzl-purego/internal/options"
)

// Library represents a loaded OpenZL engine.
type Library struct {
	engine  native.Engine
	backend *backend
	opts    Options
	closed  atomic.Bool
}

// Open loads an engine according to opts.
// The returned library should be closed with Close() when done.
func Open(opts ...Option) (*Library, error) {
	o := DefaultOptions()
	if err := options.Apply(&o, opts...); err != nil {
		return nil, err
	}

	l := &Library{opts: o}
	b, err := loadBackend(&l.opts, l.log())
	if err != nil {
		return nil, err
	}
	l.backend = b
	l.engine = b.engine

	l.log().Debug("openzl library opened",
		zap.String("backend", b.name),
		zap.Int32("format_version", o.FormatVersion))

	return l, nil
}

// Close releases the engine. Every handle created from the library must be
// closed first. After Close is called, the library cannot be used anymore.
func (l *Library) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	l.log().Debug("openzl library closed", zap.String("backend", l.backend.name))

	return l.backend.close()
}

// FormatVersion returns the format version set on every context.
func (l *Library) FormatVersion() int32 {
	return l.opts.FormatVersion
}

// Backend names the loaded engine: "reference" or the path of the shared
// library.
func (l *Library) Backend() string {
	return l.backend.name
}

func (l *Library) check() error {
	if l == nil {
		return invalidArgument("nil library")
	}
	if l.closed.Load() {
		return closedError("library")
	}
	return nil
}

func (l *Library) log() *zap.Logger {
	if l.opts.Logger != nil {
		return l.opts.Logger
	}
	return Logger()
}

var (
	defaultMu  sync.Mutex
	defaultLib *Library
)

// Default returns the library used by the package-level functions, opening
// it from the environment on first use. A failed open is retried on the next
// call.
func Default() (*Library, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultLib != nil && !defaultLib.closed.Load() {
		return defaultLib, nil
	}

	l, err := Open()
	if err != nil {
		return nil, err
	}
	defaultLib = l

	return l, nil
}

// SetDefault replaces the library used by the package-level functions and
// returns the previous one, which the caller owns.
func SetDefault(l *Library) *Library {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	prev := defaultLib
	defaultLib = l

	return prev
}
