package openzl

import (
	"fmt"

	"github.com/develerltd/openzl-purego/internal/native"
)

// Kind categorizes an Error.
type Kind string

const (
	// KindEngine is a failure reported by the native engine.
	KindEngine Kind = "engine"
	// KindInvalidArgument is a caller precondition rejected before reaching
	// the native engine.
	KindInvalidArgument Kind = "invalid_argument"
	// KindTypeMismatch means decompressed data does not have the requested
	// shape.
	KindTypeMismatch Kind = "type_mismatch"
	// KindUnsupportedGraph means a graph has no one-shot selector and must
	// go through a Compressor instead.
	KindUnsupportedGraph Kind = "unsupported_graph"
	// KindAllocation means a native create function returned null.
	KindAllocation Kind = "allocation"
	// KindClosed means a handle or library was used after Close.
	KindClosed Kind = "closed"
	// KindLibrary means the shared library could not be loaded or bound.
	KindLibrary Kind = "library"
)

// CodeInvalidArgument is the code of errors raised by argument validation.
const CodeInvalidArgument = -1

// Error is the error type returned by every fallible operation.
type Error struct {
	Kind    Kind
	Code    int
	Name    string
	Context string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("openzl error: %d (%s)%s", e.Code, e.Name, e.Context)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrClosed) works
// regardless of code and context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Kind == t.Kind
}

// Sentinel errors for errors.Is.
var (
	ErrEngine           = &Error{Kind: KindEngine, Name: "engine error"}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument, Code: CodeInvalidArgument, Name: "invalid argument"}
	ErrTypeMismatch     = &Error{Kind: KindTypeMismatch, Code: CodeInvalidArgument, Name: "type mismatch"}
	ErrUnsupportedGraph = &Error{Kind: KindUnsupportedGraph, Code: CodeInvalidArgument, Name: "unsupported graph"}
	ErrAllocation       = &Error{Kind: KindAllocation, Code: CodeInvalidArgument, Name: "allocation failed"}
	ErrClosed           = &Error{Kind: KindClosed, Code: CodeInvalidArgument, Name: "handle closed"}
	ErrLibrary          = &Error{Kind: KindLibrary, Code: CodeInvalidArgument, Name: "library unavailable"}
)

const unknownErrorName = "unknown error code"

func codeToName(engine native.Engine, code int32) string {
	if name := engine.ErrorCodeToString(code); name != "" {
		return name
	}
	return unknownErrorName
}

// engineError converts a failed report. context is the owning context's
// diagnostic, if any.
func engineError(engine native.Engine, r native.Report, context string) *Error {
	e := &Error{
		Kind: KindEngine,
		Code: int(r.Code),
		Name: codeToName(engine, r.Code),
	}
	if context != "" {
		e.Context = "\n" + context
	}
	return e
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Code:    CodeInvalidArgument,
		Name:    "invalid argument",
		Context: ": " + fmt.Sprintf(format, args...),
	}
}

func typeMismatch(format string, args ...any) *Error {
	return &Error{
		Kind:    KindTypeMismatch,
		Code:    CodeInvalidArgument,
		Name:    "type mismatch",
		Context: ": " + fmt.Sprintf(format, args...),
	}
}

func allocationError(what string) *Error {
	return &Error{
		Kind:    KindAllocation,
		Code:    CodeInvalidArgument,
		Name:    "allocation failed",
		Context: ": " + what,
	}
}

func closedError(what string) *Error {
	return &Error{
		Kind:    KindClosed,
		Code:    CodeInvalidArgument,
		Name:    "handle closed",
		Context: ": " + what,
	}
}

// Warning is an advisory diagnostic attached to a context after an
// operation. Warnings never turn into errors.
type Warning struct {
	Code int
	Name string
}

func (w Warning) String() string {
	return fmt.Sprintf("%d (%s)", w.Code, w.Name)
}

// copyWarnings copies a native warning array. The array is only valid until
// the next call on the context that produced it.
func copyWarnings(engine native.Engine, arr native.ErrorArray) []Warning {
	elems := arr.Elements()
	if len(elems) == 0 {
		return nil
	}

	out := make([]Warning, len(elems))
	for i, e := range elems {
		out[i] = Warning{
			Code: int(e.Code),
			Name: codeToName(engine, e.Code),
		}
	}
	return out
}
