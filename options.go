package openzl

import (
	"io/fs"

	"go.uber.org/zap"

	"github.com/develerltd/openzl-purego/internal/native"
	"github.com/develerltd/openzl-purego/internal/options"
)

// DefaultFormatVersion is the frame format version requested from the engine
// unless WithFormatVersion overrides it.
const DefaultFormatVersion int32 = 21

// Environment variables consulted by Open when no explicit backend is
// configured.
const (
	EnvLibraryPath = "OPENZL_LIBRARY_PATH"
	EnvEngine      = "OPENZL_ENGINE"

	engineReference = "reference"
)

// Options contains the configuration of a Library.
type Options struct {
	FormatVersion    int32       // ZL_CParam_formatVersion set on every context
	CompressionLevel int32       // 0 keeps the engine default
	LibraryPath      string      // path of libopenzl to dlopen
	LibraryFS        fs.FS       // filesystem holding an embedded libopenzl
	LibraryFSPath    string      // path of the library inside LibraryFS
	ReferenceEngine  bool        // use the in-process reference engine
	Logger           *zap.Logger // nil uses the package logger

	engine native.Engine
}

// DefaultOptions returns the default library options
func DefaultOptions() Options {
	return Options{
		FormatVersion: DefaultFormatVersion,
	}
}

// Option configures a Library at Open.
type Option = options.Option[*Options]

// WithFormatVersion overrides DefaultFormatVersion.
func WithFormatVersion(version int32) Option {
	return options.New(func(o *Options) error {
		if version <= 0 {
			return invalidArgument("format version must be positive, got %d", version)
		}
		o.FormatVersion = version

		return nil
	})
}

// WithCompressionLevel sets ZL_CParam_compressionLevel on every compression
// context created by the one-call functions.
func WithCompressionLevel(level int32) Option {
	return options.New(func(o *Options) error {
		if level < 0 {
			return invalidArgument("compression level must not be negative, got %d", level)
		}
		o.CompressionLevel = level

		return nil
	})
}

// WithLogger sets the logger of this library only.
func WithLogger(logger *zap.Logger) Option {
	return options.NoError(func(o *Options) {
		o.Logger = logger
	})
}

// WithLibraryPath loads libopenzl from path.
func WithLibraryPath(path string) Option {
	return options.New(func(o *Options) error {
		if path == "" {
			return invalidArgument("empty library path")
		}
		o.LibraryPath = path

		return nil
	})
}

// WithLibraryFS extracts the library at path in fsys to a temporary
// directory and loads it from there. This is how an embed.FS carrying
// prebuilt libraries is used.
func WithLibraryFS(fsys fs.FS, path string) Option {
	return options.New(func(o *Options) error {
		if fsys == nil || path == "" {
			return invalidArgument("library filesystem and path are required")
		}
		o.LibraryFS = fsys
		o.LibraryFSPath = path

		return nil
	})
}

// WithReferenceEngine selects the in-process reference engine instead of
// libopenzl. Its frames cannot be read by libopenzl and vice versa.
func WithReferenceEngine() Option {
	return options.NoError(func(o *Options) {
		o.ReferenceEngine = true
	})
}

func withEngine(engine native.Engine) Option {
	return options.NoError(func(o *Options) {
		o.engine = engine
	})
}
