package openzl

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"

	"github.com/develerltd/openzl-purego/internal/native"
	"github.com/develerltd/openzl-purego/internal/refengine"
)

// backend is a loaded engine together with what it takes to unload it.
type backend struct {
	engine  native.Engine
	name    string
	handle  uintptr
	tempDir string
}

// loadBackend resolves the engine in this order: an injected engine, the
// reference engine, an explicit path, an embedded filesystem, the
// OPENZL_LIBRARY_PATH variable, then the platform's default library names.
func loadBackend(o *Options, log *zap.Logger) (*backend, error) {
	if o.engine != nil {
		return &backend{engine: o.engine, name: "custom"}, nil
	}
	if o.ReferenceEngine || os.Getenv(EnvEngine) == engineReference {
		selectedBy := "option"
		if !o.ReferenceEngine {
			selectedBy = EnvEngine
		}
		log.Warn("using reference engine, frames are not readable by libopenzl",
			zap.String("selected_by", selectedBy))
		return &backend{engine: refengine.New(), name: "reference"}, nil
	}

	switch {
	case o.LibraryPath != "":
		return openNative(o.LibraryPath, "", log)
	case o.LibraryFS != nil:
		tempDir, libPath, err := extractLibrary(o.LibraryFS, o.LibraryFSPath)
		if err != nil {
			return nil, err
		}
		return openNative(libPath, tempDir, log)
	}

	if p := os.Getenv(EnvLibraryPath); p != "" {
		return openNative(p, "", log)
	}

	names, err := defaultLibraryNames()
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, name := range names {
		b, err := openNative(name, "", log)
		if err == nil {
			return b, nil
		}
		var lerr *Error
		if errors.As(err, &lerr) && lerr.Cause != nil {
			err = lerr.Cause
		}
		errs = append(errs, err)
	}

	return nil, libraryError(fmt.Errorf("no openzl library found, set %s: %w", EnvLibraryPath, errors.Join(errs...)))
}

func defaultLibraryNames() ([]string, error) {
	switch runtime.GOOS {
	case "linux", "freebsd":
		return []string{"libopenzl.so", "libopenzl.so.0"}, nil
	case "darwin":
		return []string{"libopenzl.dylib", "/opt/homebrew/lib/libopenzl.dylib", "/usr/local/lib/libopenzl.dylib"}, nil
	default:
		return nil, libraryError(fmt.Errorf("unsupported platform: %s/%s", runtime.GOOS, runtime.GOARCH))
	}
}

// openNative loads the shared library at libPath and binds every symbol.
// tempDir is removed when loading fails or when the backend is closed.
func openNative(libPath, tempDir string, log *zap.Logger) (*backend, error) {
	handle, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		removeTemp(tempDir)
		return nil, libraryError(fmt.Errorf("failed to load library %s: %w", libPath, err))
	}

	lib, err := native.Bind(handle)
	if err != nil {
		_ = purego.Dlclose(handle)
		removeTemp(tempDir)
		return nil, libraryError(fmt.Errorf("failed to bind library %s: %w", libPath, err))
	}

	log.Debug("loaded openzl library", zap.String("path", libPath))

	return &backend{
		engine:  lib,
		name:    libPath,
		handle:  handle,
		tempDir: tempDir,
	}, nil
}

// extractLibrary copies the library at libPath in fsys to a new temporary
// directory and makes it loadable.
func extractLibrary(fsys fs.FS, libPath string) (string, string, error) {
	// Create a temporary directory to extract the library
	tempDir, err := os.MkdirTemp("", "openzl-lib")
	if err != nil {
		return "", "", libraryError(fmt.Errorf("failed to create temp directory: %w", err))
	}

	libFile, err := fsys.Open(libPath)
	if err != nil {
		removeTemp(tempDir)
		return "", "", libraryError(fmt.Errorf("failed to open embedded library: %w", err))
	}
	defer libFile.Close()

	tempLibPath := filepath.Join(tempDir, path.Base(libPath))
	outFile, err := os.Create(tempLibPath)
	if err != nil {
		removeTemp(tempDir)
		return "", "", libraryError(fmt.Errorf("failed to create temp file: %w", err))
	}

	_, err = io.Copy(outFile, libFile)
	closeErr := outFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		removeTemp(tempDir)
		return "", "", libraryError(fmt.Errorf("failed to write temp library file: %w", err))
	}

	// Set execution permissions for the library
	if err := os.Chmod(tempLibPath, 0o755); err != nil {
		removeTemp(tempDir)
		return "", "", libraryError(fmt.Errorf("failed to set library permissions: %w", err))
	}

	return tempDir, tempLibPath, nil
}

// close releases the shared library and cleans up temporary files
func (b *backend) close() error {
	var err error
	if b.handle != 0 {
		err = purego.Dlclose(b.handle)
		b.handle = 0
	}
	removeTemp(b.tempDir)
	b.tempDir = ""

	return err
}

func removeTemp(dir string) {
	if dir != "" {
		_ = os.RemoveAll(dir)
	}
}

func libraryError(cause error) *Error {
	return &Error{
		Kind:  KindLibrary,
		Code:  CodeInvalidArgument,
		Name:  "library unavailable",
		Cause: cause,
	}
}
