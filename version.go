package openzl

import "fmt"

// Version information for the library
const (
	// Version is the semantic version of the library
	Version = "0.1.0"
)

// CommitHash can be set during build using ldflags
var CommitHash = "unknown"

// VersionInfo returns a formatted string with version, build and default
// frame format information
func VersionInfo() string {
	return fmt.Sprintf("%s (commit: %s, format version %d)", Version, CommitHash, DefaultFormatVersion)
}
