// Package build holds the version information stamped into the binary at
// link time.
package build

var (
	// Version is the semantic release version, overridden via ldflags.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = ""

	// Date is the build timestamp.
	Date = ""
)
