// Package version carries build metadata stamped in at link time via
// -ldflags "-X github.com/banshee-data/paramsweep/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the release version of the paramsweep binary.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for the -version flag.
func String() string {
	return fmt.Sprintf("paramsweep %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
