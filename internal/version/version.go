// Package version carries the build identity stamped into the railmind
// binary. Release builds override these through -ldflags, for example:
//
//	go build -ldflags "-X github.com/rail-mind/railmind/internal/version.Version=v1.2.0"
package version

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
