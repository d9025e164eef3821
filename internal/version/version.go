// Package version carries build identification stamped at link time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.0"
//
// Unstamped builds report "dev".
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
