// Package version holds build information set at link time.
package version

import "fmt"

// Set with -ldflags "-X email-hook-go/internal/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// UserAgent is sent with every webhook request.
func UserAgent() string {
	return "email-hook/" + Version
}

// String describes the build.
func String() string {
	return fmt.Sprintf("email-hook %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
