// Package version holds the build version string.
package version

// Version is the application version. Overridden at build time via
// -ldflags "-X github.com/aristath/croupier/internal/version.Version=..."
var Version = "dev"
