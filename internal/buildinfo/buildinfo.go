// Package buildinfo holds version metadata stamped at link time.
package buildinfo

// Set via -ldflags "-X github.com/modoterra/idevlog/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
