// Package version holds the build identifiers of the running binary.
package version

// Build is the fixed build-version string reported to the dashboard as appVersion.
// Overridden at link time with -ldflags "-X deskshell/internal/version.Build=...".
var Build = "8081"

// Semantic is the release version compared against the update feed.
var Semantic = "1.0.0"
