// Package version reports the pdscope build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/willibrandon/pdscope/pkg/version.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// GetVersion returns the release version, or the module version recorded by
// the Go toolchain when the binary was built with go install.
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return Version
}

// GetBuildTime returns the build time, falling back to the VCS commit time.
func GetBuildTime() string {
	if BuildTime != "unknown" {
		return BuildTime
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.time" {
				return s.Value
			}
		}
	}
	return BuildTime
}

// GetVersionInfo returns the one-line banner printed by the CLI.
func GetVersionInfo() string {
	return fmt.Sprintf("pdscope %s (built: %s, %s/%s, %s)",
		GetVersion(), GetBuildTime(), runtime.GOOS, runtime.GOARCH, runtime.Version())
}
