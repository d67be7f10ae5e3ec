package main

import (
	"runtime"

	"github.com/inferloop/tsforecast/internal/api"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
	Platform  = runtime.GOOS + "/" + runtime.GOARCH
)

// GetBuildInfo returns the values injected at build time via -ldflags
func GetBuildInfo() api.VersionInfo {
	return api.VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}
}
