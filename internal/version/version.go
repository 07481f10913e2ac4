// Package version exposes build metadata injected via -ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/ivan2020J/nozier/internal/version.Version=1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Short returns the bare version string without a leading "v".
func Short() string {
	return strings.TrimPrefix(Version, "v")
}

// Info returns a one-line human readable description of the build.
func Info() string {
	return fmt.Sprintf("nozier %s (commit %s, built %s, %s/%s, %s)",
		Short(), GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// Map returns the build metadata as a map, suitable for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version":    Short(),
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
