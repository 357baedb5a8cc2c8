// Package version provides version information for the application.
package version

import (
	"fmt"
	"runtime"
)

// These variables are set during build time via ldflags:
//
//	-X github.com/goclaw/sagaflow/pkg/version.Version=v1.2.3
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Info returns a map with all version information.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
		"goVersion": GoVersion,
	}
}

// String returns a one-line build description.
func String() string {
	commit := GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("%s (commit %s, built %s, %s)", Version, commit, BuildTime, GoVersion)
}
