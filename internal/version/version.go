// Package version holds the build identity of the rtm binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time:
// go build -ldflags "-X rtm/internal/version.Version=0.3.0 -X rtm/internal/version.Commit=abc123"
var (
	Version   = "0.3.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// revision falls back to the VCS revision stamped by the go tool when
// ldflags did not set Commit.
func revision() string {
	if Commit != "unknown" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return Commit
}

// Info returns the short version string.
func Info() string {
	if c := revision(); c != "unknown" && len(c) > 7 {
		return Version + " (" + c[:7] + ")"
	}
	return Version
}

// Full returns the multi-line version report. schema is the database
// schema version this build migrates to.
func Full(schema int) string {
	return fmt.Sprintf("rtm version %s\nCommit: %s\nBuilt: %s\nSchema: v%d\nGo: %s",
		Version, revision(), BuildDate, schema, runtime.Version())
}
