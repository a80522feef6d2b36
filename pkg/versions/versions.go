// Package versions provides version information for the CLI.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

const unknownStr = "unknown"

// Version information set by build using -ldflags.
var (
	Version   = "dev"
	Commit    = unknownStr
	BuildDate = unknownStr
)

// VersionInfo represents the version information of the CLI.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version information, filling in what it can
// from the embedded build info when not set at link time.
func GetVersionInfo() VersionInfo {
	version, commit, buildDate := Version, Commit, BuildDate

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if commit == unknownStr {
					commit = setting.Value
				}
			case "vcs.time":
				if buildDate == unknownStr {
					buildDate = setting.Value
				}
			}
		}
	}

	if version == "dev" {
		short := commit
		if len(short) > 8 {
			short = short[:8]
		}
		version = "build-" + short
	}

	if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
