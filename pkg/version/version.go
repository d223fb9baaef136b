// Package version holds build metadata injected at link time with
// -ldflags "-X github.com/Sumatoshi-tech/chainstat/pkg/version.Version=...".
package version

import (
	"fmt"
	"runtime/debug"
)

const (
	develVersion  = "(devel)"
	revisionKey   = "vcs.revision"
	timeKey       = "vcs.time"
	shortRevision = 12
)

// Build metadata. Unset values are filled by InitBinaryVersion.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// InitBinaryVersion fills Version, Commit and Date from the embedded module
// build info when they were not set by the linker.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "dev" && info.Main.Version != "" && info.Main.Version != develVersion {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case revisionKey:
			if Commit == "none" {
				Commit = setting.Value[:min(len(setting.Value), shortRevision)]
			}
		case timeKey:
			if Date == "unknown" {
				Date = setting.Value
			}
		}
	}
}

// String formats the build metadata for display.
func String() string {
	return fmt.Sprintf("chainstat %s (commit: %s, built: %s)", Version, Commit, Date)
}
