package version

import (
	"fmt"
	"runtime"
)

// Build information set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// BuildInfo contains all build-related information
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information of the running binary
func Get() BuildInfo {
	v := Version
	if v == "dev" && GitCommit != "unknown" && len(GitCommit) >= 8 {
		v = "dev-" + GitCommit[:8]
	}
	return BuildInfo{
		Version:   v,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, go: %s)", b.Version, b.GitCommit, b.BuildDate, b.GoVersion)
}
