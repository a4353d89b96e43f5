// Package version reports how a mapview binary was built: its own version,
// the store backends it carries and the versions of the libraries those
// backends and declarative views run on.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/Aman-CERP/mapview/internal/config"
)

// Set via ldflags: -X github.com/Aman-CERP/mapview/pkg/version.Version=...
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Engines are the modules whose versions decide on-disk and expression
// compatibility, keyed by the role they play.
var Engines = map[string]string{
	config.BackendBadger: "github.com/dgraph-io/badger/v4",
	config.BackendSQLite: "modernc.org/sqlite",
	"cel":                "github.com/google/cel-go",
}

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string            `json:"version"`
	Commit    string            `json:"commit"`
	Date      string            `json:"date"`
	GoVersion string            `json:"go_version"`
	Platform  string            `json:"platform"`
	Backends  []string          `json:"backends"`
	Engines   map[string]string `json:"engines"`
}

// GetInfo returns structured version information. Engine versions are
// "unknown" when the binary carries no module information, as in tests.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Backends:  []string{config.BackendBadger, config.BackendSQLite, config.BackendMemory},
		Engines:   make(map[string]string, len(Engines)),
	}
	for role := range Engines {
		info.Engines[role] = "unknown"
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for role, ver := range engineVersions(bi.Deps) {
			info.Engines[role] = ver
		}
	}
	return info
}

func engineVersions(deps []*debug.Module) map[string]string {
	out := make(map[string]string)
	for _, d := range deps {
		if d.Replace != nil {
			d = d.Replace
		}
		for role, path := range Engines {
			if d.Path == path {
				out[role] = d.Version
			}
		}
	}
	return out
}

// String returns a one-line summary.
func String() string {
	info := GetInfo()
	return fmt.Sprintf("mapview %s (commit: %s, built: %s, %s, %s, backends: %s)",
		info.Version, info.Commit, info.Date, info.GoVersion, info.Platform, strings.Join(info.Backends, ", "))
}

// Short returns just the version string.
func Short() string {
	return Version
}
