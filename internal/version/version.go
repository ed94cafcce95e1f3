// Package version carries the build identity stamped into the corncob
// binary, falling back to Go build metadata for local builds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	AppName = "CornCob"

	// Version is overridden by release builds via ldflags.
	Version = "0.1.0-dev"

	// Revision is the VCS revision of the build.
	Revision = "HEAD"
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return
	}

	if Version == "0.1.0-dev" {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			Version = strings.TrimPrefix(v, "v")
		}
	}

	if Revision == "HEAD" {
		var rev, dirty string
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				rev = s.Value
			case "vcs.modified":
				if s.Value == "true" {
					dirty = "-dirty"
				}
			}
		}
		if rev != "" {
			Revision = rev + dirty
		}
	}
}

// Short returns `0.1.0 (5e23a4)`.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

// Detailed returns `0.1.0 (5e23a4; go1.23.6; linux/amd64)`.
func Detailed() string {
	return fmt.Sprintf("%s (%s; %s; %s/%s)",
		Version, Revision, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
