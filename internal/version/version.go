// Package version reports the pi-island build.
package version

import (
	"fmt"
	"runtime/debug"
)

// Name is the binary name.
const Name = "pi-island"

// Version is stamped by the release build:
// -ldflags="-X github.com/soporteakasiapro1-art/pi-island/internal/version.Version=v1.0.0"
var Version = ""

// Info is the build metadata printed by `pi-island version --json`.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

// GetInfo returns the build metadata.
func GetInfo() Info {
	info := Info{Name: Name, Version: Get()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		info.Revision, info.Modified = vcs(bi)
	}
	return info
}

// Get returns the stamped version, the module version for `go install`
// builds, or dev-<revision> for local checkouts. A dirty tree adds "+dirty".
func Get() string {
	if Version != "" {
		return Version
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	return devVersion(vcs(bi))
}

func devVersion(rev string, modified bool) string {
	v := "dev"
	if len(rev) >= 7 {
		v += "-" + rev[:7]
	}
	if modified {
		v += "+dirty"
	}
	return v
}

func vcs(bi *debug.BuildInfo) (rev string, modified bool) {
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	return rev, modified
}

// String returns the one-line version banner.
func String() string {
	return fmt.Sprintf("%s version %s", Name, Get())
}
