// Package version carries the build version, set at link time:
//
//	go build -ldflags "-X nowplaying/internal/version.Version=1.2.0" ./cmd/nowplaying
package version

import (
	"runtime/debug"
	"strings"
)

var Version = "dev"

// Info is returned by the version endpoint.
type Info struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Revision  string `json:"revision,omitempty"`
}

func Current() Info {
	info := Info{Version: strings.TrimPrefix(Version, "v")}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			info.Revision = s.Value
		}
	}
	return info
}
