// Package buildinfo derives the client identifier sent in every request.
package buildinfo

import (
	"runtime/debug"
	"strings"
)

const (
	Name            = "twsync"
	FallbackVersion = "local-dev"
)

// Version may be set at link time with -ldflags "-X ...buildinfo.Version=v1.2.3".
var Version string

// ClientID returns "twsync <version>".
func ClientID() string {
	return Name + " " + resolveVersion(Version, debug.ReadBuildInfo)
}

func resolveVersion(linked string, read func() (*debug.BuildInfo, bool)) string {
	if v := strings.TrimSpace(linked); v != "" {
		return v
	}
	info, ok := read()
	if !ok || info == nil {
		return FallbackVersion
	}
	v := strings.TrimSpace(info.Main.Version)
	if v == "" || v == "(devel)" {
		return FallbackVersion
	}
	return v
}
