// Package version holds the build version of taskload.
package version

import (
	"runtime/debug"
	"strings"
)

// Version is overridden at build time with -ldflags "-X ...version.Version=x.y.z"
var Version = "0.1.0"

// String returns the version, preferring the module version stamped by
// go install when the default was not overridden
func String() string {
	if Version != "0.1.0" {
		return strings.TrimPrefix(Version, "v")
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return strings.TrimPrefix(v, "v")
		}
	}
	return Version
}

// UserAgent is sent with every request to the task manager
func UserAgent() string {
	return "taskload/" + String()
}
