// Package version reports the voxhub release, suffixed with the VCS revision
// the binary was built from when it is not a tagged release build.
package version

import (
	"runtime/debug"
)

// Set at release time with -ldflags "-X github.com/fmueller/voxhub/internal/version.Version=...".
var (
	Version = "0.1.0"
	Commit  = ""
)

func Resolve() string {
	return resolveVersion(Version, Commit, debug.ReadBuildInfo)
}

func resolveVersion(base, commit string, buildInfo func() (*debug.BuildInfo, bool)) string {
	if base == "" {
		base = "0.0.0"
	}
	if commit != "" {
		return base
	}

	revision, dirty := vcsRevision(buildInfo)
	if revision == "" {
		return base
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		revision += "-dirty"
	}
	return base + "-" + revision
}

func vcsRevision(buildInfo func() (*debug.BuildInfo, bool)) (string, bool) {
	info, ok := buildInfo()
	if !ok || info == nil {
		return "", false
	}

	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return revision, dirty
}
