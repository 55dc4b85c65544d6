// Package version exposes the application version derived from build
// metadata: -ldflags override first, then VCS info from debug.BuildInfo,
// then a "dev" fallback.
package version

import "runtime/debug"

// AppName is used in version strings and log lines.
const AppName = "weft"

// gitCommitOverride is set via -ldflags for builds where .git is
// unavailable.
var gitCommitOverride string

// GitCommit is the short git commit hash, or "dev" when build info is
// unavailable (e.g. go test).
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "weft/<commit>" for log lines and user-agent strings.
func Full() string {
	return AppName + "/" + GitCommit
}
