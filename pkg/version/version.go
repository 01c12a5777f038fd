// Package version exposes the application version derived from build metadata.
//
// Priority: -ldflags override > VCS info from debug.BuildInfo > "dev" fallback.
package version

import "runtime/debug"

// AppName is the application name used in version strings and logging.
const AppName = "webpilot"

// versionOverride is set via -ldflags at build time for container builds
// where .git is unavailable. Empty string means no override.
var versionOverride string

// Version is the short git commit hash (8 chars) from build info.
// Set to "dev" when build info is unavailable.
var Version = initVersion()

func initVersion() string {
	if versionOverride != "" {
		if len(versionOverride) > 8 {
			return versionOverride[:8]
		}
		return versionOverride
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns "webpilot/<commit>" for use in user-agent strings and logging.
func Full() string {
	return AppName + "/" + Version
}
