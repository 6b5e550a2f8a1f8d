// Package version reports which build of testrig is running. The commit
// hash comes from an -ldflags override when one is set, falls back to the
// VCS stamp in the module build info, and degrades to "dev" for test and
// non-git builds.
package version

import "runtime/debug"

// AppName identifies the binary in logs and the system-info endpoint.
const AppName = "testrig"

// commit may be injected at build time, for container builds without .git:
//
//	-ldflags "-X github.com/testrig-ai/testrig/pkg/version.commit=<sha>"
var commit string

// GitCommit is this build's short commit hash, or "dev".
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commit == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
					break
				}
			}
		}
	}
	if commit == "" {
		return "dev"
	}
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// Full renders "testrig/<commit>" for startup logging.
func Full() string { return AppName + "/" + GitCommit }
