package version

import (
	"fmt"
	"runtime/debug"
)

var (
	tag       = "dev" // set via ldflags
	commit    = "123abc"
	buildTime = "now"
)

const (
	repoURL  = "https://github.com/noot-app/allergen-scanner"
	template = "%s (%s) built at %s\n" + repoURL + "/releases/tag/%s"
)

// buildInfoReader is a function type that can be mocked in tests
var buildInfoReader = defaultBuildInfoReader

// defaultBuildInfoReader is the actual implementation using debug.ReadBuildInfo
func defaultBuildInfoReader() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}

// resolve returns the commit and build time, preferring ldflags over VCS stamps
func resolve() (string, string) {
	currentCommit := commit
	currentDate := buildTime

	info, ok := buildInfoReader()
	if ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && commit == "123abc" {
				currentCommit = setting.Value
			}
			if setting.Key == "vcs.time" && buildTime == "now" {
				currentDate = setting.Value
			}
		}
	}
	return currentCommit, currentDate
}

func String() string {
	currentCommit, currentDate := resolve()
	return fmt.Sprintf(template, tag, currentCommit, currentDate, tag)
}

// Tag returns the release tag the binary was built from
func Tag() string {
	return tag
}

// UserAgent identifies this client to upstream food databases
func UserAgent() string {
	return fmt.Sprintf("allergen-scanner/%s (+%s)", tag, repoURL)
}
