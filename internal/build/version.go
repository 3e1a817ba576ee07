package build

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Version numbering follows semantic versioning. The pre-release tag marks
// the whole series as unstable.
const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	appPreRelease = "beta"
)

var (
	// Commit is the full commit hash, set by the linker at build time.
	Commit string

	// CommitHash is the abbreviated commit hash, set by the linker.
	CommitHash string

	// RawTags is the comma-separated list of build tags, set by the
	// linker.
	RawTags string

	// GoVersion is the Go toolchain the binary was built with.
	GoVersion string
)

func init() {
	if GoVersion != "" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		GoVersion = info.GoVersion
	}
}

// Version returns the application version as a properly formed string.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, appPreRelease)
	}

	return version
}

// Tags returns the build tags compiled into this binary.
func Tags() []string {
	if RawTags == "" {
		return nil
	}

	return strings.Split(RawTags, ",")
}
