// Package version reports the SDK version embedded in the binary.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	modulePath = "pkt.systems/hsearch"
	// Name is the product token sent in the User-Agent header.
	Name = "hsearch-go"
)

// buildVersion can be pinned with -ldflags "-X pkt.systems/hsearch/internal/version.buildVersion=v1.2.3".
var buildVersion = ""

// Current returns the release tag, a pseudo-version derived from VCS stamps,
// or v0.0.0-unknown.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "v0.0.0-unknown"
	}
	// When embedded as a dependency the SDK shows up in Deps, not Main.
	for _, dep := range info.Deps {
		if dep.Path == modulePath && dep.Version != "" {
			return dep.Version
		}
	}
	if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
		return v
	}
	if v := vcsPseudoVersion(info.Settings); v != "" {
		return v
	}
	return "v0.0.0-unknown"
}

// Module returns the main module path of the running binary.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if p := strings.TrimSpace(info.Main.Path); p != "" {
			return p
		}
	}
	return modulePath
}

// Runtime describes the Go toolchain and platform, e.g. "go1.25.1; linux/amd64".
func Runtime() string {
	return runtime.Version() + "; " + runtime.GOOS + "/" + runtime.GOARCH
}

func vcsPseudoVersion(settings []debug.BuildSetting) string {
	var rev, stamp string
	dirty := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.time":
			stamp = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" || stamp == "" {
		return ""
	}
	ts, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	v := "v0.0.0-" + ts.UTC().Format("20060102150405") + "-" + rev
	if dirty {
		v += "+dirty"
	}
	return v
}
