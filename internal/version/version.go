package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule  = "pkt.systems/eclkernel"
	unknownVersion = "v0.0.0-unknown"
)

// buildVersion is set via -ldflags "-X pkt.systems/eclkernel/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running kernel binary.
type Info struct {
	Module   string
	Version  string
	Revision string
	Dirty    bool
}

// Read collects Info from the linker override and the embedded build info.
func Read() Info {
	bi, _ := debug.ReadBuildInfo()
	return fromBuildInfo(bi, buildVersion)
}

// Implementation returns the version reported in kernel_info replies.
func Implementation() string {
	return Read().Implementation()
}

// String renders the version with a "+dirty" marker for modified trees.
func (i Info) String() string {
	if i.Dirty {
		return i.Version + "+dirty"
	}
	return i.Version
}

// Implementation is the semver core without the leading "v". Pseudo-versions
// collapse to "0.0.0".
func (i Info) Implementation() string {
	v := strings.TrimPrefix(i.Version, "v")
	if core, _, ok := strings.Cut(v, "-"); ok && core == "0.0.0" {
		return core
	}
	return v
}

func fromBuildInfo(bi *debug.BuildInfo, override string) Info {
	info := Info{Module: defaultModule, Version: unknownVersion}
	var stamp time.Time
	if bi != nil {
		if path := strings.TrimSpace(bi.Main.Path); path != "" {
			info.Module = path
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Revision = s.Value
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			case "vcs.time":
				stamp, _ = time.Parse(time.RFC3339, s.Value)
			}
		}
		switch v := strings.TrimSpace(bi.Main.Version); {
		case v != "" && v != "(devel)":
			info.Version = v
		case info.Revision != "" && !stamp.IsZero():
			info.Version = pseudoVersion(info.Revision, stamp)
		}
	}
	if v := strings.TrimSpace(override); v != "" {
		info.Version = v
	}
	if v, ok := strings.CutSuffix(info.Version, "+dirty"); ok {
		info.Version = v
		info.Dirty = true
	}
	return info
}

// pseudoVersion formats a Go-style pseudo-version from a VCS stamp.
func pseudoVersion(revision string, at time.Time) string {
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return "v0.0.0-" + at.UTC().Format("20060102150405") + "-" + revision
}
