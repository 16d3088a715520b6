package info

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

var (
	name    = "quiesced"
	version = "dev build"

	info     *Info
	loadInfo sync.Once
)

// Info holds the programs meta information.
type Info struct {
	Name    string
	Version string

	GoVersion string
	Platform  string

	Commit     string
	CommitTime string
	Dirty      bool
}

// Set sets meta information via the main routine.
// It must be called before GetInfo is first used.
func Set(setName string, setVersion string) {
	if setName != "" {
		name = setName
	}
	if setVersion != "" {
		version = strings.TrimPrefix(setVersion, "v")
	}
}

// GetInfo returns all the meta information about the program.
func GetInfo() *Info {
	loadInfo.Do(func() {
		info = &Info{
			Name:       name,
			Version:    version,
			GoVersion:  runtime.Version(),
			Platform:   runtime.GOOS + "/" + runtime.GOARCH,
			Commit:     "unknown",
			CommitTime: "unknown",
		}

		buildInfo, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range buildInfo.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.Commit = setting.Value
			case "vcs.time":
				info.CommitTime = setting.Value
			case "vcs.modified":
				info.Dirty = setting.Value == "true"
			}
		}
	})

	return info
}

// Version returns the annotated version.
func Version() string {
	return GetInfo().Version
}

// FullVersion returns the full and detailed version string.
func FullVersion() string {
	info := GetInfo()
	builder := new(strings.Builder)

	fmt.Fprintf(builder, "%s %s\n", info.Name, info.Version)
	fmt.Fprintf(builder, "\nbuilt with %s for %s\n", info.GoVersion, info.Platform)

	dirtyInfo := "clean"
	if info.Dirty {
		dirtyInfo = "dirty"
	}
	fmt.Fprintf(builder, "\ncommit %s (%s)\n", info.Commit, dirtyInfo)
	fmt.Fprintf(builder, "  at %s", info.CommitTime)

	return builder.String()
}
