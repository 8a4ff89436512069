package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type buildInfo struct {
	Version, Commit, Date string
}

// currentBuild returns the linker-stamped values, filling any left at their
// defaults from the module build info recorded by the Go toolchain.
func currentBuild() buildInfo {
	b := buildInfo{Version: version, Commit: commit, Date: date}
	if info, ok := debug.ReadBuildInfo(); ok {
		b = b.fillFrom(info)
	}
	return b
}

func (b buildInfo) fillFrom(info *debug.BuildInfo) buildInfo {
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	modified, fromVCS := false, false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit, fromVCS = s.Value, true
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if modified && fromVCS {
		b.Commit += "-dirty"
	}
	return b
}

func (b buildInfo) String() string {
	return fmt.Sprintf("timebox %s (commit: %s, built: %s)", b.Version, b.Commit, b.Date)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(currentBuild())
	},
}
