// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
)

// Release builds set these with -ldflags -X. When GitCommit is left
// at "unknown", the VCS stamp the go command embeds is used instead.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
)

// build is the resolved provenance of the running binary.
type build struct {
	commit string
	dirty  bool
	time   string
}

func resolve() build {
	b := build{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if b.commit != "unknown" {
		return b
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			b.commit = setting.Value
			if len(b.commit) > 12 {
				b.commit = b.commit[:12]
			}
		case "vcs.modified":
			b.dirty = setting.Value == "true"
		case "vcs.time":
			if b.time == "unknown" {
				b.time = setting.Value
			}
		}
	}
	return b
}

// Info is the one-line form used by --version: "0.1.0-dev (abc1234, 2026-01-01T00:00:00Z)".
func Info() string {
	b := resolve()
	commit := b.commit
	if b.dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, b.time)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "<binary> <Info>" to stdout.
func Print(binary string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", binary, Info())
}
