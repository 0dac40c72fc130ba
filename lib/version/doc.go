// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which build of liveprobe is running.
//
//	go build -ldflags "-X github.com/bureau-foundation/liveprobe/lib/version.Version=1.2.0 \
//	    -X github.com/bureau-foundation/liveprobe/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
