// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Liveprobe is the operator CLI for a running liveprobe-agent. It
// talks to the agent's control socket:
//
//	liveprobe apply probes.json        apply every probe in a JSON/JSONC file
//	liveprobe remove <config-id>...    remove applied configurations
//	liveprobe list                     show what is applied
//
// apply and remove return only once the agent's worker has
// acknowledged the change, so a zero exit status means the probe is
// installed (or removed). Output is a table on a terminal and JSON
// otherwise; --json forces JSON.
package main
