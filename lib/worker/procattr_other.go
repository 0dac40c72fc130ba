// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package worker

import "syscall"

// sysProcAttr returns no special attributes. Without Pdeathsig the
// worker notices a dead agent when its control channel reaches EOF.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
