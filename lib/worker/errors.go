// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"errors"
	"fmt"
)

// ErrNotStarted fails acknowledgments that arrive while no worker is
// running.
var ErrNotStarted = errors.New("worker not started")

// UnexpectedExitError reports a worker that ended without Stop.
type UnexpectedExitError struct {
	Code int
}

func (e *UnexpectedExitError) Error() string {
	return fmt.Sprintf("worker exited unexpectedly with code %d", e.Code)
}

// RemoteError is a failure reported by the worker in an
// acknowledgment.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
