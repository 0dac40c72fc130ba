// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remoteconfig

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/codec"
	"github.com/bureau-foundation/liveprobe/lib/probe"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response
// after writing the request. It exceeds DefaultAckTimeout so a slow
// acknowledgment surfaces as the server's error, not a client timeout.
const responseReadTimeout = DefaultAckTimeout + readTimeout

// maxResponseSize matches the server's maxRequestSize.
const maxResponseSize = 1024 * 1024

// ServiceError is returned when the server responds with ok=false.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("control error on %q: %s", e.Action, e.Message)
}

// ControlClient talks to a [Server]. Each call opens a new connection.
type ControlClient struct {
	socketPath string
}

// NewControlClient returns a client for the control socket at socketPath.
func NewControlClient(socketPath string) *ControlClient {
	return &ControlClient{socketPath: socketPath}
}

// Apply applies p under configID and waits for the worker's
// acknowledgment.
func (c *ControlClient) Apply(ctx context.Context, configID string, p probe.Probe) error {
	return c.call(ctx, "apply", ApplyRequest{Action: "apply", ConfigID: configID, Probe: p}, nil)
}

// Remove removes the probe applied under configID.
func (c *ControlClient) Remove(ctx context.Context, configID string) error {
	return c.call(ctx, "remove", RemoveRequest{Action: "remove", ConfigID: configID}, nil)
}

// List returns the applied configurations.
func (c *ControlClient) List(ctx context.Context) ([]Applied, error) {
	var applied []Applied
	if err := c.call(ctx, "list", map[string]any{"action": "list"}, &applied); err != nil {
		return nil, err
	}
	return applied, nil
}

// call sends request and decodes the response data into result when
// both are present. A server-side failure is a *ServiceError;
// connection and encoding failures are plain errors.
func (c *ControlClient) call(ctx context.Context, action string, request, result any) error {
	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func (c *ControlClient) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close so the server's read side sees EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	deadline := time.Now().Add(responseReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
