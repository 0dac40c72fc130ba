// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remoteconfig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/codec"
	"github.com/bureau-foundation/liveprobe/lib/probe"
)

// Response is the wire-format envelope for every control socket
// response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// ApplyRequest is the body of an "apply" request.
type ApplyRequest struct {
	Action   string      `cbor:"action"`
	ConfigID string      `cbor:"config_id"`
	Probe    probe.Probe `cbor:"probe"`
}

// RemoveRequest is the body of a "remove" request.
type RemoveRequest struct {
	Action   string `cbor:"action"`
	ConfigID string `cbor:"config_id"`
}

// actionFunc processes one request. raw is the full CBOR request,
// including the "action" field.
type actionFunc func(ctx context.Context, raw []byte) (any, error)

// readTimeout is how long we wait for the client to send its request.
const readTimeout = 30 * time.Second

// writeTimeout is how long we wait for the response to be written.
const writeTimeout = 10 * time.Second

// DefaultAckTimeout bounds how long an apply or remove waits for the
// worker's acknowledgment.
const DefaultAckTimeout = 30 * time.Second

// maxRequestSize is the maximum size of a single CBOR request. Probe
// definitions are a few kilobytes at most.
const maxRequestSize = 1024 * 1024

// Server serves the control protocol on a Unix socket. Each connection
// handles exactly one request-response cycle.
type Server struct {
	socketPath string
	registry   *Registry
	logger     *slog.Logger
	ackTimeout time.Duration
	handlers   map[string]actionFunc

	// activeConnections tracks in-flight request handlers for graceful
	// shutdown.
	activeConnections sync.WaitGroup
}

// NewServer creates a server for registry that will listen on
// socketPath. ackTimeout <= 0 means DefaultAckTimeout.
func NewServer(socketPath string, registry *Registry, ackTimeout time.Duration, logger *slog.Logger) *Server {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	server := &Server{
		socketPath: socketPath,
		registry:   registry,
		logger:     logger,
		ackTimeout: ackTimeout,
	}
	server.handlers = map[string]actionFunc{
		"apply":  server.handleApply,
		"remove": server.handleRemove,
		"list":   server.handleList,
	}
	return server
}

// Serve accepts connections until ctx is cancelled, then waits for
// active requests to complete. Any stale socket file is removed first;
// the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if header.Action == "" {
		s.writeResponse(conn, Response{Error: "missing required field: action"})
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("unknown action %q", header.Action)})
		return
	}

	result, err := handler(ctx, raw)
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeResponse(conn, Response{Error: err.Error()})
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeResponse(conn, Response{Error: fmt.Sprintf("internal: marshaling response: %v", err)})
			return
		}
		response.Data = data
	}
	s.writeResponse(conn, response)
}

// writeResponse encodes response. Write failures are logged at debug
// level; the connection is closing regardless.
func (s *Server) writeResponse(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) handleApply(ctx context.Context, raw []byte) (any, error) {
	var request ApplyRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid apply request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()
	if err := s.registry.Deliver(ctx, probe.Apply, request.ConfigID, request.Probe); err != nil {
		return nil, err
	}
	s.logger.Info("probe applied",
		"config_id", request.ConfigID,
		"probe_id", request.Probe.ID,
		"version", request.Probe.Version,
	)
	return nil, nil
}

func (s *Server) handleRemove(ctx context.Context, raw []byte) (any, error) {
	var request RemoveRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid remove request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()
	if err := s.registry.Deliver(ctx, probe.Remove, request.ConfigID, probe.Probe{}); err != nil {
		return nil, err
	}
	s.logger.Info("probe removed", "config_id", request.ConfigID)
	return nil, nil
}

func (s *Server) handleList(context.Context, []byte) (any, error) {
	return s.registry.List(), nil
}
