// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/liveprobe/lib/codec"
)

// ErrClosed is returned by Send after Close, and by Receive once the
// endpoint is closed locally.
var ErrClosed = errors.New("channel: endpoint closed")

// drainTimeout bounds how long Close waits for queued messages to be
// written to a peer that is not reading.
const drainTimeout = 2 * time.Second

// Endpoint is one side of a channel pair. Send and Close are safe for
// concurrent use; Receive must be called from a single goroutine.
type Endpoint struct {
	conn    net.Conn
	decoder *codec.Decoder

	mu       sync.Mutex
	wake     *sync.Cond
	outbound *queue.Queue // of []byte
	closed   bool
	writeErr error

	writerDone chan struct{}
	closeOnce  sync.Once
}

// Pair creates a channel pair. The returned Endpoint is retained by
// the caller; the returned file is the peer side, to be handed to the
// worker and closed by the caller once the worker holds its own copy.
func Pair() (*Endpoint, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating socketpair: %w", err)
	}

	localFile := os.NewFile(uintptr(fds[0]), "channel-local")
	remoteFile := os.NewFile(uintptr(fds[1]), "channel-remote")

	local, err := FromFile(localFile)
	if err != nil {
		remoteFile.Close()
		return nil, nil, err
	}
	return local, remoteFile, nil
}

// FromFile wraps an inherited or transferred socket in an Endpoint.
// The file is consumed: FromFile closes it after duplicating the
// descriptor into a net.Conn.
func FromFile(file *os.File) (*Endpoint, error) {
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("wrapping %s: %w", file.Name(), err)
	}
	return newEndpoint(conn), nil
}

func newEndpoint(conn net.Conn) *Endpoint {
	endpoint := &Endpoint{
		conn:       conn,
		decoder:    codec.NewDecoder(conn),
		outbound:   queue.New(),
		writerDone: make(chan struct{}),
	}
	endpoint.wake = sync.NewCond(&endpoint.mu)
	go endpoint.writeLoop()
	return endpoint
}

// Send encodes message and queues it for the peer. It returns an error
// if the message cannot be encoded, the endpoint is closed, or an
// earlier write already failed (the peer is gone).
func (e *Endpoint) Send(message any) error {
	data, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.writeErr != nil {
		return e.writeErr
	}
	e.outbound.Add(data)
	e.wake.Signal()
	return nil
}

// Pending returns the number of queued messages not yet written.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outbound.Length()
}

// writeLoop drains the outbound queue onto the socket in FIFO order.
// After Close it keeps writing until the queue is empty, then exits.
func (e *Endpoint) writeLoop() {
	defer close(e.writerDone)

	for {
		e.mu.Lock()
		for e.outbound.Length() == 0 && !e.closed {
			e.wake.Wait()
		}
		if e.outbound.Length() == 0 {
			e.mu.Unlock()
			return
		}
		data := e.outbound.Remove().([]byte)
		e.mu.Unlock()

		if _, err := e.conn.Write(data); err != nil {
			e.mu.Lock()
			e.writeErr = fmt.Errorf("writing to peer: %w", err)
			for e.outbound.Length() > 0 {
				e.outbound.Remove()
			}
			e.mu.Unlock()
			return
		}
	}
}

// Receive blocks until the next message arrives and returns its raw
// CBOR encoding. It returns io.EOF when the peer closes its side and
// ErrClosed after a local Close. A frame that is not well-formed CBOR
// desynchronises the stream, so the error is returned and the caller
// should stop reading.
func (e *Endpoint) Receive() (codec.RawMessage, error) {
	var raw codec.RawMessage
	if err := e.decoder.Decode(&raw); err != nil {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return raw, nil
}

// Serve calls handle for every received message until the peer closes
// or the endpoint is closed locally, which both return nil. Any other
// receive error is returned.
func (e *Endpoint) Serve(handle func(codec.RawMessage)) error {
	for {
		raw, err := e.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		handle(raw)
	}
}

// Close stops accepting messages, flushes what is already queued
// (bounded by a short deadline for a peer that is not reading), and
// closes the socket. Subsequent calls are no-ops.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.wake.Broadcast()
		e.mu.Unlock()

		e.conn.SetWriteDeadline(time.Now().Add(drainTimeout)) //nolint:realclock kernel deadline
		<-e.writerDone
		err = e.conn.Close()
	})
	return err
}
