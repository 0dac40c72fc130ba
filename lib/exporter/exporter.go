// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/liveprobe/lib/clock"
)

// DiagnosticsPath is appended to the intake URL for probe status
// uploads.
const DiagnosticsPath = "/debugger/v1/diagnostics"

// Compression values for Config.Compression.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Config configures an Exporter.
type Config struct {
	// URL receives every batch as a POST.
	URL string

	// Client performs the uploads. Nil means http.DefaultClient.
	Client *http.Client

	// BufferBytes bounds the batches waiting for upload. Zero means
	// 16 MiB.
	BufferBytes int

	// UploadsPerSecond limits the request rate. Zero or negative
	// means unlimited.
	UploadsPerSecond float64

	// Compression is CompressionNone (or empty) or CompressionZstd.
	Compression string

	// Clock times the retry backoff. Nil means clock.Real().
	Clock clock.Clock

	Logger *slog.Logger

	// shipper replaces the HTTP shipper in tests.
	shipper BatchShipper
}

// Exporter uploads JSON batches in the background. Export is the
// batching queue's flush callback: it only enqueues, so it never
// blocks on the network.
type Exporter struct {
	buffer   *Buffer
	counters shipperCounters
	logger   *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	encoder *zstd.Encoder
}

// Stats is a snapshot of an Exporter's counters.
type Stats struct {
	// Shipped batches were accepted by the intake.
	Shipped uint64
	// Dropped batches were evicted from a full buffer or were too
	// large to buffer at all.
	Dropped uint64
	// Rejected batches were refused by the intake with a permanent
	// error.
	Rejected uint64
	// Pending batches are buffered and not yet shipped.
	Pending int
}

// New starts an Exporter's shipper goroutine. Close stops it.
func New(cfg Config) (*Exporter, error) {
	if cfg.BufferBytes <= 0 {
		cfg.BufferBytes = 16 << 20
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	exporter := &Exporter{
		buffer: NewBuffer(cfg.BufferBytes),
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}

	shipper := cfg.shipper
	if shipper == nil {
		if cfg.URL == "" {
			return nil, fmt.Errorf("exporter: URL is required")
		}
		httpShipper := &httpShipper{
			client:  cfg.Client,
			url:     cfg.URL,
			limiter: rate.NewLimiter(rate.Inf, 1),
		}
		if httpShipper.client == nil {
			httpShipper.client = http.DefaultClient
		}
		if cfg.UploadsPerSecond > 0 {
			httpShipper.limiter = rate.NewLimiter(rate.Limit(cfg.UploadsPerSecond), 1)
		}
		switch strings.ToLower(cfg.Compression) {
		case "", CompressionNone:
		case CompressionZstd:
			encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
			if err != nil {
				return nil, fmt.Errorf("exporter: creating zstd encoder: %w", err)
			}
			httpShipper.encoder = encoder
			exporter.encoder = encoder
		default:
			return nil, fmt.Errorf("exporter: unknown compression %q", cfg.Compression)
		}
		shipper = httpShipper
	}

	ctx, cancel := context.WithCancel(context.Background())
	exporter.cancel = cancel
	go func() {
		defer close(exporter.done)
		runShipper(ctx, exporter.buffer, shipper, cfg.Clock, &exporter.counters, exporter.logger)
		if exporter.encoder != nil {
			exporter.encoder.Close()
		}
	}()
	return exporter, nil
}

// Export buffers one JSON batch for upload. A batch larger than the
// whole buffer is dropped and logged.
func (e *Exporter) Export(payload string) {
	if err := e.buffer.Push([]byte(payload)); err != nil {
		e.counters.oversized.Add(1)
		e.logger.Error("dropping diagnostics batch", "error", err)
	}
}

// Stats returns the current counters.
func (e *Exporter) Stats() Stats {
	return Stats{
		Shipped:  e.counters.shipped.Load(),
		Dropped:  e.buffer.Dropped() + e.counters.oversized.Load(),
		Rejected: e.counters.rejected.Load(),
		Pending:  e.buffer.Len(),
	}
}

// Close stops the shipper after a final drain pass over the buffered
// batches and waits for it, or for ctx, whichever comes first.
func (e *Exporter) Close(ctx context.Context) error {
	e.closeOnce.Do(e.cancel)
	select {
	case <-e.done:
	case <-ctx.Done():
		return fmt.Errorf("exporter: drain did not finish: %w", ctx.Err())
	}
	return nil
}
