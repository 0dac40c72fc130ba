// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/liveprobe/lib/clock"
)

// BatchShipper uploads one encoded batch.
type BatchShipper interface {
	Ship(ctx context.Context, data []byte) error
}

// PermanentError marks a rejected batch that retrying cannot fix, such
// as a 400 from the intake. The shipper drops the batch instead of
// backing off.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("intake rejected batch with status %d: %s", e.StatusCode, e.Body)
}

// httpShipper POSTs batches as JSON, optionally zstd-compressed, no
// faster than its limiter allows.
type httpShipper struct {
	client  *http.Client
	url     string
	limiter *rate.Limiter

	// encoder is nil when compression is off. EncodeAll is safe for
	// concurrent use.
	encoder *zstd.Encoder
}

func (s *httpShipper) Ship(ctx context.Context, data []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	body := data
	if s.encoder != nil {
		body = s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Body: err.Error()}
	}
	request.Header.Set("Content-Type", "application/json")
	if s.encoder != nil {
		request.Header.Set("Content-Encoding", "zstd")
	}

	response, err := s.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return nil
	case response.StatusCode == http.StatusRequestTimeout,
		response.StatusCode == http.StatusTooManyRequests,
		response.StatusCode >= 500:
		return fmt.Errorf("intake returned status %d: %s", response.StatusCode, bytes.TrimSpace(detail))
	default:
		return &PermanentError{StatusCode: response.StatusCode, Body: string(bytes.TrimSpace(detail))}
	}
}

// Backoff between failed uploads of the same batch: doubles from
// initialBackoff up to maxBackoff and resets after a success.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// shipperCounters are read concurrently by Exporter.Stats.
type shipperCounters struct {
	shipped   atomic.Uint64
	rejected  atomic.Uint64
	oversized atomic.Uint64
}

// runShipper drains buffer through shipper until ctx is cancelled,
// then makes one final best-effort drain pass.
func runShipper(ctx context.Context, buffer *Buffer, shipper BatchShipper, clk clock.Clock, counters *shipperCounters, logger *slog.Logger) {
	backoff := initialBackoff

	for {
		select {
		case <-buffer.Notify():
		case <-ctx.Done():
			drainBuffer(buffer, shipper, counters, logger)
			return
		}

		for {
			data := buffer.Peek()
			if data == nil {
				break
			}

			err := shipper.Ship(ctx, data)
			var permanent *PermanentError
			switch {
			case err == nil:
				buffer.Pop()
				counters.shipped.Add(1)
				backoff = initialBackoff
				continue
			case errors.As(err, &permanent):
				logger.Error("intake rejected diagnostics batch, dropping it", "error", err, "bytes", len(data))
				buffer.Pop()
				counters.rejected.Add(1)
				continue
			case ctx.Err() != nil:
				drainBuffer(buffer, shipper, counters, logger)
				return
			}

			logger.Warn("diagnostics upload failed, will retry",
				"error", err,
				"backoff", backoff,
				"buffer_entries", buffer.Len(),
			)
			select {
			case <-clk.After(backoff):
			case <-ctx.Done():
				drainBuffer(buffer, shipper, counters, logger)
				return
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// drainTimeout bounds the whole shutdown drain pass.
const drainTimeout = 5 * time.Second

// drainBuffer ships what is left after shutdown and gives up at the
// first failure.
func drainBuffer(buffer *Buffer, shipper BatchShipper, counters *shipperCounters, logger *slog.Logger) {
	drainContext, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		data := buffer.Peek()
		if data == nil {
			return
		}
		if err := shipper.Ship(drainContext, data); err != nil {
			logger.Warn("drain: diagnostics upload failed, abandoning remaining",
				"error", err,
				"remaining", buffer.Len(),
			)
			return
		}
		buffer.Pop()
		counters.shipped.Add(1)
	}
}
