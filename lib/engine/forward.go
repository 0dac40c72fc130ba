// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/channel"
	"github.com/bureau-foundation/liveprobe/lib/ipc"
)

// ForwardingHandler is a slog.Handler that sends every enabled record
// over the log channel as an [ipc.LogRecord], so the worker's logs end
// up in the host's logger. Attribute values are flattened to strings,
// numbers and booleans; groups become dotted key prefixes.
//
// Handlers derived via WithAttrs/WithGroup share the endpoint and the
// level.
type ForwardingHandler struct {
	endpoint *channel.Endpoint
	level    slog.Leveler
	args     []any
	prefix   string
}

// NewForwardingHandler creates a handler writing to endpoint. A nil
// level means slog.LevelInfo.
func NewForwardingHandler(endpoint *channel.Endpoint, level slog.Leveler) *ForwardingHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ForwardingHandler{endpoint: endpoint, level: level}
}

func (handler *ForwardingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

// Handle sends the record. A send failure (the host is gone) is
// returned and otherwise ignored by slog.
func (handler *ForwardingHandler) Handle(_ context.Context, record slog.Record) error {
	args := make([]any, 0, len(handler.args)+2*record.NumAttrs())
	args = append(args, handler.args...)
	record.Attrs(func(attr slog.Attr) bool {
		args = appendAttr(args, handler.prefix, attr)
		return true
	})
	return handler.endpoint.Send(ipc.LogRecord{
		Level:   record.Level,
		Message: record.Message,
		Args:    args,
	})
}

func (handler *ForwardingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	args := append([]any(nil), handler.args...)
	for _, attr := range attrs {
		args = appendAttr(args, handler.prefix, attr)
	}
	return &ForwardingHandler{
		endpoint: handler.endpoint,
		level:    handler.level,
		args:     args,
		prefix:   handler.prefix,
	}
}

func (handler *ForwardingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	return &ForwardingHandler{
		endpoint: handler.endpoint,
		level:    handler.level,
		args:     append([]any(nil), handler.args...),
		prefix:   handler.prefix + name + ".",
	}
}

// appendAttr appends attr as a key and a CBOR-safe value.
func appendAttr(args []any, prefix string, attr slog.Attr) []any {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, member := range value.Group() {
			args = appendAttr(args, groupPrefix, member)
		}
		return args
	}
	if attr.Key == "" {
		return args
	}
	return append(args, prefix+attr.Key, plainValue(value))
}

func plainValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindInt64:
		return value.Int64()
	case slog.KindUint64:
		return value.Uint64()
	case slog.KindFloat64:
		return value.Float64()
	case slog.KindBool:
		return value.Bool()
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().Format(time.RFC3339Nano)
	}
	switch typed := value.Any().(type) {
	case error:
		return typed.Error()
	case fmt.Stringer:
		return typed.String()
	case []string:
		return strings.Join(typed, ",")
	default:
		return fmt.Sprint(typed)
	}
}
