// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSetup(t *testing.T) {
	t.Run("stamps service identity on every record", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Setup("gatehouse", "1.2.3", "json", &buf)

		logger.Info("hello")

		entry := parseLogLine(t, &buf)
		assert.Equal(t, "gatehouse", entry["service"])
		assert.Equal(t, "1.2.3", entry["version"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("includes trace context when present", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Setup("gatehouse", "dev", "json", &buf)

		traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
		spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
		ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID,
			SpanID:  spanID,
		}))

		logger.InfoContext(ctx, "traced")

		entry := parseLogLine(t, &buf)
		assert.Equal(t, traceID.String(), entry["trace_id"])
		assert.Equal(t, spanID.String(), entry["span_id"])
	})

	t.Run("omits trace fields without a span", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Setup("gatehouse", "dev", "json", &buf)

		logger.InfoContext(context.Background(), "untraced")

		entry := parseLogLine(t, &buf)
		assert.NotContains(t, entry, "trace_id")
		assert.NotContains(t, entry, "span_id")
	})

	t.Run("text format produces readable output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Setup("gatehouse", "dev", "text", &buf)

		logger.Info("hello")

		assert.Contains(t, buf.String(), "msg=hello")
		assert.Contains(t, buf.String(), "service=gatehouse")
	})

	t.Run("attributes survive WithAttrs", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Setup("gatehouse", "dev", "json", &buf)

		logger.With("component", "auth").Info("scoped")

		entry := parseLogLine(t, &buf)
		assert.Equal(t, "gatehouse", entry["service"])
		assert.Equal(t, "auth", entry["component"])
	})

	t.Run("debug level is enabled", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Setup("gatehouse", "dev", "json", &buf)

		assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	})
}
