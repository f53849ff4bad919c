// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quorumshare.
//
// go-quorumshare is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quorumshare/pkg/correlation"
)

func newBufferLogger(buf *bytes.Buffer, level Level) *SlogAdapter {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: levelToSlogLevel(level)})
	return NewSlogAdapter(&SlogConfig{Handler: handler, Level: level})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewSlogAdapter_NilConfig(t *testing.T) {
	adapter := NewSlogAdapter(nil)
	require.NotNil(t, adapter)
	assert.NotNil(t, adapter.logger)
	assert.NotNil(t, adapter.fields)
}

func TestSlogAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, LevelDebug)

	log.Info("challenge issued",
		String("kind", "share_recovery"),
		Int("nonce_size", 32),
		Int64("expires_at", 1700000000000),
		Bool("ok", true),
		Error(errors.New("boom")),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "challenge issued", lines[0]["msg"])
	assert.Equal(t, "share_recovery", lines[0]["kind"])
	assert.Equal(t, float64(32), lines[0]["nonce_size"])
	assert.Equal(t, true, lines[0]["ok"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestSlogAdapter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, LevelWarn)

	log.Debug("debug")
	log.Info("info")
	log.Warn("warn")
	log.Error("error")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["msg"])
	assert.Equal(t, "error", lines[1]["msg"])
}

func TestSlogAdapter_WithDoesNotDuplicate(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, LevelInfo)

	child := log.With(String("component", "lifecycle")).WithError(errors.New("denied"))
	child.Info("rejected")

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, `"component":"lifecycle"`))
	assert.Contains(t, out, `"error":"denied"`)
}

func TestSlogAdapter_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf, LevelInfo)

	ctx := correlation.WithCorrelationID(context.Background(), "corr-1")
	ctx = correlation.WithAttemptID(ctx, "attempt-1")

	log.InfoContext(ctx, "opened")
	FromContext(ctx, log).Warn("expired")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Equal(t, "corr-1", l["correlation_id"])
		assert.Equal(t, "attempt-1", l["attempt_id"])
	}
}

func TestRedacted(t *testing.T) {
	secret := []byte("super secret share")
	f := Redacted("share", secret)
	assert.Equal(t, "share", f.Key)
	assert.NotContains(t, f.Value, "super")
	assert.Equal(t, "[redacted 18 bytes]", f.Value)
}

func TestNew_Formats(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer
	New(&jsonBuf, LevelInfo, "json").Info("hello", String("k", "v"))
	New(&textBuf, LevelInfo, "text").Info("hello", String("k", "v"))

	assert.Contains(t, jsonBuf.String(), `"k":"v"`)
	assert.Contains(t, textBuf.String(), "k=v")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, "UNKNOWN", got.String())
		})
	}
}

func TestNop(t *testing.T) {
	log := NewNop()
	log.Info("ignored")
	assert.NotNil(t, log.With(String("a", "b")))
	assert.NotNil(t, log.WithError(errors.New("x")))
	assert.NotNil(t, FromContext(context.Background(), nil))
}
