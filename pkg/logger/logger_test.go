package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestErrorCarriesScopedFields(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "api", Level: zerolog.DebugLevel, Output: &buf})

	ctx := logg.WithRequestID(context.Background(), "req-7")
	ctx = logg.WithFields(ctx, map[string]any{"order_id": "o-1", "provider": "stripe"})
	logg.Error(ctx, "settlement failed", errors.New("provider down"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "api", e["service"])
	assert.Equal(t, "req-7", e["request_id"])
	assert.Equal(t, "o-1", e["order_id"])
	assert.Equal(t, "stripe", e["provider"])
	assert.Equal(t, "provider down", e["error"])
	assert.NotEmpty(t, e["stack"])
}

func TestScopedFieldsDoNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "api", Output: &buf})

	parent := logg.WithOrderID(context.Background(), "o-1")
	_ = logg.WithProvider(parent, "wallet")
	logg.Info(parent, "parent")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0], "provider")
}

func TestWarnStackIsOptIn(t *testing.T) {
	var quiet, loud bytes.Buffer
	New(Options{Output: &quiet}).Warn(context.Background(), "slow provider")
	New(Options{Output: &loud, WarnStack: true}).Warn(context.Background(), "slow provider")

	assert.NotContains(t, decodeLines(t, &quiet)[0], "stack")
	assert.Contains(t, decodeLines(t, &loud)[0], "stack")
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{Output: &buf})
	logg.Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
}
