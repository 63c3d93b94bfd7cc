package observability

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
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := GlobalLogger
	buf := &bytes.Buffer{}
	SetLogger(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { GlobalLogger = prev })
	return buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestSetLogger_IgnoresNil(t *testing.T) {
	prev := GlobalLogger
	SetLogger(nil)
	assert.Same(t, prev, GlobalLogger)
}

func TestWSLogger_EventEntries(t *testing.T) {
	buf := captureLogs(t)
	l := NewWSLogger("events")
	ctx := WithCorrelationID(context.Background(), "corr-1")

	l.LogMessage(ctx, "conn-1", "", "bind_identity")
	l.LogError(ctx, "conn-1", "alice", errors.New("disk on fire"), "join_room")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "websocket event", entries[0]["msg"])
	assert.Equal(t, "DEBUG", entries[0]["level"])
	assert.Equal(t, "bind_identity", entries[0]["event_type"])
	assert.Equal(t, "", entries[0]["user_id"])

	assert.Equal(t, "websocket event failed", entries[1]["msg"])
	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Equal(t, "events", entries[1]["hub"])
	assert.Equal(t, "corr-1", entries[1]["correlation_id"])
	assert.Equal(t, "alice", entries[1]["user_id"])
	assert.Equal(t, "join_room", entries[1]["event_type"])
	assert.Equal(t, "disk on fire", entries[1]["error"])
}

func TestWSLogger_Disabled(t *testing.T) {
	buf := captureLogs(t)
	prev := Config
	Config.EnableWSLogging = false
	t.Cleanup(func() { Config = prev })

	NewWSLogger("events").LogError(context.Background(), "conn-1", "alice", errors.New("x"), "typing")
	assert.Empty(t, buf.String())
}
