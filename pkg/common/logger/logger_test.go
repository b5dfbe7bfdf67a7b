package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesStructuredRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	traceID := func(context.Context) string { return "abc123" }
	log := NewWithMetadata(&buf, LevelInfo, "controller", traceID, Events{}, map[string]string{"pod": "p-1"})

	log.With("component", "engine").Info(context.Background(), "cycle complete", "processed", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "cycle complete", rec["msg"])
	assert.Equal(t, "controller", rec["service"])
	assert.Equal(t, "p-1", rec["pod"])
	assert.Equal(t, "engine", rec["component"])
	assert.Equal(t, "abc123", rec["trace_id"])
	assert.EqualValues(t, 3, rec["processed"])
}

func TestLogger_RespectsMinLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "controller", nil)

	log.Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLogger_ErrorEventFires(t *testing.T) {
	t.Parallel()

	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}

	var buf bytes.Buffer
	log := NewWithEvents(&buf, LevelDebug, "controller", nil, events)
	log.Error(context.Background(), "boom", "task_uuid", "t-1")

	assert.Equal(t, "boom", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "t-1", got.Attributes["task_uuid"])
}

func TestNoop_DiscardsEverything(t *testing.T) {
	t.Parallel()

	log := Noop().With("component", "x")
	assert.NotPanics(t, func() {
		log.Error(context.Background(), "ignored")
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
