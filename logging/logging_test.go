package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: level, Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })
	return &buf
}

func TestInitWritesJSON(t *testing.T) {
	buf := capture(t, "debug")
	Info().Str(KeyModel, "Ridge").Msg("search finished")

	out := buf.String()
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"model.name":"Ridge"`)
	assert.Contains(t, out, "search finished")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	} {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestWatermillAdapter(t *testing.T) {
	buf := capture(t, "debug")
	var a watermill.LoggerAdapter = NewWatermillAdapter()
	a = a.With(watermill.LogFields{"topic": "requests"})
	a.Error("handler failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	out := buf.String()
	assert.Contains(t, out, `"topic":"requests"`)
	assert.Contains(t, out, `"attempt":2`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"component":"watermill"`)
}

func TestSlogHandler(t *testing.T) {
	buf := capture(t, "info")
	logger := NewSlogLogger().WithGroup("supervisor").With("service", "queue")
	logger.Info("restarting", "attempt", 3)
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, `"supervisor.service":"queue"`)
	assert.Contains(t, out, `"supervisor.attempt":3`)
	assert.NotContains(t, out, "hidden")

	assert.False(t, NewSlogHandler().Enabled(context.Background(), slog.LevelDebug))
}
