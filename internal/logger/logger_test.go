package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-trade-collector/internal/config"
	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
)

type bufferCloser struct {
	bytes.Buffer
}

func (*bufferCloser) Close() error { return nil }

func decodeLines(t *testing.T, buf *bufferCloser) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug").String())
	assert.Equal(t, "WARN", parseLogLevel("warning").String())
	assert.Equal(t, "ERROR", parseLogLevel("ERROR").String())
	assert.Equal(t, "INFO", parseLogLevel("bogus").String())
}

func TestLoggerManager_JSONOutput(t *testing.T) {
	buf := &bufferCloser{}
	lm := newLoggerManager(config.LoggingConfig{
		Level:         "info",
		Format:        "json",
		ContextFields: map[string]string{"service": "tradesync"},
	}, buf)

	lm.GetLogger().Debug("hidden")
	lm.GetComponentLogger("exchange").Info("page fetched", "trades", 2)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "page fetched", entries[0]["msg"])
	assert.Equal(t, "exchange", entries[0]["component"])
	assert.Equal(t, "tradesync", entries[0]["service"])
	assert.EqualValues(t, 2, entries[0]["trades"])
}

func TestLoggerManager_ComponentCache(t *testing.T) {
	lm := newLoggerManager(config.LoggingConfig{Level: "info"}, &bufferCloser{})

	a := lm.GetComponentLogger("collector")
	b := lm.GetComponentLogger("collector")
	assert.Same(t, a.Logger, b.Logger)
	assert.NotSame(t, a.Logger, lm.GetComponentLogger("storage").Logger)
}

func TestContextAttributes(t *testing.T) {
	buf := &bufferCloser{}
	lm := newLoggerManager(config.LoggingConfig{Level: "debug", Format: "json"}, buf)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithPair(ctx, "ETHEUR")
	ctx = WithOperation(ctx, "sync")

	assert.Same(t, lm.GetLogger(), FromContext(context.Background(), lm.GetLogger()))

	FromContext(ctx, lm.GetLogger()).Info("hello")
	FromContext(ctx, lm.GetComponentLogger("collector").Logger).Info("world")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "run-1", e["run_id"])
		assert.Equal(t, "ETHEUR", e["pair"])
		assert.Equal(t, "sync", e["operation"])
	}
	assert.Equal(t, "collector", entries[1]["component"])
}

func TestLogError_IncludesKind(t *testing.T) {
	buf := &bufferCloser{}
	lm := newLoggerManager(config.LoggingConfig{Level: "info", Format: "json"}, buf)

	err := apperrors.Exchange("Trades", []string{"EQuery:Unknown asset pair"})
	LogErrorWithContext(WithPair(context.Background(), "FOOBAR"), lm.GetLogger(), err, "sync failed")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "exchange", entries[0]["error_kind"])
	assert.Equal(t, "FOOBAR", entries[0]["pair"])
	assert.Contains(t, entries[0]["error"], "EQuery:Unknown asset pair")
	assert.Equal(t, []any{"EQuery:Unknown asset pair"}, entries[0]["exchange_errors"])
}

func TestLogOperation(t *testing.T) {
	buf := &bufferCloser{}
	lm := newLoggerManager(config.LoggingConfig{Level: "info", Format: "json"}, buf)
	cl := lm.GetComponentLogger("cli")

	require.NoError(t, cl.LogOperation(context.Background(), "assets", func() error { return nil }))
	err := cl.LogOperation(context.Background(), "sync", func() error {
		return apperrors.Transport("GET Trades", fmt.Errorf("connection refused"))
	})
	require.Error(t, err)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "operation completed", entries[0]["msg"])
	assert.Equal(t, "operation failed", entries[1]["msg"])
	assert.Equal(t, "transport", entries[1]["error_kind"])
	assert.Equal(t, "sync", entries[1]["operation"])
	assert.NotContains(t, entries[1], "exchange_errors")
}

func TestNewLoggerManager_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tradesync.log")

	lm, err := NewLoggerManager(config.LoggingConfig{
		Level:      "info",
		Format:     "text",
		Output:     "file",
		FilePath:   path,
		MaxSize:    1,
		MaxBackups: 1,
	})
	require.NoError(t, err)

	lm.GetLogger().Info("rotating file output")
	require.NoError(t, lm.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotating file output")
}

func TestNewLoggerManager_FileOutputRequiresPath(t *testing.T) {
	_, err := NewLoggerManager(config.LoggingConfig{Output: "file"})
	assert.Error(t, err)
}

func TestNewLoggerManager_UnsupportedOutput(t *testing.T) {
	_, err := NewLoggerManager(config.LoggingConfig{Output: "syslog"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syslog")
}
