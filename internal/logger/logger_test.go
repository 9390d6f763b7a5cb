package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogLoggerWritesStructuredFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("datastore").Module("sqlite")

	log.With(String("dialect", "sqlite")).Info("opened", Int("tables", 2), Bool("migrated", true))
	log.Trace("hidden")

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "opened", lines[0]["msg"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "datastore.sqlite", lines[0]["module"])
	assert.Equal(t, "sqlite", lines[0]["dialect"])
	assert.InDelta(t, 2, lines[0]["tables"], 0)
	assert.Equal(t, true, lines[0]["migrated"])
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, nil)
	ctx := WithTraceID(context.Background(), "req-42")

	log.WithContext(ctx).Warn("slow upload", Error(assert.AnError))

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "req-42", lines[0]["trace_id"])
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, assert.AnError.Error(), lines[0]["error"])
}

func TestParseSlogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LevelTrace, parseSlogLevel("TRACE"))
	assert.Equal(t, parseSlogLevel(LogLevelWarn), parseSlogLevel("warning"))
	assert.Equal(t, parseSlogLevel(LogLevelInfo), parseSlogLevel("nonsense"))
}

func TestCentralLoggerModuleLevels(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "warn",
		Timezone:     "UTC",
		FileOutput:   FileOutput{Enabled: true, Path: path, Level: "trace"},
		ModuleLevels: map[string]string{"analysis": "debug"},
	})
	require.NoError(t, err)

	cl.Module("analysis").Module("zip").Debug("member extracted")
	cl.Module("api").Info("dropped")
	cl.Module("api").Error("kept")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := decodeLines(t, data)
	require.Len(t, lines, 2)
	assert.Equal(t, "analysis.zip", lines[0]["module"])
	assert.Equal(t, "kept", lines[1]["msg"])
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus_Mons"})
	require.Error(t, err)
}

func TestGormAdapterTrace(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	adapter := NewGormLoggerAdapter(NewSlogLogger(buf, LogLevelTrace, time.UTC), 10*time.Millisecond)
	sql := func() (string, int64) { return "SELECT 1", 1 }

	adapter.Trace(context.Background(), time.Now(), sql, nil)
	adapter.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	adapter.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	adapter.Trace(context.Background(), time.Now(), sql, assert.AnError)

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 4)
	assert.Equal(t, "sql query", lines[0]["msg"])
	assert.Equal(t, "TRACE", lines[0]["level"])
	assert.Equal(t, "slow query", lines[1]["msg"])
	assert.Equal(t, "sql query", lines[2]["msg"])
	assert.Equal(t, "query error", lines[3]["msg"])
}
