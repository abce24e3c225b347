package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSlogLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     LogLevel
		logFunc   func(Logger)
		wantEmpty bool
	}{
		{"debug suppressed at info", LogLevelInfo, func(l Logger) { l.Debug("hidden") }, true},
		{"info written at info", LogLevelInfo, func(l Logger) { l.Info("shown") }, false},
		{"trace written at trace", LogLevelTrace, func(l Logger) { l.Trace("shown") }, false},
		{"warn suppressed at error", LogLevelError, func(l Logger) { l.Warn("hidden") }, true},
		{"explicit level respected", LogLevelWarn, func(l Logger) { l.Log(LogLevelDebug, "hidden") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.logFunc(NewSlogLogger(buf, tt.level, time.UTC))
			if tt.wantEmpty {
				assert.Empty(t, buf.String())
			} else {
				assert.NotEmpty(t, buf.String())
			}
		})
	}
}

func TestTraceLevelRendersAsTrace(t *testing.T) {
	buf := &bytes.Buffer{}
	NewSlogLogger(buf, LogLevelTrace, time.UTC).Trace("sql query")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestModuleAndFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).
		Module("consensus").
		Module("engine").
		With(Int64("subject_id", 12))

	log.Info("score pass done", Float64("score", 0.123456), Duration("elapsed", 1500*time.Millisecond))

	out := buf.String()
	assert.Contains(t, out, "module=consensus.engine")
	assert.Contains(t, out, "subject_id=12")
	assert.Contains(t, out, "score=0.123")
	assert.Contains(t, out, "elapsed=1.5s")
}

func TestWithContextAddsTraceID(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	ctx := WithTraceID(context.Background(), "run-42")
	log.WithContext(ctx).Info("run started")
	log.WithContext(context.Background()).Info("no trace")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id=run-42")
	assert.NotContains(t, lines[1], "trace_id")
}

func TestErrorField(t *testing.T) {
	assert.Nil(t, Error(nil).Value)

	f := Error(assert.AnError)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, assert.AnError.Error(), f.Value)
}

func TestCentralLoggerRoutesModulesToFiles(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.log")
	promotionPath := filepath.Join(dir, "promotion.log")

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: mainPath, Level: "info"},
		ModuleOutputs: map[string]ModuleOutput{
			"promotion": {Enabled: true, FilePath: promotionPath, Level: "debug"},
		},
		ModuleLevels: map[string]string{"datastore": "warn"},
	})
	require.NoError(t, err)

	cl.Module("consensus").Info("consensus line", Int("users", 3))
	cl.Module("promotion").Debug("promotion line")
	cl.Module("datastore").Info("suppressed line")

	require.NoError(t, cl.Close())

	mainLines := readJSONLines(t, mainPath)
	require.Len(t, mainLines, 1)
	assert.Equal(t, "consensus line", mainLines[0]["msg"])
	assert.Equal(t, "consensus", mainLines[0]["module"])
	assert.InDelta(t, 3, mainLines[0]["users"], 0)

	promotionLines := readJSONLines(t, promotionPath)
	require.Len(t, promotionLines, 1)
	assert.Equal(t, "promotion line", promotionLines[0]["msg"])
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus_Mons"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timezone")
}

func TestBufferedFileWriterCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffered.log")
	w, err := NewBufferedFileWriter(path, WithFlushInterval(10*time.Millisecond))
	require.NoError(t, err)

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestGormLoggerAdapterTrace(t *testing.T) {
	buf := &bytes.Buffer{}
	adapter := NewGormLoggerAdapter(NewSlogLogger(buf, LogLevelTrace, time.UTC), 50*time.Millisecond)

	sqlFn := func() (string, int64) { return "SELECT 1", 1 }

	adapter.Trace(context.Background(), time.Now(), sqlFn, nil)
	assert.Contains(t, buf.String(), "sql query")

	buf.Reset()
	adapter.Trace(context.Background(), time.Now().Add(-time.Second), sqlFn, nil)
	assert.Contains(t, buf.String(), "slow query")

	buf.Reset()
	adapter.Trace(context.Background(), time.Now(), sqlFn, gorm.ErrRecordNotFound)
	assert.Contains(t, buf.String(), "sql query")
	assert.NotContains(t, buf.String(), "query error")

	buf.Reset()
	adapter.Trace(context.Background(), time.Now(), sqlFn, assert.AnError)
	assert.Contains(t, buf.String(), "query error")
}

func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.NoError(t, scanner.Err())
	return lines
}
