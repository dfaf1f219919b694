package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T, level LogLevel, format string) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewLogger(Config{
		Level:  level,
		Output: &buf,
		Format: format,
	})
	require.NoError(t, err)
	return logger, &buf
}

func TestLogLevels(t *testing.T) {
	logger, buf := newBufferedLogger(t, LogLevelNormal, "text")

	logger.Debug("hidden at normal")
	logger.Info("visible info")
	logger.Error("visible error")

	out := buf.String()
	assert.NotContains(t, out, "hidden at normal")
	assert.Contains(t, out, "visible info")
	assert.Contains(t, out, "visible error")
}

func TestQuietSuppressesInfo(t *testing.T) {
	logger, buf := newBufferedLogger(t, LogLevelQuiet, "text")

	logger.Info("should not appear")
	logger.Warn("should not appear either")
	logger.Error("errors still surface")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "errors still surface")
}

func TestSetLevel(t *testing.T) {
	logger, buf := newBufferedLogger(t, LogLevelNormal, "text")
	assert.False(t, logger.IsLevelEnabled(LogLevelVerbose))

	logger.SetLevel(LogLevelVerbose)
	assert.Equal(t, LogLevelVerbose, logger.GetLevel())
	assert.True(t, logger.IsLevelEnabled(LogLevelVerbose))

	logger.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferedLogger(t, LogLevelNormal, "json")

	logger.WithField("backup_type", "full").Info("backup done")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "backup done", entry["msg"])
	assert.Equal(t, "full", entry["backup_type"])
}

func TestLogBackupOperation(t *testing.T) {
	logger, buf := newBufferedLogger(t, LogLevelNormal, "json")

	logger.LogBackupOperation("incremental", "/backups/x.tar.gz", 4, 2048, 120*time.Millisecond, nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Backup completed", entry["msg"])
	assert.Equal(t, "incremental", entry["backup_type"])
	assert.Equal(t, float64(4), entry["files_count"])

	buf.Reset()
	logger.LogBackupOperation("full", "", 0, 0, time.Millisecond, errors.New("disk full"))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Backup failed", entry["msg"])
	assert.Equal(t, "disk full", entry["error"])
}

func TestLogHealthCheckSeverityRouting(t *testing.T) {
	logger, buf := newBufferedLogger(t, LogLevelNormal, "text")

	logger.LogHealthCheck(10, 0, 0, time.Millisecond)
	assert.Contains(t, buf.String(), "Health check passed")

	buf.Reset()
	logger.LogHealthCheck(10, 2, 0, time.Millisecond)
	assert.Contains(t, buf.String(), "Health check found warnings")

	buf.Reset()
	logger.LogHealthCheck(10, 2, 1, time.Millisecond)
	assert.Contains(t, buf.String(), "critical")
}

func TestLogOperationStart(t *testing.T) {
	logger, buf := newBufferedLogger(t, LogLevelVerbose, "text")

	done := logger.LogOperationStart("cleanup", map[string]interface{}{"retention_days": 30})
	done(nil)

	out := buf.String()
	assert.Contains(t, out, "Operation started")
	assert.Contains(t, out, "Operation completed")
	assert.True(t, strings.Contains(out, "cleanup"))
}
