package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolatedLoggerGetLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l := NewIsolatedLogger(path)

	l.Info("chat", "user_message", map[string]interface{}{"session_id": "s1"})
	l.Info("chat", "ai_response", map[string]interface{}{"session_id": "s1"})
	l.Error("chat", "workflow_error", map[string]interface{}{"error": "boom"})
	require.NoError(t, l.Sync())

	all, err := l.GetLogs(LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "workflow_error", all[0].Message)
	assert.Equal(t, "chat", all[0].Module)

	errs, err := l.GetLogs(LogFilter{Level: "ERROR", Limit: 10})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "boom", errs[0].Details["error"])

	responses, err := l.GetLogs(LogFilter{Message: "ai_response", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, responses, 1)

	page, err := l.GetLogs(LogFilter{Limit: 1, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestNopLoggerGetLogs(t *testing.T) {
	l := NewNopLogger()
	l.Info("m", "ignored", nil)

	logs, err := l.GetLogs(LogFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestGetLogsFiltersByModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := NewIsolatedLogger(path)

	l.Info("SYNC_QUEUE", "Operation completed", nil)
	l.Warn("AGGREGATOR", "Flush deferred", map[string]interface{}{"session_id": "s1"})
	l.Debug("AGGREGATOR", "below file level", nil)
	require.NoError(t, l.Sync())

	entries, err := l.GetLogs(LogFilter{Module: "AGGREGATOR"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0].Level)
	assert.Equal(t, "s1", entries[0].Details["session_id"])
}
