package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, time.Second, cfg.Sync.Debounce)
	assert.Equal(t, 5*time.Second, cfg.Sync.FlushInterval)
	assert.Equal(t, 30*time.Second, cfg.Sync.NetworkTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Snapshot.AutoTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Snapshot.ManualTTL)
	assert.True(t, cfg.Retention.PreserveActive)
	assert.Equal(t, 50, cfg.Workflow.ForceSaveActions)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNC_DEBOUNCE", "250ms")
	t.Setenv("SYNC_DISPATCH_RATE", "2.5")
	t.Setenv("RETENTION_PRESERVE_RECENT", "false")
	t.Setenv("RETENTION_MAX_SESSIONS", "not-a-number")
	t.Setenv("GO_ENV", "production")

	cfg := Load()

	assert.Equal(t, 250*time.Millisecond, cfg.Sync.Debounce)
	assert.Equal(t, 2.5, cfg.Sync.DispatchRate)
	assert.False(t, cfg.Retention.PreserveRecent)
	assert.Equal(t, 0, cfg.Retention.MaxSessionsToKeep)
	assert.True(t, cfg.IsProduction())
}
