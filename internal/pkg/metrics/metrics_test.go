package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetQueueDepth(3)
		m.ObserveOperation("chat_message", "completed")
		m.ObserveSaveStatus("saved")
		m.ObserveSnapshot("auto")
		m.ObserveCleanup(2)
		m.ObserveRestoreFailure("viewer")
		m.AddWSConnections(1)
	})
	assert.Nil(t, m.Registry())
}

func TestCollectorsRecord(t *testing.T) {
	m := New()

	m.SetQueueDepth(4)
	m.ObserveOperation("viewer_state", "retry")
	m.ObserveOperation("viewer_state", "retry")
	m.ObserveCleanup(3)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("viewer_state", "retry")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsCleaned))

	// Two instances must not collide on registration.
	assert.NotPanics(t, func() { New() })
}
