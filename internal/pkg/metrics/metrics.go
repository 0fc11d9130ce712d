// Package metrics exposes the engine's Prometheus collectors. Every method
// is safe on a nil *Metrics so engines can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	QueueDepth        prometheus.Gauge
	OperationsTotal   *prometheus.CounterVec
	SaveStatus        *prometheus.CounterVec
	SnapshotsCreated  *prometheus.CounterVec
	SessionsCleaned   prometheus.Counter
	RestorePhaseFails *prometheus.CounterVec
	WSConnections     prometheus.Gauge
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "workspace_sync_queue_depth",
			Help: "Operations waiting in the active sync queue",
		}),
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_sync_operations_total",
			Help: "Sync operation attempts by type and result",
		}, []string{"type", "result"}),
		SaveStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_save_status_total",
			Help: "Save status transitions emitted by the aggregator",
		}, []string{"status"}),
		SnapshotsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_snapshots_created_total",
			Help: "Snapshots created by type",
		}, []string{"type"}),
		SessionsCleaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "workspace_sessions_cleaned_total",
			Help: "Sessions deleted by retention cleanup",
		}),
		RestorePhaseFails: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_restore_phase_failures_total",
			Help: "Restoration phase failures by phase",
		}, []string{"phase"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "workspace_ws_connections",
			Help: "Open status websocket connections",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveOperation(opType, result string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(opType, result).Inc()
}

func (m *Metrics) ObserveSaveStatus(status string) {
	if m == nil {
		return
	}
	m.SaveStatus.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSnapshot(snapshotType string) {
	if m == nil {
		return
	}
	m.SnapshotsCreated.WithLabelValues(snapshotType).Inc()
}

func (m *Metrics) ObserveCleanup(deleted int) {
	if m == nil {
		return
	}
	m.SessionsCleaned.Add(float64(deleted))
}

func (m *Metrics) ObserveRestoreFailure(phase string) {
	if m == nil {
		return
	}
	m.RestorePhaseFails.WithLabelValues(phase).Inc()
}

func (m *Metrics) AddWSConnections(delta int) {
	if m == nil {
		return
	}
	m.WSConnections.Add(float64(delta))
}
