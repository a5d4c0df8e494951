// Package metrics defines the engine's observability registry (§4.7),
// backed by the Prometheus client library rather than the original's
// Codahale/JMX registry (§9: "re-architect as a metrics handle... passed
// explicitly").
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every counter/gauge/histogram the engine reports (§4.7).
// It is constructed once per run and passed explicitly into the engine
// and its collaborators rather than reached for as a global singleton.
type Registry struct {
	reg *prometheus.Registry

	consumedTotal   *prometheus.CounterVec
	lagPerInput     *prometheus.GaugeVec
	totalLag        prometheus.Gauge
	emittedTotal    *prometheus.CounterVec
	pendingPerOut   *prometheus.GaugeVec
	pendingTotal    prometheus.Gauge
	commitDuration  prometheus.Histogram
	backupDuration  prometheus.Histogram
	backupsCreated  prometheus.Counter
	backupsRestored prometheus.Counter
	backupsDeleted  prometheus.Counter
}

// New constructs a Registry and registers its collectors on reg. Passing
// prometheus.NewRegistry() gives an isolated registry suitable for tests;
// passing prometheus.DefaultRegisterer's underlying registry exposes the
// process-wide default the spec calls an acceptable default reporter
// backend.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		reg: reg,
		consumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "consumed_records_total",
			Help:      "Records consumed per input stream.",
		}, []string{"stream"}),
		lagPerInput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "confluence",
			Name:      "input_lag_records",
			Help:      "Current lag per input stream.",
		}, []string{"stream"}),
		totalLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "confluence",
			Name:      "total_lag_records",
			Help:      "Sum of lag across all input streams.",
		}),
		emittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "denormalized_records_emitted_total",
			Help:      "Denormalized records written per output.",
		}, []string{"output"}),
		pendingPerOut: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "confluence",
			Name:      "pending_records",
			Help:      "Pending-to-create set size per output.",
		}, []string{"output"}),
		pendingTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "confluence",
			Name:      "pending_records_total",
			Help:      "Sum of pending-to-create set sizes across all outputs.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "confluence",
			Name:      "state_commit_duration_seconds",
			Help:      "Duration of a full state commit.",
		}),
		backupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "confluence",
			Name:      "state_backup_duration_seconds",
			Help:      "Duration of a full state backup.",
		}),
		backupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "backups_created_total",
			Help:      "Snapshot backups created.",
		}),
		backupsRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "backups_restored_total",
			Help:      "Snapshot backups restored from.",
		}),
		backupsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "backups_deleted_total",
			Help:      "Snapshot backup sets deleted.",
		}),
	}

	reg.MustRegister(
		m.consumedTotal, m.lagPerInput, m.totalLag,
		m.emittedTotal, m.pendingPerOut, m.pendingTotal,
		m.commitDuration, m.backupDuration,
		m.backupsCreated, m.backupsRestored, m.backupsDeleted,
	)
	return m
}

func (m *Registry) IncConsumed(stream string) {
	m.consumedTotal.WithLabelValues(stream).Inc()
}

func (m *Registry) SetLag(stream string, lag int64) {
	m.lagPerInput.WithLabelValues(stream).Set(float64(lag))
}

func (m *Registry) SetTotalLag(total int64) {
	m.totalLag.Set(float64(total))
}

func (m *Registry) IncEmitted(output string) {
	m.emittedTotal.WithLabelValues(output).Inc()
}

func (m *Registry) SetPendingSize(output string, size int) {
	m.pendingPerOut.WithLabelValues(output).Set(float64(size))
}

func (m *Registry) SetTotalPending(size int) {
	m.pendingTotal.Set(float64(size))
}

func (m *Registry) ObserveCommit(d time.Duration) {
	m.commitDuration.Observe(d.Seconds())
}

func (m *Registry) ObserveBackup(d time.Duration) {
	m.backupDuration.Observe(d.Seconds())
}

func (m *Registry) IncBackupsCreated()  { m.backupsCreated.Inc() }
func (m *Registry) IncBackupsRestored() { m.backupsRestored.Inc() }
func (m *Registry) IncBackupsDeleted()  { m.backupsDeleted.Inc() }
