// Package metrics exposes run outcomes to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"whm-backup/internal/backup"
)

// Recorder holds the whm-backup collectors in a private registry.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	accountsTotal   *prometheus.CounterVec
	lastRun         *prometheus.GaugeVec
	lastSuccess     *prometheus.GaugeVec
	runDuration     *prometheus.HistogramVec
	accountDuration prometheus.Histogram
	projectedBytes  prometheus.Gauge
	actualBytes     prometheus.Gauge
	stagingFree     prometheus.Gauge
	destinationFree prometheus.Gauge
	archivesDeleted prometheus.Counter
	deleteFailures  prometheus.Counter
	anomalies       prometheus.Counter
	serialRuns      prometheus.Counter
}

// New registers the collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whm_backup_runs_total",
			Help: "Runs finished, by kind and result",
		}, []string{"kind", "result"}),
		accountsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whm_backup_accounts_total",
			Help: "Accounts processed, by outcome",
		}, []string{"outcome"}),
		lastRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whm_backup_last_run_timestamp_seconds",
			Help: "Finish time of the last run, by kind",
		}, []string{"kind"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whm_backup_last_success_timestamp_seconds",
			Help: "Finish time of the last fully successful run, by kind",
		}, []string{"kind"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whm_backup_run_duration_seconds",
			Help:    "Wall time of a run",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		}, []string{"kind"}),
		accountDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "whm_backup_account_duration_seconds",
			Help:    "Wall time of one account's backup",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		}),
		projectedBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "whm_backup_projected_bytes",
			Help: "Estimated size of the last backup run",
		}),
		actualBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "whm_backup_actual_bytes",
			Help: "Bytes archived by the last backup run",
		}),
		stagingFree: f.NewGauge(prometheus.GaugeOpts{
			Name: "whm_backup_staging_free_bytes",
			Help: "Free space on the staging volume at planning time",
		}),
		destinationFree: f.NewGauge(prometheus.GaugeOpts{
			Name: "whm_backup_destination_free_bytes",
			Help: "Free space at the destination at planning time, -1 when unbounded",
		}),
		archivesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "whm_backup_archives_deleted_total",
			Help: "Archives removed by retention",
		}),
		deleteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "whm_backup_delete_failures_total",
			Help: "Archives retention failed to remove",
		}),
		anomalies: f.NewCounter(prometheus.CounterOpts{
			Name: "whm_backup_anomalies_total",
			Help: "Anomalies recorded on run reports",
		}),
		serialRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "whm_backup_serial_runs_total",
			Help: "Backup runs degraded to serial processing",
		}),
	}
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Record folds a finished report into the collectors.
func (r *Recorder) Record(report *backup.RunReport) {
	kind := string(report.Kind)
	result := "success"
	if !report.Succeeded() {
		result = "failure"
	}
	r.runsTotal.WithLabelValues(kind, result).Inc()

	finished := float64(report.FinishedAt.Unix())
	r.lastRun.WithLabelValues(kind).Set(finished)
	if report.Succeeded() {
		r.lastSuccess.WithLabelValues(kind).Set(finished)
	}
	if d := report.FinishedAt.Sub(report.StartedAt); d > 0 {
		r.runDuration.WithLabelValues(kind).Observe(d.Seconds())
	}

	for _, res := range report.Results {
		r.accountsTotal.WithLabelValues(string(res.Outcome)).Inc()
		if d := res.Duration(); d > 0 {
			r.accountDuration.Observe(d.Seconds())
		}
		r.archivesDeleted.Add(float64(len(res.Deleted)))
		r.deleteFailures.Add(float64(len(res.DeleteFailures)))
	}
	r.anomalies.Add(float64(len(report.Anomalies)))

	if report.Kind != backup.KindBackup {
		return
	}
	r.projectedBytes.Set(float64(backup.MBToBytes(report.ProjectedMB)))
	r.actualBytes.Set(float64(backup.MBToBytes(report.ActualMB)))
	if report.StagingErr == "" {
		r.stagingFree.Set(float64(backup.MBToBytes(report.Staging.FreeMB)))
	}
	if report.DestinationErr == "" {
		if report.Destination.Unbounded {
			r.destinationFree.Set(-1)
		} else {
			r.destinationFree.Set(float64(backup.MBToBytes(report.Destination.FreeMB)))
		}
	}
	if report.Plan.Mode == backup.ModeSerial {
		r.serialRuns.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for node_exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create textfile dir: %w", err)
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

// TextfileSink writes metrics after every run.
type TextfileSink struct {
	recorder *Recorder
	path     string
}

// NewTextfileSink records into recorder and writes path on delivery.
func NewTextfileSink(recorder *Recorder, path string) *TextfileSink {
	return &TextfileSink{recorder: recorder, path: path}
}

func (s *TextfileSink) Name() string { return "metrics-textfile" }

func (s *TextfileSink) Deliver(ctx context.Context, report *backup.RunReport) error {
	s.recorder.Record(report)
	return s.recorder.WriteTextfile(s.path)
}

// Name and Deliver let a Recorder collect reports in-process, for the
// scrape endpoint.
func (r *Recorder) Name() string { return "metrics" }

func (r *Recorder) Deliver(ctx context.Context, report *backup.RunReport) error {
	r.Record(report)
	return nil
}
