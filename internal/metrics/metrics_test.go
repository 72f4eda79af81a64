package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whm-backup/internal/backup"
)

func finishedReport() *backup.RunReport {
	start := time.Date(2025, 7, 1, 2, 0, 0, 0, time.UTC)
	return &backup.RunReport{
		RunID:       "abcd1234",
		Kind:        backup.KindBackup,
		StartedAt:   start,
		FinishedAt:  start.Add(20 * time.Minute),
		Plan:        backup.ProcessingPlan{Mode: backup.ModeSerial},
		ProjectedMB: 2048,
		ActualMB:    1024,
		Staging:     backup.CapacityReport{FreeMB: 10240},
		Destination: backup.CapacityReport{Unbounded: true},
		Results: []backup.RunResult{
			{AccountID: "a", Outcome: backup.OutcomeSucceeded, StartedAt: start, FinishedAt: start.Add(time.Minute), Deleted: []string{"x", "y"}},
			{AccountID: "b", Outcome: backup.OutcomeFailedCapacity, DeleteFailures: []string{"z"}},
		},
		Anomalies: []string{"one"},
	}
}

func TestRecord(t *testing.T) {
	r := New()
	r.Record(finishedReport())

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("backup", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.accountsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.accountsTotal.WithLabelValues("failed-capacity")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.archivesDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deleteFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.serialRuns))
	assert.Equal(t, -1.0, testutil.ToFloat64(r.destinationFree))
	assert.Equal(t, float64(1024*1024*1024), testutil.ToFloat64(r.actualBytes))
	assert.Equal(t, 0, testutil.CollectAndCount(r.lastSuccess))
}

func TestRecordRotateLeavesCapacityGauges(t *testing.T) {
	r := New()
	report := finishedReport()
	report.Kind = backup.KindRotate
	r.Record(report)

	assert.Equal(t, 0.0, testutil.ToFloat64(r.actualBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.serialRuns))
}

func TestHandler(t *testing.T) {
	r := New()
	r.Record(finishedReport())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "whm_backup_runs_total")
}

func TestTextfileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "whm_backup.prom")
	sink := NewTextfileSink(New(), path)
	require.NoError(t, sink.Deliver(context.Background(), finishedReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `whm_backup_accounts_total{outcome="succeeded"} 1`))
}
