package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whm-backup/internal/backup"
	"whm-backup/internal/daemon"
	"whm-backup/internal/history"
)

type fakeRuns struct {
	err      error
	triggers int
	last     *backup.RunReport
}

func (f *fakeRuns) Trigger() error {
	f.triggers++
	return f.err
}

func (f *fakeRuns) Status() daemon.Status {
	return daemon.Status{Schedule: "@daily", Running: true}
}

func (f *fakeRuns) LastReport() *backup.RunReport { return f.last }

type fakeReports struct {
	reports map[string]*backup.RunReport
	limit   int
}

func (f *fakeReports) List(ctx context.Context, limit int) ([]history.RunSummary, error) {
	f.limit = limit
	var out []history.RunSummary
	for id, r := range f.reports {
		out = append(out, history.RunSummary{RunID: id, Kind: r.Kind})
	}
	return out, nil
}

func (f *fakeReports) Get(ctx context.Context, runID string) (*backup.RunReport, error) {
	if r, ok := f.reports[runID]; ok {
		return r, nil
	}
	return nil, history.ErrNotFound
}

func (f *fakeReports) Latest(ctx context.Context, kind backup.RunKind) (*backup.RunReport, error) {
	for _, r := range f.reports {
		if r.Kind == kind {
			return r, nil
		}
	}
	return nil, history.ErrNotFound
}

func (f *fakeReports) AccountHistory(ctx context.Context, accountID string, limit int) ([]history.AccountRun, error) {
	f.limit = limit
	return []history.AccountRun{{RunID: "r1", AccountID: accountID, Outcome: backup.OutcomeSucceeded}}, nil
}

func newTestServer(runs Runs, reports Reports, prefix string) *Server {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("whm_backup_runs_total 1\n"))
	})
	return New(Config{PathPrefix: prefix}, runs, reports, metrics, zerolog.Nop())
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(&fakeRuns{}, nil, "")

	rec := do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "whm_backup_runs_total")
}

func TestTrigger(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestServer(runs, nil, "")

	rec := do(t, s, http.MethodPost, "/api/runs")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, runs.triggers)

	runs.err = daemon.ErrBusy
	rec = do(t, s, http.MethodPost, "/api/runs")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatus(t *testing.T) {
	runs := &fakeRuns{last: &backup.RunReport{RunID: "abc", Kind: backup.KindBackup}}
	s := newTestServer(runs, nil, "")

	rec := do(t, s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Scheduler daemon.Status `json:"scheduler"`
		Summary   string        `json:"last_summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "@daily", body.Scheduler.Schedule)
	assert.Contains(t, body.Summary, "abc")
}

func TestReports(t *testing.T) {
	reports := &fakeReports{reports: map[string]*backup.RunReport{
		"run1": {RunID: "run1", Kind: backup.KindBackup},
		"run2": {RunID: "run2", Kind: backup.KindRotate},
	}}
	s := newTestServer(&fakeRuns{}, reports, "/whm")

	rec := do(t, s, http.MethodGet, "/whm/api/reports?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, reports.limit)
	var list []history.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = do(t, s, http.MethodGet, "/whm/api/reports/run2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run2"`)

	rec = do(t, s, http.MethodGet, "/whm/api/reports/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/whm/api/reports/latest?kind=rotate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run2"`)

	rec = do(t, s, http.MethodGet, "/whm/api/accounts/alice/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, reports.limit)
	assert.True(t, strings.Contains(rec.Body.String(), "alice"))

	rec = do(t, s, http.MethodGet, "/api/reports")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportsDisabled(t *testing.T) {
	s := newTestServer(&fakeRuns{}, nil, "")
	rec := do(t, s, http.MethodGet, "/api/reports")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not enabled")
}
