package backup

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// RunKind distinguishes full backup runs from retention-only runs.
type RunKind string

const (
	KindBackup RunKind = "backup"
	KindRotate RunKind = "rotate"
)

// RunResult is the outcome of one account within a run.
type RunResult struct {
	AccountID   string    `json:"account_id" yaml:"account_id"`
	Outcome     Outcome   `json:"outcome" yaml:"outcome"`
	State       State     `json:"state" yaml:"state"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
	EstimatedMB float64   `json:"estimated_mb" yaml:"estimated_mb"`
	SizeKnown   bool      `json:"size_known" yaml:"size_known"`
	ActualMB    float64   `json:"actual_mb,omitempty" yaml:"actual_mb,omitempty"`

	Staging     *PlanEntry `json:"staging,omitempty" yaml:"staging,omitempty"`
	Destination *PlanEntry `json:"destination,omitempty" yaml:"destination,omitempty"`

	// ArchivePath is set when the local archive was kept for recovery.
	ArchivePath string     `json:"archive_path,omitempty" yaml:"archive_path,omitempty"`
	Remote      *RemoteRef `json:"remote,omitempty" yaml:"remote,omitempty"`

	Retained       []string `json:"retained,omitempty" yaml:"retained,omitempty"`
	Deleted        []string `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	DeleteFailures []string `json:"delete_failures,omitempty" yaml:"delete_failures,omitempty"`

	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error    string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration is the wall time spent on the account.
func (r RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunReport is everything a run produced. It is the only value handed to
// report sinks.
type RunReport struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Kind       RunKind   `json:"kind" yaml:"kind"`
	Host       string    `json:"host,omitempty" yaml:"host,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	Plan      ProcessingPlan `json:"plan" yaml:"plan"`
	Selection Selection      `json:"selection" yaml:"selection"`
	Estimate  SizeEstimate   `json:"estimate" yaml:"estimate"`

	Staging          CapacityReport `json:"staging" yaml:"staging"`
	StagingErr       string         `json:"staging_error,omitempty" yaml:"staging_error,omitempty"`
	DestinationName  string         `json:"destination_name" yaml:"destination_name"`
	Destination      CapacityReport `json:"destination" yaml:"destination"`
	DestinationErr   string         `json:"destination_error,omitempty" yaml:"destination_error,omitempty"`
	ProjectedMB      float64        `json:"projected_mb" yaml:"projected_mb"`
	ActualMB         float64        `json:"actual_mb" yaml:"actual_mb"`
	Results          []RunResult    `json:"results" yaml:"results"`
	Warnings         []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Anomalies        []string       `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
	Error            string         `json:"error,omitempty" yaml:"error,omitempty"`
	DeliveryFailures []string       `json:"delivery_failures,omitempty" yaml:"delivery_failures,omitempty"`
}

// Counts tallies results per outcome.
func (r *RunReport) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, len(Outcomes))
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// Succeeded reports whether the run completed and every account succeeded.
func (r *RunReport) Succeeded() bool {
	if r.Error != "" {
		return false
	}
	for _, res := range r.Results {
		if res.Outcome.Failed() {
			return false
		}
	}
	return true
}

// Result returns the result for one account.
func (r *RunReport) Result(accountID string) (RunResult, bool) {
	for _, res := range r.Results {
		if res.AccountID == accountID {
			return res, true
		}
	}
	return RunResult{}, false
}

// Summary renders a one-line description of the run.
func (r *RunReport) Summary() string {
	if r.Error != "" {
		return fmt.Sprintf("%s run %s failed: %s", r.Kind, r.RunID, r.Error)
	}
	counts := r.Counts()
	parts := make([]string, 0, len(Outcomes))
	for _, o := range Outcomes {
		if n := counts[o]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no accounts")
	}
	return fmt.Sprintf("%s run %s: %s (%s mode, projected %s, actual %s)",
		r.Kind, r.RunID, strings.Join(parts, ", "), r.Plan.Mode, HumanMB(r.ProjectedMB), HumanMB(r.ActualMB))
}

// collector accumulates results from concurrent workers.
type collector struct {
	mu        sync.Mutex
	results   map[string]RunResult
	warnings  []string
	anomalies []string
}

func newCollector() *collector {
	return &collector{results: make(map[string]RunResult)}
}

func (c *collector) add(res RunResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.results[res.AccountID]; dup {
		c.anomalies = append(c.anomalies, fmt.Sprintf("%s: reported twice, keeping the first result", res.AccountID))
		return
	}
	c.results[res.AccountID] = res
}

func (c *collector) warn(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func (c *collector) anomaly(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anomalies = append(c.anomalies, fmt.Sprintf(format, args...))
}

// finish copies results into the report in selection order. An account with
// no result is recorded as aborted and flagged as an anomaly.
func (c *collector) finish(report *RunReport, order []string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report.Results = make([]RunResult, 0, len(order))
	for _, id := range order {
		res, ok := c.results[id]
		if !ok {
			c.anomalies = append(c.anomalies, fmt.Sprintf("%s: missing from run results", id))
			res = RunResult{
				AccountID:  id,
				Outcome:    OutcomeAborted,
				State:      StatePlanned,
				FinishedAt: now,
				Error:      "no result recorded",
			}
		}
		report.ActualMB += res.ActualMB
		report.Results = append(report.Results, res)
	}

	extra := make([]string, 0)
	for id := range c.results {
		if !contains(order, id) {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		c.anomalies = append(c.anomalies, fmt.Sprintf("%s: result for an account that was not selected", id))
	}

	report.Warnings = append(report.Warnings, c.warnings...)
	report.Anomalies = append(report.Anomalies, c.anomalies...)
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
