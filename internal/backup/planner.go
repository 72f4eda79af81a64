package backup

import (
	"fmt"
)

// ProcessingMode is the batch-wide execution strategy.
type ProcessingMode string

const (
	ModeParallel ProcessingMode = "parallel"
	ModeSerial   ProcessingMode = "serial"
)

// ProcessingPlan is the planner's decision together with its reason.
type ProcessingPlan struct {
	Mode        ProcessingMode `json:"mode" yaml:"mode"`
	Concurrency int            `json:"concurrency" yaml:"concurrency"`
	Reason      string         `json:"reason" yaml:"reason"`
}

// Planner chooses between parallel and serial processing.
type Planner struct {
	WorkingFactor float64
	Concurrency   int
}

// NewPlanner builds a planner from the run configuration.
func NewPlanner(cfg Config) Planner {
	return Planner{WorkingFactor: cfg.WorkingFactor, Concurrency: cfg.Concurrency}
}

// Plan forces serial processing when the staging volume cannot hold every
// archive at once or cannot safely stage the biggest account on its own.
func (p Planner) Plan(est SizeEstimate, staging CapacityReport) ProcessingPlan {
	if est.TotalMB > staging.FreeMB {
		return ProcessingPlan{
			Mode:        ModeSerial,
			Concurrency: 1,
			Reason: fmt.Sprintf("total estimate %.0f MB exceeds %.0f MB free on %s",
				est.TotalMB, staging.FreeMB, staging.Path),
		}
	}

	if working := p.WorkingFactor * est.Biggest.MB; working > staging.FreeMB {
		return ProcessingPlan{
			Mode:        ModeSerial,
			Concurrency: 1,
			Reason: fmt.Sprintf("biggest account %s needs %.0f MB working space, %.0f MB free on %s",
				est.Biggest.AccountID, working, staging.FreeMB, staging.Path),
		}
	}

	if p.Concurrency <= 1 {
		return ProcessingPlan{Mode: ModeSerial, Concurrency: 1, Reason: "concurrency bound is 1"}
	}

	return ProcessingPlan{
		Mode:        ModeParallel,
		Concurrency: p.Concurrency,
		Reason: fmt.Sprintf("total estimate %.0f MB fits in %.0f MB free on %s",
			est.TotalMB, staging.FreeMB, staging.Path),
	}
}
