package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Inventory   Inventory
	Archiver    Archiver
	Destination Destination
	Prober      VolumeProber
	Logger      zerolog.Logger
	// Host names the server in reports.
	Host string
	Now  func() time.Time
}

// Orchestrator plans and runs backups for a selection of accounts.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	guard   CapacityGuard
	planner Planner
	logger  zerolog.Logger
	now     func() time.Time
}

// AccountPlan is the capacity decision for one account before any work runs.
type AccountPlan struct {
	AccountID   string    `json:"account_id" yaml:"account_id"`
	EstimatedMB float64   `json:"estimated_mb" yaml:"estimated_mb"`
	SizeKnown   bool      `json:"size_known" yaml:"size_known"`
	Staging     PlanEntry `json:"staging" yaml:"staging"`
	Destination PlanEntry `json:"destination" yaml:"destination"`
}

// Authorized reports whether both volumes can take the account.
func (p AccountPlan) Authorized() bool {
	return p.Staging.Authorized && p.Destination.Authorized
}

// BatchPlan is the outcome of discovery, estimation and capacity planning.
type BatchPlan struct {
	RunID           string         `json:"run_id" yaml:"run_id"`
	CreatedAt       time.Time      `json:"created_at" yaml:"created_at"`
	Selection       Selection      `json:"selection" yaml:"selection"`
	Estimate        SizeEstimate   `json:"estimate" yaml:"estimate"`
	Plan            ProcessingPlan `json:"plan" yaml:"plan"`
	Staging         CapacityReport `json:"staging" yaml:"staging"`
	StagingErr      string         `json:"staging_error,omitempty" yaml:"staging_error,omitempty"`
	DestinationName string         `json:"destination_name" yaml:"destination_name"`
	Destination     CapacityReport `json:"destination" yaml:"destination"`
	DestinationErr  string         `json:"destination_error,omitempty" yaml:"destination_error,omitempty"`
	ProjectedMB     float64        `json:"projected_mb" yaml:"projected_mb"`
	Accounts        []AccountPlan  `json:"accounts,omitempty" yaml:"accounts,omitempty"`
	Warnings        []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Anomalies       []string       `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`

	stagingErr error
	destErr    error
}

// NewOrchestrator validates the configuration and wires the collaborators.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Inventory == nil {
		return nil, errors.New("orchestrator requires an inventory")
	}
	if deps.Destination == nil {
		return nil, errors.New("orchestrator requires a destination")
	}
	if deps.Prober == nil {
		return nil, errors.New("orchestrator requires a volume prober")
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		guard:   NewCapacityGuard(cfg),
		planner: NewPlanner(cfg),
		logger:  deps.Logger.With().Str("component", "orchestrator").Logger(),
		now:     now,
	}, nil
}

func newRunID() string {
	return uuid.NewString()[:8]
}

// Prepare discovers, selects and estimates accounts, probes both volumes and
// chooses a processing mode. The returned plan is never nil.
func (o *Orchestrator) Prepare(ctx context.Context) (*BatchPlan, error) {
	bp := &BatchPlan{
		RunID:           newRunID(),
		CreatedAt:       o.now(),
		DestinationName: o.deps.Destination.String(),
	}
	log := o.logger.With().Str("run_id", bp.RunID).Logger()

	sel, err := o.discover(ctx)
	bp.Selection = sel
	bp.Warnings = append(bp.Warnings, sel.Warnings...)
	if err != nil {
		return bp, err
	}

	bp.Estimate = Estimate(sel.Accounts)
	bp.Warnings = append(bp.Warnings, bp.Estimate.Warnings...)
	bp.ProjectedMB = bp.Estimate.TotalMB

	bp.Staging, bp.stagingErr = o.probeStaging(ctx)
	if bp.stagingErr != nil {
		bp.StagingErr = bp.stagingErr.Error()
		bp.Anomalies = append(bp.Anomalies, fmt.Sprintf("staging volume unavailable: %v", bp.stagingErr))
	}
	bp.Destination, bp.destErr = o.probeDestination(ctx)
	if bp.destErr != nil {
		bp.DestinationErr = bp.destErr.Error()
		bp.Anomalies = append(bp.Anomalies, fmt.Sprintf("destination volume unavailable: %v", bp.destErr))
	}

	// Unknown sizes count at their conservative default when choosing the mode.
	planning := bp.Estimate
	for _, ae := range bp.Estimate.Accounts {
		if !ae.Usage.Known() {
			size, _ := o.guard.SizeFor(ae, bp.Estimate)
			planning.TotalMB += size
			if size > planning.Biggest.MB {
				planning.Biggest = AccountSize{AccountID: ae.Account.ID, MB: size}
			}
		}
	}
	if bp.stagingErr != nil {
		bp.Plan = ProcessingPlan{Mode: ModeSerial, Concurrency: 1, Reason: "staging volume could not be queried"}
	} else {
		bp.Plan = o.planner.Plan(planning, bp.Staging)
	}

	for _, ae := range bp.Estimate.Accounts {
		size, known := o.guard.SizeFor(ae, bp.Estimate)
		ap := AccountPlan{AccountID: ae.Account.ID, EstimatedMB: size, SizeKnown: known}
		ap.Staging = o.authorizeStaging(ae.Account.ID, size, bp.Staging, bp.stagingErr)
		ap.Destination = o.authorizeDestination(ae.Account.ID, size, bp.Destination, bp.destErr)
		bp.Accounts = append(bp.Accounts, ap)
	}

	log.Info().
		Int("selected", len(sel.Accounts)).
		Float64("total_mb", bp.Estimate.TotalMB).
		Str("biggest", bp.Estimate.Biggest.AccountID).
		Float64("staging_free_mb", bp.Staging.FreeMB).
		Str("mode", string(bp.Plan.Mode)).
		Str("reason", bp.Plan.Reason).
		Msg("Batch planned")

	return bp, nil
}

func (o *Orchestrator) discover(ctx context.Context) (Selection, error) {
	accounts, err := o.deps.Inventory.ListAccounts(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("discover accounts: %w", err)
	}
	if err := ValidateCatalog(accounts); err != nil {
		return Selection{}, err
	}

	sel := Select(accounts, o.cfg.Accounts, o.cfg.Exclude)
	if o.cfg.SkipSuspended {
		sel = DropSuspended(sel)
	}
	for _, w := range sel.Warnings {
		o.logger.Warn().Msg(w)
	}
	return sel, nil
}

func (o *Orchestrator) probeStaging(ctx context.Context) (CapacityReport, error) {
	rep, err := o.deps.Prober.CapacityOf(ctx, o.cfg.StagingDir)
	if err != nil {
		if errors.Is(err, ErrVolumeUnavailable) {
			return CapacityReport{Path: o.cfg.StagingDir}, err
		}
		return CapacityReport{Path: o.cfg.StagingDir}, fmt.Errorf("%w: %s: %v", ErrVolumeUnavailable, o.cfg.StagingDir, err)
	}
	return rep, nil
}

func (o *Orchestrator) probeDestination(ctx context.Context) (CapacityReport, error) {
	rep, err := o.deps.Destination.Capacity(ctx)
	if err != nil {
		name := o.deps.Destination.String()
		if errors.Is(err, ErrVolumeUnavailable) {
			return CapacityReport{Path: name}, err
		}
		return CapacityReport{Path: name}, fmt.Errorf("%w: %s: %v", ErrVolumeUnavailable, name, err)
	}
	return rep, nil
}

func (o *Orchestrator) authorizeStaging(accountID string, size float64, vol CapacityReport, volErr error) PlanEntry {
	required := o.guard.RequiredSpace(size)
	var entry PlanEntry
	if volErr != nil {
		entry = o.guard.Unavailable(accountID, o.cfg.StagingDir, required, volErr)
	} else {
		entry = o.guard.Authorize(accountID, required, vol)
	}
	entry.EstimatedMB = size
	return entry
}

func (o *Orchestrator) authorizeDestination(accountID string, size float64, vol CapacityReport, volErr error) PlanEntry {
	required := o.guard.DestinationSpace(size)
	var entry PlanEntry
	if volErr != nil {
		entry = o.guard.Unavailable(accountID, o.deps.Destination.String(), required, volErr)
	} else {
		entry = o.guard.Authorize(accountID, required, vol)
	}
	entry.EstimatedMB = size
	return entry
}

func (o *Orchestrator) newReport(kind RunKind, bp *BatchPlan) *RunReport {
	return &RunReport{
		RunID:           bp.RunID,
		Kind:            kind,
		Host:            o.deps.Host,
		StartedAt:       bp.CreatedAt,
		Plan:            bp.Plan,
		Selection:       bp.Selection,
		Estimate:        bp.Estimate,
		Staging:         bp.Staging,
		StagingErr:      bp.StagingErr,
		DestinationName: bp.DestinationName,
		Destination:     bp.Destination,
		DestinationErr:  bp.DestinationErr,
		ProjectedMB:     bp.ProjectedMB,
		Warnings:        append([]string(nil), bp.Warnings...),
		Anomalies:       append([]string(nil), bp.Anomalies...),
	}
}

// Run executes a full backup of every selected account. A catalog failure
// aborts the run and is returned together with a report describing it. Every
// other failure is recorded per account in the report.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	if o.deps.Archiver == nil {
		return nil, errors.New("backup run requires an archiver")
	}

	bp, err := o.Prepare(ctx)
	report := o.newReport(KindBackup, bp)
	log := o.logger.With().Str("run_id", report.RunID).Logger()
	if err != nil {
		report.Error = err.Error()
		report.FinishedAt = o.now()
		log.Error().Err(err).Msg("Backup run aborted before planning")
		return report, err
	}

	col := newCollector()
	workers := bp.Plan.Concurrency
	if bp.Plan.Mode == ModeSerial || workers < 1 {
		workers = 1
	}

	log.Info().Int("accounts", len(bp.Estimate.Accounts)).Int("workers", workers).Msg("Starting backup run")

	runPool(ctx, workers, bp.Estimate.Accounts,
		func(ae AccountEstimate) {
			col.add(o.backupAccount(ctx, bp, ae, col))
		},
		func(ae AccountEstimate, cause error) {
			col.add(o.abandoned(ae.Account.ID, StatePlanned, cause))
		},
	)

	if ctx.Err() != nil {
		col.warn("run cancelled: %v", context.Cause(ctx))
	}

	report.FinishedAt = o.now()
	col.finish(report, bp.Selection.IDs(), report.FinishedAt)

	log.Info().Str("summary", report.Summary()).Msg("Backup run finished")
	return report, nil
}

// runPool hands items to a bounded set of workers. Items not yet handed out
// when ctx is cancelled go to abandon instead.
func runPool[T any](ctx context.Context, workers int, items []T, work func(T), abandon func(T, error)) {
	jobs := make(chan T)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				work(item)
			}
		}()
	}

feed:
	for i, item := range items {
		if ctx.Err() != nil {
			for _, rest := range items[i:] {
				abandon(rest, context.Cause(ctx))
			}
			break
		}
		select {
		case jobs <- item:
		case <-ctx.Done():
			for _, rest := range items[i:] {
				abandon(rest, context.Cause(ctx))
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

func (o *Orchestrator) abandoned(accountID string, state State, cause error) RunResult {
	now := o.now()
	return RunResult{
		AccountID:  accountID,
		Outcome:    OutcomeAborted,
		State:      state,
		StartedAt:  now,
		FinishedAt: now,
		Error:      fmt.Sprintf("abandoned: %v", cause),
	}
}

// fail closes a result with outcome, or with aborted when the run was cancelled.
func (o *Orchestrator) fail(ctx context.Context, res RunResult, outcome Outcome, err error) RunResult {
	if ctx.Err() != nil {
		outcome = OutcomeAborted
	}
	res.Outcome = outcome
	res.Error = stepErr(res.AccountID, res.State, err).Error()
	return res
}

func (o *Orchestrator) backupAccount(ctx context.Context, bp *BatchPlan, ae AccountEstimate, col *collector) (res RunResult) {
	id := ae.Account.ID
	log := o.logger.With().Str("run_id", bp.RunID).Str("account", id).Logger()

	res = RunResult{AccountID: id, State: StatePlanned, StartedAt: o.now()}
	defer func() {
		res.FinishedAt = o.now()
		var ev *zerolog.Event
		if res.Outcome.Failed() {
			ev = log.Warn().Str("error", res.Error)
		} else {
			ev = log.Info()
		}
		ev.Str("outcome", string(res.Outcome)).
			Str("state", string(res.State)).
			Dur("elapsed", res.Duration()).
			Msg("Account finished")
	}()

	if err := ctx.Err(); err != nil {
		return o.fail(ctx, res, OutcomeAborted, err)
	}

	res.State = StateEstimating
	size, known := o.guard.SizeFor(ae, bp.Estimate)
	res.EstimatedMB, res.SizeKnown = size, known
	if !known {
		res.Warnings = append(res.Warnings, fmt.Sprintf("size unknown, planning with %.0f MB", size))
	}

	res.State = StateCapacityChecked
	staging, stagingErr := bp.Staging, bp.stagingErr
	dest, destErr := bp.Destination, bp.destErr
	if bp.Plan.Mode == ModeSerial {
		// Earlier accounts changed both volumes; decide on fresh numbers.
		staging, stagingErr = o.probeStaging(ctx)
		dest, destErr = o.probeDestination(ctx)
		if ctx.Err() != nil {
			return o.fail(ctx, res, OutcomeAborted, context.Cause(ctx))
		}
	}

	stEntry := o.authorizeStaging(id, size, staging, stagingErr)
	res.Staging = &stEntry
	if stagingErr != nil && bp.Plan.Mode == ModeSerial {
		col.anomaly("%s: staging volume unavailable: %v", id, stagingErr)
	}
	if !stEntry.Authorized {
		res.Outcome = OutcomeFailedCapacity
		res.Error = stEntry.DenialReason
		return res
	}

	dstEntry := o.authorizeDestination(id, size, dest, destErr)
	res.Destination = &dstEntry
	if destErr != nil && bp.Plan.Mode == ModeSerial {
		col.anomaly("%s: destination volume unavailable: %v", id, destErr)
	}
	if !dstEntry.Authorized {
		res.Outcome = OutcomeFailedCapacity
		res.Error = dstEntry.DenialReason
		return res
	}

	res.State = StateArchiving
	log.Debug().Float64("required_mb", stEntry.RequiredMB).Msg("Creating archive")
	file, err := o.deps.Archiver.CreateArchive(ctx, id, o.cfg.StagingDir)
	if err != nil {
		return o.fail(ctx, res, OutcomeFailedArchive, err)
	}
	res.ActualMB = BytesToMB(file.SizeBytes)

	res.State = StateTransferring
	log.Debug().Str("archive", file.Path).Int64("bytes", file.SizeBytes).Msg("Transferring archive")
	ref, err := o.deps.Destination.Transfer(ctx, id, file)
	if err != nil {
		res.ArchivePath = file.Path
		return o.fail(ctx, res, OutcomeFailedTransfer, err)
	}
	res.Remote = &ref

	res.State = StateVerifying
	if err := o.deps.Destination.Verify(ctx, ref); err != nil {
		res.ArchivePath = file.Path
		return o.fail(ctx, res, OutcomeFailedVerification, err)
	}

	// The new archive is durable from here on; cancellation no longer aborts.
	res.State = StateRotating
	if err := o.rotateAfterVerify(ctx, &res, ref); err != nil {
		res.ArchivePath = file.Path
		res.Outcome = OutcomeFailedRetention
		res.Error = stepErr(id, StateRotating, err).Error()
		return res
	}

	res.State = StateCleaning
	if err := o.deps.Archiver.Cleanup(context.WithoutCancel(ctx), file); err != nil {
		res.ArchivePath = file.Path
		res.Warnings = append(res.Warnings, fmt.Sprintf("staging cleanup failed: %v", err))
	}

	res.State = StateDone
	res.Outcome = OutcomeSucceeded
	return res
}

// rotateAfterVerify applies retention once the new archive is confirmed.
// Nothing is deleted unless the new archive is among those kept.
func (o *Orchestrator) rotateAfterVerify(ctx context.Context, res *RunResult, ref RemoteRef) error {
	if ctx.Err() != nil {
		res.Warnings = append(res.Warnings, "rotation skipped: run cancelled")
		return nil
	}

	existing, err := o.deps.Destination.ListArchives(ctx, res.AccountID)
	if err != nil {
		if ctx.Err() != nil {
			res.Warnings = append(res.Warnings, "rotation skipped: run cancelled")
			return nil
		}
		return fmt.Errorf("list archives: %w", err)
	}

	if !hasArchive(existing, ref.Name) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("new archive %s missing from destination listing", ref.Name))
		existing = append(existing, Archive{Name: ref.Name, CreatedAt: ref.CreatedAt, SizeBytes: ref.SizeBytes})
	}

	rot, err := Rotate(res.AccountID, existing, o.cfg.Retention)
	if err != nil {
		return err
	}
	res.Retained = archiveNames(rot.Keep)

	if !rot.Keeps(ref.Name) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"new archive %s is not among the %d newest, nothing deleted", ref.Name, o.cfg.Retention))
		return nil
	}

	o.deleteArchives(ctx, res, rot.Delete)
	return nil
}

func (o *Orchestrator) deleteArchives(ctx context.Context, res *RunResult, archives []Archive) {
	for i, a := range archives {
		if ctx.Err() != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("rotation interrupted, %d archives not deleted", len(archives)-i))
			return
		}
		if err := o.deps.Destination.DeleteArchive(ctx, res.AccountID, a.Name); err != nil {
			res.DeleteFailures = append(res.DeleteFailures, fmt.Sprintf("%s: %v", a.Name, err))
			o.logger.Warn().Err(err).Str("account", res.AccountID).Str("archive", a.Name).Msg("Failed to delete old archive")
			continue
		}
		res.Deleted = append(res.Deleted, a.Name)
	}
}

// RotateOnly applies the retention count to archives already at the
// destination without creating new ones. With dryRun nothing is deleted.
func (o *Orchestrator) RotateOnly(ctx context.Context, dryRun bool) (*RunReport, error) {
	start := o.now()
	report := &RunReport{
		RunID:           newRunID(),
		Kind:            KindRotate,
		Host:            o.deps.Host,
		DryRun:          dryRun,
		StartedAt:       start,
		DestinationName: o.deps.Destination.String(),
		Plan:            ProcessingPlan{Mode: ModeSerial, Concurrency: 1, Reason: "retention only"},
	}
	log := o.logger.With().Str("run_id", report.RunID).Logger()

	sel, err := o.discover(ctx)
	report.Selection = sel
	report.Warnings = append(report.Warnings, sel.Warnings...)
	if err != nil {
		report.Error = err.Error()
		report.FinishedAt = o.now()
		return report, err
	}

	col := newCollector()
	runPool(ctx, 1, sel.Accounts,
		func(a Account) {
			col.add(o.rotateAccount(ctx, a.ID, dryRun))
		},
		func(a Account, cause error) {
			col.add(o.abandoned(a.ID, StateRotating, cause))
		},
	)

	report.FinishedAt = o.now()
	col.finish(report, sel.IDs(), report.FinishedAt)
	log.Info().Bool("dry_run", dryRun).Str("summary", report.Summary()).Msg("Retention run finished")
	return report, nil
}

func (o *Orchestrator) rotateAccount(ctx context.Context, accountID string, dryRun bool) (res RunResult) {
	res = RunResult{AccountID: accountID, State: StateRotating, StartedAt: o.now(), SizeKnown: true}
	defer func() { res.FinishedAt = o.now() }()

	existing, err := o.deps.Destination.ListArchives(ctx, accountID)
	if err != nil {
		res = o.fail(ctx, res, OutcomeFailedRetention, fmt.Errorf("list archives: %w", err))
		return res
	}

	rot, err := Rotate(accountID, existing, o.cfg.Retention)
	if err != nil {
		res = o.fail(ctx, res, OutcomeFailedRetention, err)
		return res
	}
	res.Retained = archiveNames(rot.Keep)

	if dryRun {
		res.Deleted = archiveNames(rot.Delete)
		res.Warnings = append(res.Warnings, "dry run, nothing deleted")
	} else {
		o.deleteArchives(ctx, &res, rot.Delete)
	}

	res.State = StateDone
	res.Outcome = OutcomeSucceeded
	return res
}

func hasArchive(archives []Archive, name string) bool {
	for _, a := range archives {
		if a.Name == name {
			return true
		}
	}
	return false
}

func archiveNames(archives []Archive) []string {
	names := make([]string, 0, len(archives))
	for _, a := range archives {
		names = append(names, a.Name)
	}
	return names
}
