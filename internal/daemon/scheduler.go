// Package daemon runs backups on a cron schedule and serves their status.
package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
)

// RunFunc performs one complete run and returns its report.
type RunFunc func(ctx context.Context) (*backup.RunReport, error)

// ErrBusy is returned when a run is requested while another is active.
var ErrBusy = errors.New("a run is already in progress")

// Status describes the scheduler for the status API.
type Status struct {
	Schedule   string     `json:"schedule"`
	Running    bool       `json:"running"`
	Busy       bool       `json:"busy"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastStart  *time.Time `json:"last_start,omitempty"`
	LastFinish *time.Time `json:"last_finish,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Scheduler triggers RunFunc on a cron schedule. Overlapping runs are
// skipped.
type Scheduler struct {
	schedule string
	parsed   cron.Schedule
	run      RunFunc
	cron     *cron.Cron
	logger   zerolog.Logger

	mu         sync.Mutex
	running    bool
	busy       bool
	baseCtx    context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	last       *backup.RunReport
	lastStart  time.Time
	lastFinish time.Time
	lastErr    error
}

// NewScheduler validates schedule, a standard five field expression or a
// descriptor such as @daily.
func NewScheduler(schedule string, run RunFunc, logger zerolog.Logger) (*Scheduler, error) {
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		schedule: schedule,
		parsed:   parsed,
		run:      run,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start registers the schedule. Runs inherit ctx for cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Trigger(); err != nil {
			s.logger.Warn().Err(err).Msg("Scheduled run skipped")
		}
	})
	if err != nil {
		return err
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", s.schedule).Time("next_run", s.parsed.Next(time.Now())).Msg("Scheduler started")
	return nil
}

// Stop cancels an active run and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// Trigger starts a run in the background unless one is already active.
func (s *Scheduler) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return errors.New("scheduler not running")
	}
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.lastStart = time.Now()
	s.wg.Add(1)
	go s.execute(s.baseCtx)
	return nil
}

func (s *Scheduler) execute(ctx context.Context) {
	defer s.wg.Done()

	report, err := s.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.lastFinish = time.Now()
	s.lastErr = err
	if report != nil {
		s.last = report
	}

	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled run failed")
		return
	}
	s.logger.Info().Str("run_id", report.RunID).Msg(report.Summary())
}

// LastReport returns the most recent report, or nil.
func (s *Scheduler) LastReport() *backup.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Status reports the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Schedule: s.schedule, Running: s.running, Busy: s.busy}
	if s.running {
		next := s.parsed.Next(time.Now())
		st.NextRun = &next
	}
	if !s.lastStart.IsZero() {
		start := s.lastStart
		st.LastStart = &start
	}
	if !s.lastFinish.IsZero() {
		finish := s.lastFinish
		st.LastFinish = &finish
	}
	if s.last != nil {
		st.LastRunID = s.last.RunID
		st.LastResult = "success"
		if !s.last.Succeeded() {
			st.LastResult = "failure"
		}
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
