// Package notify delivers finished run reports to operators.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
)

// Dispatch hands report to every sink. A failing sink is logged and
// recorded on the report; it never changes account outcomes.
func Dispatch(ctx context.Context, report *backup.RunReport, sinks []backup.ReportSink, logger zerolog.Logger) {
	for _, sink := range sinks {
		if err := sink.Deliver(ctx, report); err != nil {
			logger.Error().Err(err).Str("sink", sink.Name()).Str("run_id", report.RunID).Msg("Report delivery failed")
			report.DeliveryFailures = append(report.DeliveryFailures, fmt.Sprintf("%s: %v", sink.Name(), err))
			continue
		}
		logger.Debug().Str("sink", sink.Name()).Str("run_id", report.RunID).Msg("Report delivered")
	}
}

// LogSink writes a per-account summary to the logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink that logs through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "report").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, report *backup.RunReport) error {
	for _, res := range report.Results {
		var ev *zerolog.Event
		if res.Outcome.Failed() {
			ev = s.logger.Warn()
		} else {
			ev = s.logger.Info()
		}
		ev = ev.Str("run_id", report.RunID).
			Str("account", res.AccountID).
			Str("outcome", string(res.Outcome)).
			Str("state", string(res.State)).
			Float64("estimated_mb", res.EstimatedMB).
			Float64("actual_mb", res.ActualMB).
			Int("deleted", len(res.Deleted))
		if res.Error != "" {
			ev = ev.Str("error", res.Error)
		}
		if res.ArchivePath != "" {
			ev = ev.Str("archive_kept", res.ArchivePath)
		}
		ev.Msg("Account finished")
	}
	for _, a := range report.Anomalies {
		s.logger.Warn().Str("run_id", report.RunID).Msg(a)
	}

	ev := s.logger.Info()
	if !report.Succeeded() {
		ev = s.logger.Warn()
	}
	ev.Str("run_id", report.RunID).Msg(report.Summary())
	return nil
}
