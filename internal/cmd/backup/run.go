package backup

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"whm-backup/internal/backup"
)

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runBackupRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.backup(ctx, s.sinks(ctx, !mustGetBoolFlag(cmd, "no-notify"), false))
	if report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
	}
	return runError(report, err)
}

// backup runs one backup and hands the report to sinks.
func (s *stack) backup(ctx context.Context, sinks []backup.ReportSink) (*backup.RunReport, error) {
	report, err := s.orchestrator.Run(ctx)
	if report != nil {
		s.deliver(ctx, report, sinks)
	}
	return report, err
}

// runError turns a finished report into the command's exit status.
func runError(report *backup.RunReport, err error) error {
	if err != nil {
		return err
	}
	if !report.Succeeded() {
		return fmt.Errorf("%s run %s finished with failures", report.Kind, report.RunID)
	}
	return nil
}
