package backup

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"whm-backup/internal/backup"
	"whm-backup/internal/daemon"
	"whm-backup/internal/server"
)

var backupServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run backups on a schedule and serve status, history and metrics",
	Long: `Stay in the foreground, running a backup on the configured cron schedule.
An HTTP listener exposes:

  GET  /healthz                      liveness
  GET  /metrics                      Prometheus metrics
  GET  /api/status                   scheduler state and last summary
  POST /api/runs                     start a backup now (409 while one runs)
  GET  /api/reports                  recent runs (needs history.path)
  GET  /api/reports/latest           latest backup report
  GET  /api/reports/{id}             one report
  GET  /api/accounts/{id}/history    one account across runs

Example:
  whm-backup backup serve --schedule "30 1 * * *" --listen :9109`,
	Args: cobra.NoArgs,
	RunE: runBackupServe,
}

func initServeFlags() {
	backupServeCmd.Flags().String("schedule", "", "Cron expression for scheduled backups (env: WHM_BACKUP_DAEMON_SCHEDULE)")
	backupServeCmd.Flags().String("listen", "", "HTTP listen address (env: WHM_BACKUP_DAEMON_LISTEN)")
	backupServeCmd.Flags().String("path-prefix", "", "Path prefix for every HTTP route (e.g. /whm-backup)")
	backupServeCmd.Flags().Bool("run-now", false, "Start a backup immediately in addition to the schedule")
	bindFlags(backupServeCmd.Flags(), map[string]string{
		"schedule": "daemon.schedule",
		"listen":   "daemon.listen",
	})
}

func runBackupServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	sinks := s.sinks(ctx, true, true)
	sched, err := daemon.NewScheduler(s.cfg.Daemon.Schedule, func(ctx context.Context) (*backup.RunReport, error) {
		return s.backup(ctx, sinks)
	}, s.logger)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if mustGetBoolFlag(cmd, "run-now") {
		if err := sched.Trigger(); err != nil {
			s.logger.Warn().Err(err).Msg("Immediate run not started")
		}
	}

	var reports server.Reports
	if s.history != nil {
		reports = s.history
	}
	srv := server.New(server.Config{
		Listen:     s.cfg.Daemon.Listen,
		PathPrefix: mustGetStringFlag(cmd, "path-prefix"),
	}, sched, reports, s.recorder.Handler(), s.logger)

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
