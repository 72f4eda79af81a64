package backup

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func runBackupRotate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	dryRun := mustGetBoolFlag(cmd, "dry-run")
	if !dryRun && !mustGetBoolFlag(cmd, "yes") {
		msg := fmt.Sprintf("Delete archives beyond the newest %d per account at %s?", s.cfg.Retention, s.destination)
		ok, err := confirm(msg)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	report, err := s.orchestrator.RotateOnly(ctx, dryRun)
	if report != nil {
		if !dryRun {
			s.deliver(ctx, report, s.sinks(ctx, false, false))
		}
		out := cmd.OutOrStdout()
		for _, res := range report.Results {
			verb := "deleted"
			if dryRun {
				verb = "would delete"
			}
			fmt.Fprintf(out, "%s: kept %d, %s %d", res.AccountID, len(res.Retained), verb, len(res.Deleted))
			if len(res.Deleted) > 0 {
				fmt.Fprintf(out, " (%s)", strings.Join(res.Deleted, ", "))
			}
			if res.Error != "" {
				fmt.Fprintf(out, " error: %s", res.Error)
			}
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, report.Summary())
	}
	return runError(report, err)
}
