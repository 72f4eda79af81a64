package backup

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"whm-backup/internal/backup"
)

func runBackupPlan(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	bp, err := s.orchestrator.Prepare(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := writeEncoded(out, mustGetStringFlag(cmd, "output"), bp); done {
		return err
	}
	printPlan(out, bp)
	return nil
}

func printPlan(out io.Writer, bp *backup.BatchPlan) {
	fmt.Fprintf(out, "Plan %s: %d account(s), %s estimated, largest %s (%s)\n",
		bp.RunID, len(bp.Estimate.Accounts), backup.HumanMB(bp.Estimate.TotalMB),
		backup.HumanMB(bp.Estimate.Biggest.MB), bp.Estimate.Biggest.AccountID)
	fmt.Fprintf(out, "Mode: %s x%d (%s)\n", bp.Plan.Mode, bp.Plan.Concurrency, bp.Plan.Reason)
	fmt.Fprintf(out, "Staging %s: %s\n", bp.Staging.Path, volumeLine(bp.Staging, bp.StagingErr))
	fmt.Fprintf(out, "Destination %s: %s\n", bp.DestinationName, volumeLine(bp.Destination, bp.DestinationErr))
	fmt.Fprintf(out, "Projected after run: %s\n\n", backup.HumanMB(bp.ProjectedMB))

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tESTIMATE\tSTAGING\tDESTINATION\tNOTE")
	for _, ap := range bp.Accounts {
		size := backup.HumanMB(ap.EstimatedMB)
		if !ap.SizeKnown {
			size += " (assumed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ap.AccountID, size,
			entryLine(ap.Staging), entryLine(ap.Destination), denial(ap))
	}
	w.Flush()

	for _, msg := range append(append([]string{}, bp.Warnings...), bp.Anomalies...) {
		fmt.Fprintf(out, "warning: %s\n", msg)
	}
}

func volumeLine(vol backup.CapacityReport, errMsg string) string {
	switch {
	case errMsg != "":
		return "unavailable (" + errMsg + ")"
	case vol.Unbounded:
		return "unbounded"
	default:
		return fmt.Sprintf("%s free of %s", backup.HumanMB(vol.FreeMB), backup.HumanMB(vol.TotalMB))
	}
}

func entryLine(e backup.PlanEntry) string {
	if e.Authorized {
		return "ok"
	}
	return "denied"
}

func denial(ap backup.AccountPlan) string {
	var reasons []string
	for _, e := range []backup.PlanEntry{ap.Staging, ap.Destination} {
		if !e.Authorized && e.DenialReason != "" {
			reasons = append(reasons, e.DenialReason)
		}
	}
	return strings.Join(reasons, "; ")
}

func runBackupAccounts(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	accounts, err := s.inventory.ListAccounts(ctx)
	if err != nil {
		return err
	}
	est := backup.Estimate(accounts)

	out := cmd.OutOrStdout()
	if done, err := writeEncoded(out, mustGetStringFlag(cmd, "output"), est.Accounts); done {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tREPORTED\tSIZE\tSUSPENDED")
	for _, ae := range est.Accounts {
		size := backup.HumanMB(ae.Usage.MB)
		if !ae.Usage.Known() {
			size = "unknown"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ae.Account.ID, ae.Account.UsedRaw, size, yesNo(ae.Account.Suspended))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d account(s), %s total\n", len(est.Accounts), backup.HumanMB(est.TotalMB))
	return nil
}

func runBackupEstimate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	bp, err := s.orchestrator.Prepare(ctx)
	if err != nil {
		return err
	}
	est := bp.Estimate

	out := cmd.OutOrStdout()
	if done, err := writeEncoded(out, mustGetStringFlag(cmd, "output"), est); done {
		return err
	}

	known := 0
	for _, ae := range est.Accounts {
		if ae.Usage.Known() {
			known++
		}
	}
	fmt.Fprintln(out, "===========================================")
	fmt.Fprintln(out, "Backup Capacity Estimation")
	fmt.Fprintln(out, "===========================================")
	fmt.Fprintf(out, "Accounts selected:   %d (%d with a reported size)\n", len(est.Accounts), known)
	fmt.Fprintf(out, "Total estimate:      %s\n", backup.HumanMB(est.TotalMB))
	fmt.Fprintf(out, "Largest account:     %s (%s)\n", est.Biggest.AccountID, backup.HumanMB(est.Biggest.MB))
	fmt.Fprintf(out, "Staging free:        %s\n", volumeLine(bp.Staging, bp.StagingErr))
	fmt.Fprintf(out, "Processing mode:     %s (%s)\n", bp.Plan.Mode, bp.Plan.Reason)
	for _, w := range est.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}
