package backup

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"whm-backup/internal/backup"
	"whm-backup/internal/history"
	"whm-backup/internal/notify"
)

var backupHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past runs recorded in the history database",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Print the full report of one run (default: the latest backup)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistoryShow,
}

var historyAccountCmd = &cobra.Command{
	Use:   "account <account>",
	Short: "Show one account's outcomes across runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryAccount,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget runs older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func initHistoryFlags() {
	backupHistoryCmd.AddCommand(historyListCmd, historyShowCmd, historyAccountCmd, historyPruneCmd)

	historyListCmd.Flags().Int("limit", 20, "Number of runs to show")
	historyListCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
	historyShowCmd.Flags().StringP("output", "o", "yaml", "Output format: json or yaml")
	historyAccountCmd.Flags().Int("limit", 20, "Number of runs to show")
	historyAccountCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
	historyPruneCmd.Flags().Duration("older-than", 90*24*time.Hour, "Age beyond which runs are removed")
}

// openHistory opens the history database without connecting to WHM or the
// destination.
func openHistory() (*history.Store, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if cfg.History.Path == "" {
		return nil, fmt.Errorf("run history is not enabled (set history.path or --history-db)")
	}
	return history.Open(cfg.History.Path)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), mustGetIntFlag(cmd, "limit"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := writeEncoded(out, mustGetStringFlag(cmd, "output"), runs); done {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tKIND\tSTARTED\tDURATION\tOK\tSUMMARY")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Kind,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			yesNo(r.Succeeded), r.Summary)
	}
	return w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	var report *backup.RunReport
	if len(args) == 1 {
		report, err = store.Get(cmd.Context(), args[0])
	} else {
		report, err = store.Latest(cmd.Context(), backup.KindBackup)
	}
	if err != nil {
		return err
	}

	data, err := notify.Encode(report, mustGetStringFlag(cmd, "output"))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runHistoryAccount(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.AccountHistory(cmd.Context(), args[0], mustGetIntFlag(cmd, "limit"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := writeEncoded(out, mustGetStringFlag(cmd, "output"), runs); done {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tFINISHED\tOUTCOME\tSIZE MB\tARCHIVE\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%s\t%s\n", r.RunID,
			r.FinishedAt.Local().Format("2006-01-02 15:04"), r.Outcome, r.ActualMB, r.Archive, r.Error)
	}
	return w.Flush()
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	cutoff := time.Now().Add(-mustGetDurationFlag(cmd, "older-than"))
	n, err := store.Prune(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s) started before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}
