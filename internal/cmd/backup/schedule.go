package backup

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"whm-backup/internal/cron"
	"whm-backup/internal/execute"
	"whm-backup/internal/logging"
)

var backupScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage crontab entries that run whm-backup",
	Long: `Install, list or remove crontab entries on this host. Entries installed
here are tagged with a "# whm-backup:<name>" comment so they can be replaced
or removed by name without touching the rest of the crontab.`,
}

var scheduleInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install or replace a scheduled backup",
	Long: `Install a crontab entry running "whm-backup backup run" (or --command).

Examples:
  # Nightly backup at 02:00 with the current config file
  whm-backup backup schedule install --cron "0 2 * * *"

  # Weekly rotation-only pass
  whm-backup backup schedule install --name rotate --cron "@weekly" --command "/usr/local/bin/whm-backup backup rotate --yes"`,
	Args: cobra.NoArgs,
	RunE: runScheduleInstall,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List crontab entries",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a scheduled backup by name",
	Args:  cobra.NoArgs,
	RunE:  runScheduleRemove,
}

func initScheduleFlags() {
	backupScheduleCmd.AddCommand(scheduleInstallCmd, scheduleListCmd, scheduleRemoveCmd)

	scheduleInstallCmd.Flags().String("name", "backup", "Entry name")
	scheduleInstallCmd.Flags().String("cron", "0 2 * * *", "Cron expression")
	scheduleInstallCmd.Flags().String("command", "", "Command to run (default: this binary with backup run)")
	scheduleInstallCmd.Flags().String("log-file", "/var/log/whm-backup.log", "File the entry appends output to")
	scheduleListCmd.Flags().Bool("all", false, "Include entries not installed by whm-backup")
	scheduleRemoveCmd.Flags().String("name", "backup", "Entry name")
}

func newCronManager() *cron.Manager {
	logger := logging.New(logging.Config{
		Level:  viper.GetString("log.level"),
		Format: viper.GetString("log.format"),
	})
	return cron.NewManager(execute.NewLocal(), logger)
}

// defaultCommand runs this binary against the config file in use.
func defaultCommand(logFile string) (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cannot locate the whm-backup binary: %w", err)
	}
	parts := []string{execute.Quote(exe), "backup", "run"}
	if used := viper.ConfigFileUsed(); used != "" {
		parts = append(parts, "--config", execute.Quote(used))
	}
	command := strings.Join(parts, " ")
	if logFile != "" {
		command += " >> " + execute.Quote(logFile) + " 2>&1"
	}
	return command, nil
}

func runScheduleInstall(cmd *cobra.Command, args []string) error {
	expr := mustGetStringFlag(cmd, "cron")
	if err := cron.ValidateExpression(expr); err != nil {
		return err
	}

	command := mustGetStringFlag(cmd, "command")
	if command == "" {
		var err error
		if command, err = defaultCommand(mustGetStringFlag(cmd, "log-file")); err != nil {
			return err
		}
	}

	name := mustGetStringFlag(cmd, "name")
	if err := newCronManager().Install(cmd.Context(), name, expr, command); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Installed %q: %s %s\n", name, expr, command)
	if next, err := cron.NextRun(expr, timeNow()); err == nil {
		fmt.Fprintf(out, "Next run: %s\n", next.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	jobs, err := newCronManager().List(cmd.Context())
	if err != nil {
		return err
	}

	all := mustGetBoolFlag(cmd, "all")
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCHEDULE\tNEXT RUN\tCOMMAND")
	for _, job := range jobs {
		if !job.Managed() && !all {
			continue
		}
		name, next := job.Name, "-"
		if name == "" {
			name = "-"
		}
		if job.NextRun != nil {
			next = job.NextRun.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, job.Schedule, next, job.Command)
	}
	return w.Flush()
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	name := mustGetStringFlag(cmd, "name")
	if err := newCronManager().Remove(cmd.Context(), name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %q\n", name)
	return nil
}
