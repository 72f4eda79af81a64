package backup

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// BackupCmd is the main backup command exported for use by the root command
var BackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Plan, run and rotate cPanel/WHM account backups",
	Long: `Package cPanel/WHM accounts with pkgacct (or tar), ship the archives to a
local directory, MinIO or S3, verify them and keep the newest N per account.

Configuration is read from $HOME/.whm-backup.yaml (or --config), then from
WHM_BACKUP_* environment variables (e.g. WHM_BACKUP_DESTINATION_TYPE=s3),
then from flags.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envPath := mustGetStringFlag(cmd, "env"); envPath != "" {
			return loadEnvFile(envPath)
		}
		return nil
	},
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up the selected accounts",
	Long: `Discover accounts, estimate their size, check staging and destination
capacity, then archive, transfer, verify and rotate every authorized account.

Examples:
  # Back up every account to the configured destination
  whm-backup backup run

  # Back up two accounts with 5 archives kept each
  whm-backup backup run --accounts alice,bob --retention 5

  # Back up everything except one account, over SSH
  whm-backup backup run --accounts all --exclude bigsite --ssh-host whm1.example.com`,
	Args: cobra.NoArgs,
	RunE: runBackupRun,
}

var backupPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the capacity plan without writing anything",
	Long: `Discover and estimate the selected accounts, probe the staging volume and the
destination, and print the per-account capacity decisions and processing mode.`,
	Args: cobra.NoArgs,
	RunE: runBackupPlan,
}

var backupEstimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the size of the selected accounts",
	Long: `Sum the reported disk usage of the selected accounts and show the largest
one, the staging free space and the processing mode a run would use.`,
	Args: cobra.NoArgs,
	RunE: runBackupEstimate,
}

var backupAccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts known to WHM with their reported usage",
	Args:  cobra.NoArgs,
	RunE:  runBackupAccounts,
}

var backupRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Apply retention at the destination without taking new backups",
	Long: `Delete the oldest archives of every selected account until at most
--retention remain. Use --dry-run to see what would be deleted.`,
	Args: cobra.NoArgs,
	RunE: runBackupRotate,
}

func init() {
	// An explicit --env is honored before flags are registered so that
	// values it sets reach the viper environment lookup.
	if envPath := findEnvArg(os.Args); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	BackupCmd.PersistentFlags().String("env", "", "Path to .env file to load (overrides defaults)")
	initSelectionFlags()

	BackupCmd.AddCommand(backupRunCmd)
	BackupCmd.AddCommand(backupPlanCmd)
	BackupCmd.AddCommand(backupEstimateCmd)
	BackupCmd.AddCommand(backupAccountsCmd)
	BackupCmd.AddCommand(backupRotateCmd)
	BackupCmd.AddCommand(backupHistoryCmd)
	BackupCmd.AddCommand(backupServeCmd)
	BackupCmd.AddCommand(backupScheduleCmd)
	BackupCmd.AddCommand(backupConfigCmd)
	BackupCmd.AddCommand(backupDoctorCmd)

	initRunFlags()
	initPlanFlags()
	initEstimateFlags()
	initAccountsFlags()
	initRotateFlags()
	initHistoryFlags()
	initServeFlags()
	initScheduleFlags()
	initDoctorFlags()
}

// initSelectionFlags registers the flags shared by every subcommand. Each
// one overrides the config key it is bound to.
func initSelectionFlags() {
	flags := BackupCmd.PersistentFlags()

	flags.StringSlice("accounts", nil, "Accounts to back up; \"all\" selects every account (env: WHM_BACKUP_ACCOUNTS)")
	flags.StringSlice("exclude", nil, "Accounts to skip when --accounts is all (env: WHM_BACKUP_EXCLUDE)")
	flags.Bool("skip-suspended", false, "Skip suspended accounts (env: WHM_BACKUP_SKIP_SUSPENDED)")
	flags.Int("retention", 0, "Archives kept per account at the destination (env: WHM_BACKUP_RETENTION)")
	flags.String("staging-dir", "", "Local directory archives are written to before transfer (env: WHM_BACKUP_STAGING_DIR)")
	flags.Int("concurrency", 0, "Accounts processed at once in parallel mode (env: WHM_BACKUP_CONCURRENCY)")
	flags.Float64("safety-buffer-mb", 0, "Free space kept in reserve on every volume, in MB")

	flags.String("inventory-file", "", "Read accounts from a saved listaccts JSON file instead of whmapi1")
	flags.String("archiver", "", "Archive producer: pkgacct or tar")

	flags.String("destination", "", "Destination type: local, minio or s3 (env: WHM_BACKUP_DESTINATION_TYPE)")
	flags.String("destination-dir", "", "Directory for the local destination (env: WHM_BACKUP_DESTINATION_DIR)")
	flags.String("prefix", "", "Key prefix at the destination")

	flags.String("ssh-host", "", "Run whmapi1 and pkgacct on this host over SSH (env: WHM_BACKUP_REMOTE_HOST)")
	flags.String("ssh-user", "", "SSH username (default: root)")
	flags.String("ssh-key", "", "Path to SSH private key")

	flags.String("history-db", "", "SQLite database recording every run (env: WHM_BACKUP_HISTORY_PATH)")
	flags.String("metrics-textfile", "", "Write Prometheus metrics to this file after every run")
	flags.String("report-dir", "", "Write every run report to this directory")

	bindFlags(flags, map[string]string{
		"accounts":         "accounts",
		"exclude":          "exclude",
		"skip-suspended":   "skip_suspended",
		"retention":        "retention",
		"staging-dir":      "staging_dir",
		"concurrency":      "concurrency",
		"safety-buffer-mb": "safety_buffer_mb",
		"inventory-file":   "inventory.file",
		"archiver":         "archiver.type",
		"destination":      "destination.type",
		"destination-dir":  "destination.dir",
		"prefix":           "destination.prefix",
		"ssh-host":         "remote.host",
		"ssh-user":         "remote.user",
		"ssh-key":          "remote.key_path",
		"history-db":       "history.path",
		"metrics-textfile": "metrics.textfile",
		"report-dir":       "notify.report_dir",
	})
}

func initRunFlags() {
	backupRunCmd.Flags().Bool("no-notify", false, "Skip email and Sheets delivery for this run")
}

func initPlanFlags() {
	backupPlanCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
}

func initEstimateFlags() {
	backupEstimateCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
}

func initAccountsFlags() {
	backupAccountsCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
}

func initRotateFlags() {
	backupRotateCmd.Flags().Bool("dry-run", false, "Show what would be deleted without deleting")
	backupRotateCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}
