package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	backupcmd "whm-backup/internal/cmd/backup"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "whm-backup",
		Short: "Capacity-aware backups for cPanel/WHM accounts",
		Long: `whm-backup packages cPanel/WHM accounts, ships the archives to a
destination (local disk, MinIO or S3), verifies them and prunes old
archives down to a per-account retention count.

Every run is planned against the free space of the staging volume and the
destination before any archive is written.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.whm-backup.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(backupcmd.BackupCmd)

	// A missing .env is fine; the shell environment still applies.
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath("/etc/whm-backup")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".whm-backup")
	}

	viper.SetEnvPrefix("WHM_BACKUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Warning: Error reading config file %s: %v\n", cfgFile, err)
	}
}
