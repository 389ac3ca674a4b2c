package main

import (
	"os"

	"github.com/spf13/cobra"

	"skyback/cmd/skyback/commands"
	"skyback/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "skyback",
	Short: "skyback - periodic backup scheduler",
	Long: `skyback - periodic backup scheduler.

The daemon checks the stored backup settings on a cadence and emits a
perform-backup event when a backup is due. Executors report completion,
which records lastBackupDate.

Examples:
  skyback run                      # Run the daemon
  skyback status                   # Show settings and whether a backup is due
  skyback frequency weekly         # Change the backup frequency
  skyback mark-complete            # Record a backup that finished now
  skyback backup-now               # Request a backup right away`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&commands.ConfigPath, "config", "c", config.DefaultPath, "path to the config file (JSON or YAML)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.FrequencyCmd)
	rootCmd.AddCommand(commands.MarkCompleteCmd)
	rootCmd.AddCommand(commands.BackupNowCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		commands.PrintError(err)
		os.Exit(1)
	}
}
