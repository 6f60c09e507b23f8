package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	dbPath       string
	engineName   string
	debugFlag    bool
	passwordFile string

	// RootCmd is the root command for resticgx
	RootCmd = &cobra.Command{
		Use:   "resticgx",
		Short: "Profile-based backups with restic or rustic",
		Long: `resticgx drives restic or rustic from named backup profiles. A profile
holds one repository and the directories backed up into it; resticgx runs
the engine for you, tracks when each directory was last backed up and
cleaned, and keeps a history of every run.

The repository password is read from RESTICGX_PASSWORD or --password-file.
It is handed to the engine through its environment, or, with
password_mode: command, through a one-time loopback URL so it never
appears in the engine's environment.

Quick Start:
  1. resticgx profile create home /srv/backups/home
  2. resticgx profile add-target home ~/Documents ~/Pictures
  3. resticgx init home
  4. resticgx backup home

Examples:
  # List snapshots and refresh last-backup times
  resticgx snapshots home

  # Preview what retention would remove
  resticgx forget home --dry-run

  # Browse the latest snapshot of a directory
  resticgx mount home ~/Documents

  # Show targets and recent runs
  resticgx status home`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "resticgx: profile-based backups with restic or rustic")
			fmt.Fprintln(out)
			names, err := listProfileNames()
			if err != nil || len(names) == 0 {
				fmt.Fprintln(out, "Run 'resticgx profile create <name> <repo>' to get started.")
			} else {
				fmt.Fprintln(out, "Tip: Run 'resticgx status <profile>' to check your targets.")
			}
			fmt.Fprintln(out, "     Run 'resticgx --help' for all commands.")
			return nil
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.config/resticgx/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: <data_dir>/resticgx.db)")
	RootCmd.PersistentFlags().StringVar(&engineName, "engine", "", "backup engine: restic or rustic (overrides config)")
	RootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	RootCmd.PersistentFlags().StringVar(&passwordFile, "password-file", "", "read the repository password from this file")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}
