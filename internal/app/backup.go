package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/resticgx/internal/orchestrator"
	"github.com/blackwell-systems/resticgx/internal/output"
	"github.com/blackwell-systems/resticgx/internal/process"
)

var backupFlagVerbose bool

var backupCmd = &cobra.Command{
	Use:   "backup <profile> [path...]",
	Short: "Back up the profile's targets",
	Long: `Back up every target of the profile, or only the given paths, one after
another. Each target becomes its own snapshot tagged with the target path.

A target whose snapshot was created but some files could not be read is
reported as partial and does not stop the remaining targets. A failed
target stops the backup. Ctrl-C stops the running engine.`,
	Example: `  resticgx backup home
  resticgx backup home ~/Documents`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVarP(&backupFlagVerbose, "verbose", "v", false, "show engine output that is not progress")

	RootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.loadProfile(args[0])
	if err != nil {
		return err
	}
	targets, err := selectTargets(p, args[1:])
	if err != nil {
		return err
	}
	o, err := s.orchestrator()
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd)
	defer cancel()

	reporter := output.NewBackupReporter()
	reporter.SetWriter(cmd.OutOrStdout())
	reporter.SetVerbose(backupFlagVerbose || s.cfg.Debug)

	batch, err := o.Backup(ctx, p, targets, orchestrator.BackupOptions{
		Stdout:  reporter,
		OnStart: reporter.StartTarget,
		OnFinish: func(target string, res process.Result) {
			reporter.FinishTarget(target, res.OK(), res.State == process.PartialSuccess, res.Err)
		},
	})
	if errors.Is(err, orchestrator.ErrNoTargets) {
		return fmt.Errorf("profile %s has no targets\n\nRun 'resticgx profile add-target %s <path>' to add one", p.Name, p.Name)
	}
	if err != nil {
		return err
	}

	state, err := batch.Wait()
	switch state {
	case process.Succeeded:
		fmt.Fprintf(cmd.OutOrStdout(), "\nBacked up %d target(s)\n", len(targets))
		return nil
	case process.Killed:
		return fmt.Errorf("backup stopped")
	default:
		return fmt.Errorf("backup failed: %w", err)
	}
}
