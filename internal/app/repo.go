package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/resticgx/internal/engine"
	"github.com/blackwell-systems/resticgx/internal/lg"
	"github.com/blackwell-systems/resticgx/internal/output"
)

var snapshotsFlagInit bool

var initCmd = &cobra.Command{
	Use:   "init <profile>",
	Short: "Initialize the profile's repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <profile>",
	Short: "List snapshots and refresh last-backup times",
	Long: `List the snapshots in the profile's repository.

Each target's last-backup time is updated from the newest snapshot taken
on this host and tagged with the target's path.`,
	Example: `  resticgx snapshots home
  resticgx snapshots home --init   # create the repository if it does not exist`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshots,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <profile>",
	Short: "Remove stale locks from the profile's repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnlock,
}

func init() {
	snapshotsCmd.Flags().BoolVar(&snapshotsFlagInit, "init", false, "initialize the repository when it does not exist")

	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(snapshotsCmd)
	RootCmd.AddCommand(unlockCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.loadProfile(args[0])
	if err != nil {
		return err
	}
	o, err := s.orchestrator()
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd)
	defer cancel()

	spinner := output.NewSpinner("Initializing " + p.Repo)
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	err = o.Init(ctx, p.Repo, p.RepoEnv, p.Auth)
	spinner.Stop()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized repository %s\n", p.Repo)
	return nil
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.loadProfile(args[0])
	if err != nil {
		return err
	}
	o, err := s.orchestrator()
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd)
	defer cancel()

	var snaps []engine.Snapshot
	if snapshotsFlagInit {
		snaps, err = o.AssertRepoExists(ctx, p.Repo, p.RepoEnv, p.Auth)
	} else {
		snaps, err = o.Snapshots(ctx, p)
	}
	if err != nil {
		if engine.IsRepoNotFound(err) {
			return fmt.Errorf("%w\n\nRun 'resticgx init %s' or 'resticgx snapshots %s --init' to create it", err, p.Name, p.Name)
		}
		return err
	}

	host, err := os.Hostname()
	if err != nil {
		s.log.Warn("failed to get hostname, last-backup times not refreshed", lg.Err(err))
	} else {
		p.Targets = engine.Reconcile(p.Targets, snaps, host)
		if err := s.db.SaveTargetTimes(p.Name, p.Targets); err != nil {
			s.log.Warn("failed to save target times", lg.Err(err))
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderSnapshotTable(snaps))
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.loadProfile(args[0])
	if err != nil {
		return err
	}
	o, err := s.orchestrator()
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd)
	defer cancel()

	if err := o.Unlock(ctx, p.Repo, p.Auth); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unlocked repository %s\n", p.Repo)
	return nil
}
