package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/resticgx/internal/output"
)

var statusFlagLimit int

var statusCmd = &cobra.Command{
	Use:   "status [profile]",
	Short: "Show targets and recent runs",
	Long: `Display the tracked state of a profile: each target's last backup start,
last completed backup and last cleanup, followed by the most recent runs.

Without a profile, recent runs of every profile are shown.

Run states:
  succeeded  the engine finished normally
  partial    the snapshot was created but some files could not be read
  failed     the engine reported an error
  killed     the run was stopped
  running    the run has not finished (or resticgx exited during it)`,
	Example: `  resticgx status
  resticgx status home --limit 50`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusFlagLimit, "limit", "n", 10, "number of runs to show")

	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	name := ""
	if len(args) == 1 {
		name = args[0]
		p, err := s.profiles.Load(name)
		if err != nil {
			return err
		}
		if err := s.db.ApplyTargetTimes(p); err != nil {
			return fmt.Errorf("failed to load target times: %w", err)
		}
		fmt.Fprintf(out, "Profile:     %s\n", p.Name)
		fmt.Fprintf(out, "Repository:  %s\n", p.Repo)
		fmt.Fprintf(out, "Engine:      %s\n\n", s.cfg.Engine)
		fmt.Fprint(out, output.RenderTargetTable(p.Targets))
		fmt.Fprintln(out)
	}

	runs, err := s.db.ListRuns(name, statusFlagLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	fmt.Fprint(out, output.RenderRunTable(runs))
	return nil
}
