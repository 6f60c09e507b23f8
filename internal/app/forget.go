package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/resticgx/internal/engine"
	"github.com/blackwell-systems/resticgx/internal/output"
)

var (
	forgetFlagDryRun   bool
	forgetFlagSnapshot string
)

var forgetCmd = &cobra.Command{
	Use:   "forget <profile> [path...]",
	Short: "Apply the retention policy and prune",
	Long: `Remove snapshots the profile's retention policy does not keep, then prune
unreferenced data. Only snapshots tagged with the profile's targets (or the
given paths) are considered.

With --snapshot a single snapshot is forgotten instead; the retention
policy still applies to the engine's decision. Use --dry-run to preview.`,
	Example: `  resticgx forget home --dry-run
  resticgx forget home ~/Documents
  resticgx forget home --snapshot 4f1c2a9b`,
	Args: cobra.MinimumNArgs(1),
	RunE: runForget,
}

func init() {
	forgetCmd.Flags().BoolVar(&forgetFlagDryRun, "dry-run", false, "show what would be removed without removing anything")
	forgetCmd.Flags().StringVar(&forgetFlagSnapshot, "snapshot", "", "forget this snapshot id instead of applying the policy to targets")

	RootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.loadProfile(args[0])
	if err != nil {
		return err
	}
	if p.Retention.IsZero() && forgetFlagSnapshot == "" {
		return fmt.Errorf("profile %s has no retention policy\n\nRun 'resticgx profile set %s --keep-daily 7' (or another --keep-* rule) first", p.Name, p.Name)
	}

	var scope engine.Scope
	if forgetFlagSnapshot != "" {
		if len(args) > 1 {
			return fmt.Errorf("--snapshot cannot be combined with paths")
		}
		scope.SnapshotID = forgetFlagSnapshot
	} else {
		targets, err := selectTargets(p, args[1:])
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return fmt.Errorf("profile %s has no targets", p.Name)
		}
		scope.Targets = targets
	}

	o, err := s.orchestrator()
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd)
	defer cancel()

	spinner := output.NewSpinner("Applying retention policy").WithElapsed()
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	decisions, err := o.Forget(ctx, p, p.Retention, forgetFlagDryRun, scope)
	spinner.Stop()
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderForgetTable(decisions, forgetFlagDryRun))
	return nil
}
