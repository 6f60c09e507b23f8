package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/resticgx/internal/engine"
	"github.com/blackwell-systems/resticgx/internal/output"
)

var statsCmd = &cobra.Command{
	Use:   "stats <profile>",
	Short: "Show repository size and counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	RootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
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

	stats, err := o.Stats(ctx, p)
	if err != nil {
		var parseErr *engine.ParseError
		if errors.As(err, &parseErr) {
			return fmt.Errorf("%w\n\nThe %s version in use may not be supported", err, o.Adapter().Kind())
		}
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderStats(p.Repo, stats))
	return nil
}
