package app

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/resticgx/internal/output"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <profile> <path> <target-dir>",
	Short: "Restore the latest snapshot of a target",
	Long: `Restore the latest snapshot tagged with <path> into <target-dir>, which is
created if needed. Files are restored under their original absolute path
inside <target-dir>.`,
	Example: `  resticgx restore home ~/Documents /tmp/restored`,
	Args:    cobra.ExactArgs(3),
	RunE:    runRestore,
}

func init() {
	RootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.loadProfile(args[0])
	if err != nil {
		return err
	}
	tag, err := absPath(args[1])
	if err != nil {
		return err
	}
	targetDir, err := absPath(args[2])
	if err != nil {
		return err
	}
	o, err := s.orchestrator()
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd)
	defer cancel()

	var engineOut io.Writer
	if s.cfg.Debug {
		engineOut = cmd.ErrOrStderr()
	}

	spinner := output.NewSpinner("Restoring " + output.ShortenPath(tag, 40)).WithElapsed()
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	err = o.Restore(ctx, p, tag, targetDir, engineOut)
	spinner.Stop()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s into %s\n", tag, targetDir)
	return nil
}
