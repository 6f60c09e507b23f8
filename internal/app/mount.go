package app

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/resticgx/internal/config"
	"github.com/blackwell-systems/resticgx/internal/lg"
	"github.com/blackwell-systems/resticgx/internal/orchestrator"
	"github.com/blackwell-systems/resticgx/internal/output"
	"github.com/blackwell-systems/resticgx/internal/process"
)

var mountFlagOpen bool

var mountCmd = &cobra.Command{
	Use:   "mount <profile> <path>",
	Short: "Browse the latest snapshot of a target",
	Long: `Mount the repository and wait until the latest snapshot of the target
appears, then print its location. The mount stays up until Ctrl-C.

Requires restic with FUSE support; rustic cannot mount.`,
	Example: `  resticgx mount home ~/Documents
  resticgx mount home ~/Documents --open`,
	Args: cobra.ExactArgs(2),
	RunE: runMount,
}

func init() {
	mountCmd.Flags().BoolVar(&mountFlagOpen, "open", false, "open the snapshot in the file manager")

	RootCmd.AddCommand(mountCmd)
}

// openPath hands path to the desktop file manager.
func openPath(path string) error {
	var name string
	var args []string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name = "explorer"
	default:
		name = "xdg-open"
	}
	args = append(args, path)
	bin, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("no file manager opener found: %w", err)
	}
	return process.New(process.Spec{Path: bin, Args: args}).Start()
}

func runMount(cmd *cobra.Command, args []string) error {
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
	if _, ok := p.Target(tag); !ok {
		s.log.Warn("path is not a current target of the profile", lg.String("path", tag))
	}

	var extra []orchestrator.Option
	if mountFlagOpen {
		extra = append(extra, orchestrator.WithOpener(openPath))
	}
	o, err := s.orchestrator(extra...)
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd)
	defer cancel()

	spinner := output.NewSpinner("Waiting for mount").WithElapsed()
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	path, err := o.Mount(ctx, p, tag)
	spinner.Stop()
	if err != nil {
		var timeout *orchestrator.PathTimeoutError
		if errors.As(err, &timeout) {
			return fmt.Errorf("%w\n\nCheck that a snapshot of %s exists: resticgx snapshots %s", err, tag, p.Name)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Mounted latest snapshot of %s at:\n  %s\n\nPress Ctrl-C to unmount.\n", tag, path)

	profileFile := config.NewFileStore(s.profiles.Path(p.Name))
	if err := profileFile.Watch(ctx, func() {
		s.log.Warn("profile changed while mounted; remount to pick up the changes", lg.String("profile", p.Name))
	}); err != nil {
		s.log.Debug("profile watch unavailable", lg.Err(err))
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := o.Unmount(); err != nil && !errors.Is(err, orchestrator.ErrNotMounted) {
				return err
			}
			fmt.Fprintln(out, "Unmounted.")
			return nil
		case <-ticker.C:
			if _, _, ok := o.Mounted(); !ok {
				return fmt.Errorf("mount of %s exited unexpectedly", tag)
			}
		}
	}
}
