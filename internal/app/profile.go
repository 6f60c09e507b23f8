package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/resticgx/internal/engine"
	"github.com/blackwell-systems/resticgx/internal/output"
	"github.com/blackwell-systems/resticgx/internal/profile"
)

var (
	profileFlagEnv []string

	setFlagKeepLast      int
	setFlagKeepHourly    int
	setFlagKeepDaily     int
	setFlagKeepWeekly    int
	setFlagKeepMonthly   int
	setFlagExcludeMethod string
	setFlagExclude       []string
	setFlagExcludeFile   string
	setFlagSizeThreshold int
	setFlagSizeUnit      string
	setFlagIgnoreCtime   bool
	setFlagIgnoreInode   bool
	setFlagRepo          string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage backup profiles",
	Long: `A profile names one repository and the directories backed up into it.
Profiles are stored under <data_dir>/profiles/<name>/profile.yaml.

Profile names are 3 to 32 characters of lowercase letters, digits, '.',
'_' and '-'.`,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name> <repo>",
	Short: "Create a profile",
	Example: `  resticgx profile create home /srv/backups/home
  resticgx profile create cloud s3:s3.amazonaws.com/bucket --env AWS_ACCESS_KEY_ID=... --env AWS_SECRET_ACCESS_KEY=...`,
	Args: cobra.ExactArgs(2),
	RunE: runProfileCreate,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a profile and its targets",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a profile and its history (the repository is left untouched)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileDelete,
}

var profileAddTargetCmd = &cobra.Command{
	Use:   "add-target <name> <path>...",
	Short: "Add directories to back up",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runProfileAddTarget,
}

var profileRemoveTargetCmd = &cobra.Command{
	Use:   "remove-target <name> <path>...",
	Short: "Stop backing up directories",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runProfileRemoveTarget,
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Change retention, exclude rules and backup options",
	Long: `Change profile settings. Only the flags given are applied.

Retention rules with value 0 do not constrain forget. Exclude methods:
  none  no patterns
  list  the patterns given with --exclude
  file  patterns read from --exclude-file`,
	Example: `  resticgx profile set home --keep-daily 7 --keep-weekly 4
  resticgx profile set home --exclude-method list --exclude '*.tmp' --exclude node_modules
  resticgx profile set home --size-threshold 500 --size-unit M`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileSet,
}

func init() {
	profileCreateCmd.Flags().StringArrayVar(&profileFlagEnv, "env", nil, "repository environment variable KEY=VALUE (repeatable)")

	f := profileSetCmd.Flags()
	f.StringVar(&setFlagRepo, "repo", "", "repository location")
	f.IntVar(&setFlagKeepLast, "keep-last", 0, "keep the last N snapshots")
	f.IntVar(&setFlagKeepHourly, "keep-hourly", 0, "keep the last N hourly snapshots")
	f.IntVar(&setFlagKeepDaily, "keep-daily", 0, "keep the last N daily snapshots")
	f.IntVar(&setFlagKeepWeekly, "keep-weekly", 0, "keep the last N weekly snapshots")
	f.IntVar(&setFlagKeepMonthly, "keep-monthly", 0, "keep the last N monthly snapshots")
	f.StringVar(&setFlagExcludeMethod, "exclude-method", "", "exclude method: none, list or file")
	f.StringArrayVar(&setFlagExclude, "exclude", nil, "exclude pattern (repeatable, replaces the list)")
	f.StringVar(&setFlagExcludeFile, "exclude-file", "", "file of exclude patterns")
	f.IntVar(&setFlagSizeThreshold, "size-threshold", 0, "skip files larger than this (0 disables)")
	f.StringVar(&setFlagSizeUnit, "size-unit", "", "unit of --size-threshold: k, m, g or t")
	f.BoolVar(&setFlagIgnoreCtime, "ignore-ctime", false, "ignore ctime changes when detecting modified files")
	f.BoolVar(&setFlagIgnoreInode, "ignore-inode", false, "ignore inode changes when detecting modified files")

	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileDeleteCmd)
	profileCmd.AddCommand(profileAddTargetCmd)
	profileCmd.AddCommand(profileRemoveTargetCmd)
	profileCmd.AddCommand(profileSetCmd)
	RootCmd.AddCommand(profileCmd)
}

// absPath expands a leading ~ and makes path absolute and clean.
func absPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %s: %w", path, err)
	}
	return abs, nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable %q (want KEY=VALUE)", pair)
		}
		env[key] = value
	}
	return env, nil
}

// absRepo makes a local repository path absolute, keeping a "local:" prefix.
func absRepo(repo string) (string, error) {
	if !engine.IsLocalRepo(repo) {
		return repo, nil
	}
	path := engine.LocalPath(repo)
	abs, err := absPath(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(repo, path) + abs, nil
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	name, repo := args[0], args[1]
	if repo, err = absRepo(repo); err != nil {
		return err
	}
	env, err := parseEnv(profileFlagEnv)
	if err != nil {
		return err
	}

	p := &engine.Profile{Name: name, Repo: repo, RepoEnv: env}
	if err := s.profiles.Create(p); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created profile %s (repository %s)\n", name, repo)
	fmt.Fprintf(cmd.OutOrStdout(), "\nNext: resticgx profile add-target %s <path>\n", name)
	return nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	names, err := s.profiles.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No profiles. Run 'resticgx profile create <name> <repo>' to add one.")
		return nil
	}
	for _, name := range names {
		p, err := s.profiles.Load(name)
		if err != nil {
			fmt.Fprintf(out, "%-32s (unreadable: %v)\n", name, err)
			continue
		}
		fmt.Fprintf(out, "%-32s %-40s %d target(s)\n", name, p.Repo, len(p.Targets))
	}
	return nil
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.profiles.Load(args[0])
	if err != nil {
		return err
	}
	if err := s.db.ApplyTargetTimes(p); err != nil {
		return fmt.Errorf("failed to load target times: %w", err)
	}

	// repository environment values may hold credentials
	shown := *p
	if len(p.RepoEnv) > 0 {
		shown.RepoEnv = make(map[string]string, len(p.RepoEnv))
		for k := range p.RepoEnv {
			shown.RepoEnv[k] = "********"
		}
	}
	doc, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to render profile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(doc))
	fmt.Fprintln(out)
	fmt.Fprint(out, output.RenderTargetTable(p.Targets))
	return nil
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	name := args[0]
	if err := s.profiles.Delete(name); err != nil {
		return err
	}
	if err := s.db.DeleteProfile(name); err != nil {
		return fmt.Errorf("profile deleted but its history could not be removed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s\n", name)
	return nil
}

func runProfileAddTarget(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.profiles.Load(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, raw := range args[1:] {
		path, err := absPath(raw)
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("cannot add target: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("cannot add target %s: not a directory", path)
		}
		if profile.AddTarget(p, path) {
			fmt.Fprintf(out, "Added %s\n", path)
		} else {
			fmt.Fprintf(out, "%s is already a target\n", path)
		}
	}
	return s.profiles.Save(p)
}

func runProfileRemoveTarget(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.profiles.Load(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, raw := range args[1:] {
		path, err := absPath(raw)
		if err != nil {
			return err
		}
		if profile.RemoveTarget(p, path) {
			fmt.Fprintf(out, "Removed %s\n", path)
		} else {
			fmt.Fprintf(out, "%s is not a target\n", path)
		}
	}
	return s.profiles.Save(p)
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.profiles.Load(args[0])
	if err != nil {
		return err
	}

	f := cmd.Flags()
	changed := 0
	setInt := func(name string, dst *int, v int) {
		if f.Changed(name) {
			*dst = v
			changed++
		}
	}
	setString := func(name string, dst *string, v string) {
		if f.Changed(name) {
			*dst = v
			changed++
		}
	}
	setBool := func(name string, dst *bool, v bool) {
		if f.Changed(name) {
			*dst = v
			changed++
		}
	}

	if f.Changed("repo") {
		if setFlagRepo, err = absRepo(setFlagRepo); err != nil {
			return err
		}
	}
	setString("repo", &p.Repo, setFlagRepo)
	setInt("keep-last", &p.Retention.KeepLast, setFlagKeepLast)
	setInt("keep-hourly", &p.Retention.KeepHourly, setFlagKeepHourly)
	setInt("keep-daily", &p.Retention.KeepDaily, setFlagKeepDaily)
	setInt("keep-weekly", &p.Retention.KeepWeekly, setFlagKeepWeekly)
	setInt("keep-monthly", &p.Retention.KeepMonthly, setFlagKeepMonthly)
	if f.Changed("exclude-method") {
		p.Exclude.Method = engine.ExcludeMethod(setFlagExcludeMethod)
		changed++
	}
	if f.Changed("exclude") {
		p.Exclude.List = append([]string(nil), setFlagExclude...)
		changed++
	}
	setString("exclude-file", &p.Exclude.File, setFlagExcludeFile)
	setInt("size-threshold", &p.Exclude.SizeThreshold, setFlagSizeThreshold)
	setString("size-unit", &p.Exclude.SizeUnit, setFlagSizeUnit)
	setBool("ignore-ctime", &p.IgnoreCtime, setFlagIgnoreCtime)
	setBool("ignore-inode", &p.IgnoreInode, setFlagIgnoreInode)

	if changed == 0 {
		return fmt.Errorf("nothing to change\n\nRun 'resticgx profile set --help' for the available settings")
	}
	if err := s.profiles.Save(p); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated profile %s\n", p.Name)
	return nil
}
