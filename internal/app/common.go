package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/resticgx/internal/config"
	"github.com/blackwell-systems/resticgx/internal/engine"
	"github.com/blackwell-systems/resticgx/internal/lg"
	"github.com/blackwell-systems/resticgx/internal/orchestrator"
	"github.com/blackwell-systems/resticgx/internal/profile"
	"github.com/blackwell-systems/resticgx/internal/secrets"
	"github.com/blackwell-systems/resticgx/internal/store"
)

// PasswordEnv holds the repository password when --password-file is not given.
const PasswordEnv = "RESTICGX_PASSWORD"

var errNoPassword = errors.New("no repository password: set " + PasswordEnv + " or pass --password-file")

// session is what a command needs: configuration, logger, profile store,
// state database and, on demand, an orchestrator.
type session struct {
	cfg      *config.Config
	log      lg.Logger
	profiles *profile.Store
	db       *store.Store

	orch    *orchestrator.Orchestrator
	secrets *secrets.Server
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if engineName != "" {
		if _, err := engine.ParseKind(engineName); err != nil {
			return nil, err
		}
		cfg.Engine = engineName
	}
	if debugFlag {
		cfg.Debug = true
	}
	return cfg, nil
}

// getDBPath returns the database path, using the flag value or the data dir.
func getDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.DBPath()
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := lg.New(&lg.Config{
		ServiceName: "resticgx",
		Debug:       cfg.Debug,
		Format:      cfg.LogFormat,
		Output:      cmd.ErrOrStderr(),
	})

	db, err := store.Open(getDBPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &session{
		cfg:      cfg,
		log:      logger,
		profiles: profile.NewStore(cfg.ProfilesDir()),
		db:       db,
	}, nil
}

// orchestrator builds the orchestrator for the configured engine. With
// password_mode: command a loopback secrets server is started alongside.
func (s *session) orchestrator(extra ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	if s.orch != nil {
		return s.orch, nil
	}
	kind, err := engine.ParseKind(s.cfg.Engine)
	if err != nil {
		return nil, err
	}
	opts := []orchestrator.Option{
		orchestrator.WithLogger(s.log),
		orchestrator.WithRecorder(s.db),
		orchestrator.WithSettle(s.cfg.SettleDelay.Std()),
		orchestrator.WithMountPoll(s.cfg.MountPollAttempts, s.cfg.MountPollInterval.Std()),
	}
	if s.cfg.PasswordMode == config.PasswordCommand {
		srv, err := secrets.Start(secrets.Config{Logger: s.log})
		if err != nil {
			return nil, err
		}
		s.secrets = srv
		opts = append(opts, orchestrator.WithCredentials(srv))
	}
	opts = append(opts, extra...)

	o, err := orchestrator.NewForKind(kind, engine.Options{BinDir: s.cfg.BinDir}, opts...)
	if err != nil {
		return nil, err
	}
	s.orch = o
	return o, nil
}

func (s *session) Close() {
	if s.orch != nil {
		s.orch.Close()
	}
	if s.secrets != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.secrets.Close(ctx); err != nil {
			s.log.Warn("failed to close secrets server", lg.Err(err))
		}
	}
	if err := s.db.Close(); err != nil {
		s.log.Warn("failed to close database", lg.Err(err))
	}
	_ = s.log.Sync()
}

// loadProfile reads the named profile, fills in the tracked target times
// and attaches the repository password.
func (s *session) loadProfile(name string) (*engine.Profile, error) {
	p, err := s.profiles.Load(name)
	if err != nil {
		return nil, err
	}
	if err := s.db.ApplyTargetTimes(p); err != nil {
		s.log.Warn("failed to load target times", lg.String("profile", name), lg.Err(err))
	}
	password, err := readPassword()
	if err != nil {
		return nil, err
	}
	p.Auth = engine.Auth{Password: password}
	return p, nil
}

// readPassword returns the repository password from --password-file or the
// environment. A single trailing newline in the file is dropped.
func readPassword() (string, error) {
	if passwordFile != "" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		password := strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")
		if password == "" {
			return "", fmt.Errorf("password file %s is empty", passwordFile)
		}
		return password, nil
	}
	if password := os.Getenv(PasswordEnv); password != "" {
		return password, nil
	}
	return "", errNoPassword
}

// commandContext is cancelled on SIGINT or SIGTERM and carries the logger.
func (s *session) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = lg.Attach(ctx, s.log)
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// selectTargets returns the profile targets named by paths, or every
// target when paths is empty.
func selectTargets(p *engine.Profile, paths []string) ([]engine.BackupTarget, error) {
	if len(paths) == 0 {
		return p.Targets, nil
	}
	targets := make([]engine.BackupTarget, 0, len(paths))
	for _, raw := range paths {
		path, err := absPath(raw)
		if err != nil {
			return nil, err
		}
		t, ok := p.Target(path)
		if !ok {
			return nil, fmt.Errorf("%s is not a target of profile %s\n\nRun 'resticgx profile add-target %s %s' to add it", path, p.Name, p.Name, raw)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// listProfileNames lists profiles without opening the database.
func listProfileNames() ([]string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return profile.NewStore(cfg.ProfilesDir()).List()
}
