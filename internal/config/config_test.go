package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if dir != filepath.Join("/tmp/xdg", "resticgx") {
		t.Errorf("Dir() = %q", dir)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine != "restic" {
		t.Errorf("Engine = %q, want restic", cfg.Engine)
	}
	if cfg.MountPollAttempts != 5 {
		t.Errorf("MountPollAttempts = %d, want 5", cfg.MountPollAttempts)
	}
	if cfg.MountPollInterval.Std() != 500*time.Millisecond {
		t.Errorf("MountPollInterval = %v", cfg.MountPollInterval.Std())
	}
	if cfg.SettleDelay.Std() != 300*time.Millisecond {
		t.Errorf("SettleDelay = %v", cfg.SettleDelay.Std())
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `engine: rustic
data_dir: /srv/resticgx
password_mode: command
mount_poll_interval: 1s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine != "rustic" || cfg.PasswordMode != PasswordCommand {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.MountPollInterval.Std() != time.Second {
		t.Errorf("MountPollInterval = %v, want 1s", cfg.MountPollInterval.Std())
	}
	// untouched fields keep their defaults
	if cfg.MountPollAttempts != 5 {
		t.Errorf("MountPollAttempts = %d, want 5", cfg.MountPollAttempts)
	}
	if cfg.DBPath() != filepath.Join("/srv/resticgx", "resticgx.db") {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown engine", "engine: borg\n"},
		{"unknown password mode", "password_mode: keyring\n"},
		{"zero attempts", "mount_poll_attempts: 0\n"},
		{"bad duration", "settle_delay: soon\n"},
		{"not yaml", "engine: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	store := NewFileStore(path)

	cfg := Default()
	cfg.Engine = "rustic"
	cfg.SettleDelay = Duration(time.Second)
	if err := store.Save(cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "settle_delay: 1s") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	var got Config
	if err := store.Load(&got); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Engine != "rustic" || got.SettleDelay.Std() != time.Second {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestFileStore_LoadEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var cfg Config
	if err := NewFileStore(path).Load(&cfg); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestFileStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewFileStore(path)
	if err := store.Save(Default()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 16)
	if err := store.Watch(ctx, func() { changed <- struct{}{} }); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	cfg := Default()
	cfg.Debug = true
	if err := store.Save(cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification after save")
	}
}

func TestFileStore_WatchNilCallback(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "config.yaml"))
	if err := store.Watch(context.Background(), nil); err == nil {
		t.Error("expected error for nil callback")
	}
}
