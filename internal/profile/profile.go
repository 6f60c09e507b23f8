// Package profile stores backup profiles on disk, one directory per
// profile holding a profile.yaml.
package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/blackwell-systems/resticgx/internal/config"
	"github.com/blackwell-systems/resticgx/internal/engine"
)

// FileName is the profile document inside a profile directory.
const FileName = "profile.yaml"

var (
	ErrInvalidName = errors.New("invalid profile name")
	ErrExists      = errors.New("profile already exists")
	ErrNotFound    = errors.New("profile does not exist")
)

var nameRE = regexp.MustCompile(`^[0-9a-z._-]{3,32}$`)

// ValidName reports whether name may be used as a profile name.
func ValidName(name string) bool {
	return nameRE.MatchString(name) && name != "." && name != ".."
}

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("profilename", func(fl validator.FieldLevel) bool {
		return ValidName(fl.Field().String())
	})
}

// Validate checks a profile's fields.
func Validate(p *engine.Profile) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid profile %q: %w", p.Name, err)
	}
	seen := make(map[string]bool, len(p.Targets))
	for _, t := range p.Targets {
		if seen[t.Path] {
			return fmt.Errorf("invalid profile %q: duplicate target %s", p.Name, t.Path)
		}
		seen[t.Path] = true
	}
	return nil
}

// Store manages profiles under Root.
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

// Dir returns the directory of the named profile.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.Root, name)
}

// Path returns the profile file of the named profile.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir(name), FileName)
}

func (s *Store) file(name string) *config.FileStore {
	return config.NewFileStore(s.Path(name))
}

// List returns the names of all profiles, sorted.
func (s *Store) List() ([]string, error) {
	if err := os.MkdirAll(s.Root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether the named profile has a profile file.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Create writes a new profile. The name must be valid and unused.
func (s *Store) Create(p *engine.Profile) error {
	if !ValidName(p.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, p.Name)
	}
	if s.Exists(p.Name) {
		return fmt.Errorf("%w: %s", ErrExists, p.Name)
	}
	if err := os.MkdirAll(s.Dir(p.Name), 0o700); err != nil {
		return fmt.Errorf("failed to create profile %s: %w", p.Name, err)
	}
	return s.Save(p)
}

// Save validates and writes p.
func (s *Store) Save(p *engine.Profile) error {
	if err := Validate(p); err != nil {
		return err
	}
	if err := s.file(p.Name).Save(p); err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.Name, err)
	}
	return nil
}

// Load reads the named profile.
func (s *Store) Load(name string) (*engine.Profile, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	var p engine.Profile
	if err := s.file(name).Load(&p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to load profile %s: %w", name, err)
	}
	// the directory name is authoritative
	p.Name = name
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Delete removes the named profile and its directory.
func (s *Store) Delete(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !s.Exists(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.RemoveAll(s.Dir(name)); err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", name, err)
	}
	return nil
}

// AddTarget appends path to p's targets. Adding an existing path is a no-op.
func AddTarget(p *engine.Profile, path string) bool {
	if _, ok := p.Target(path); ok {
		return false
	}
	p.Targets = append(p.Targets, engine.BackupTarget{Path: path})
	return true
}

// RemoveTarget drops path from p's targets.
func RemoveTarget(p *engine.Profile, path string) bool {
	for i, t := range p.Targets {
		if t.Path == path {
			p.Targets = append(p.Targets[:i], p.Targets[i+1:]...)
			return true
		}
	}
	return false
}
