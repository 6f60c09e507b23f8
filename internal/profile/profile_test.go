package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/resticgx/internal/engine"
)

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"home", true},
		{"laptop-2.daily_", true},
		{"ab", false},
		{"Home", false},
		{"with space", false},
		{"a/b/c", false},
		{"abcdefghijklmnopqrstuvwxyz0123456", false},
		{"...", true},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidName(tt.name), tt.name)
	}
}

func newProfile(name string) *engine.Profile {
	return &engine.Profile{
		Name:    name,
		Repo:    "/srv/backup/repo",
		Targets: []engine.BackupTarget{{Path: "/home/u/docs"}},
		Exclude: engine.ExcludeRule{Method: engine.ExcludeList, List: []string{"*.tmp"}},
		Retention: engine.RetentionPolicy{
			KeepDaily: 7,
		},
		Auth: engine.Auth{Password: "secret"},
	}
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore(t.TempDir())

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Create(newProfile("work")))
	require.NoError(t, s.Create(newProfile("home")))

	err = s.Create(newProfile("home"))
	assert.ErrorIs(t, err, ErrExists)

	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "work"}, names)

	p, err := s.Load("home")
	require.NoError(t, err)
	assert.Equal(t, "/srv/backup/repo", p.Repo)
	assert.Equal(t, 7, p.Retention.KeepDaily)
	assert.Equal(t, []string{"*.tmp"}, p.Exclude.List)
	assert.Empty(t, p.Auth.Password, "auth must never be persisted")

	data, err := os.ReadFile(s.Path("home"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	require.NoError(t, s.Delete("home"))
	_, err = s.Load("home")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("home"), ErrNotFound)
}

func TestCreateInvalidName(t *testing.T) {
	s := NewStore(t.TempDir())
	err := s.Create(newProfile("No"))
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestSaveRejectsInvalidProfile(t *testing.T) {
	s := NewStore(t.TempDir())

	p := newProfile("nodest")
	p.Repo = ""
	assert.Error(t, s.Create(p))

	p = newProfile("badfile")
	p.Exclude = engine.ExcludeRule{Method: engine.ExcludeFile}
	assert.Error(t, s.Create(p))

	p = newProfile("dupes")
	p.Targets = append(p.Targets, engine.BackupTarget{Path: "/home/u/docs"})
	assert.Error(t, s.Create(p))
}

func TestListSkipsStrayEntries(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	require.NoError(t, s.Create(newProfile("home")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "UPPER"), 0o700))

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, names)
}

func TestAddRemoveTarget(t *testing.T) {
	p := newProfile("home")
	assert.True(t, AddTarget(p, "/home/u/photos"))
	assert.False(t, AddTarget(p, "/home/u/photos"))
	assert.Len(t, p.Targets, 2)

	assert.True(t, RemoveTarget(p, "/home/u/docs"))
	assert.False(t, RemoveTarget(p, "/home/u/docs"))
	require.Len(t, p.Targets, 1)
	assert.Equal(t, "/home/u/photos", p.Targets[0].Path)
}
