package team

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrTeamNotFound is returned when a directory has no team by that name.
var ErrTeamNotFound = errors.New("team not found")

// Directory is the read/write lookup of team descriptors.
type Directory interface {
	Lookup(ctx context.Context, name string) (*Team, error)
	List(ctx context.Context) ([]*Team, error)
	Save(ctx context.Context, t *Team) error
	// Delete removes a team. Runs already started keep their snapshot.
	Delete(ctx context.Context, name string) error
}

// MemoryDirectory keeps teams in a map.
type MemoryDirectory struct {
	teams map[string]*Team
	mu    sync.RWMutex
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{teams: make(map[string]*Team)}
}

// Save normalizes, validates and stores a copy of t, replacing any team
// with the same name.
func (d *MemoryDirectory) Save(_ context.Context, t *Team) error {
	c := t.Clone()
	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teams[c.Name] = c
	return nil
}

// Lookup returns a copy of the named team.
func (d *MemoryDirectory) Lookup(_ context.Context, name string) (*Team, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.teams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, name)
	}
	return t.Clone(), nil
}

// Delete removes the named team.
func (d *MemoryDirectory) Delete(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.teams[name]; !ok {
		return fmt.Errorf("%w: %s", ErrTeamNotFound, name)
	}
	delete(d.teams, name)
	return nil
}

// List returns copies of all teams sorted by name.
func (d *MemoryDirectory) List(_ context.Context) ([]*Team, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Team, 0, len(d.teams))
	for _, t := range d.teams {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type teamsFile struct {
	Teams []*Team `yaml:"teams"`
}

// LoadFile reads team descriptors from a YAML file.
func LoadFile(path string) ([]*Team, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read teams %s: %w", path, err)
	}
	var f teamsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse teams %s: %w", path, err)
	}
	for _, t := range f.Teams {
		t.Normalize()
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("teams %s: %w", path, err)
		}
	}
	return f.Teams, nil
}

// Seed saves every team into dir.
func Seed(ctx context.Context, dir Directory, teams []*Team) error {
	for _, t := range teams {
		if err := dir.Save(ctx, t); err != nil {
			return fmt.Errorf("seed team %s: %w", t.Name, err)
		}
	}
	return nil
}
