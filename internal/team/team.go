package team

import (
	"errors"
	"fmt"
	"strings"
)

// Mode defines how the members of a team collaborate on a task.
type Mode string

const (
	ModeSequential   Mode = "SEQUENTIAL"
	ModeParallel     Mode = "PARALLEL"
	ModeHierarchical Mode = "HIERARCHICAL"
	ModeConsensus    Mode = "CONSENSUS"
)

// DefaultMaxParallelTasks bounds fan-out when a team does not set a limit.
const DefaultMaxParallelTasks = 4

// ParseMode normalizes a mode name. Unknown names are kept as-is so the
// engine can fall back to its generic plan.
func ParseMode(s string) Mode {
	return Mode(strings.ToUpper(strings.TrimSpace(s)))
}

// Known reports whether m is one of the built-in collaboration modes.
func (m Mode) Known() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeHierarchical, ModeConsensus:
		return true
	}
	return false
}

// Team is a named group of workers with a chosen collaboration mode.
type Team struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Members     []string `json:"members" yaml:"members"`
	Mode        Mode     `json:"collaboration_mode" yaml:"collaboration_mode"`

	MaxParallelTasks    int  `json:"max_parallel_tasks" yaml:"max_parallel_tasks"`
	ConflictResolution  bool `json:"enable_conflict_resolution" yaml:"enable_conflict_resolution"`
	TaskPrioritization  bool `json:"enable_task_prioritization" yaml:"enable_task_prioritization"`
	PerformanceTracking bool `json:"enable_performance_tracking" yaml:"enable_performance_tracking"`

	// Lead is the default coordinator used when a hierarchical run is
	// started without one.
	Lead string `json:"lead,omitempty" yaml:"lead,omitempty"`
	// Priorities ranks members (1-5, 5 highest) for dispatch order.
	Priorities map[string]int `json:"priorities,omitempty" yaml:"priorities,omitempty"`
}

// Has reports whether member belongs to the team.
func (t *Team) Has(member string) bool {
	for _, m := range t.Members {
		if m == member {
			return true
		}
	}
	return false
}

// Priority returns the member's priority, 1 when unset.
func (t *Team) Priority(member string) int {
	if p, ok := t.Priorities[member]; ok && p > 0 {
		return p
	}
	return 1
}

// Clone returns a deep copy so a run can hold an immutable snapshot.
func (t *Team) Clone() *Team {
	c := *t
	c.Members = append([]string(nil), t.Members...)
	if t.Priorities != nil {
		c.Priorities = make(map[string]int, len(t.Priorities))
		for k, v := range t.Priorities {
			c.Priorities[k] = v
		}
	}
	return &c
}

// Normalize fills defaults: upper-case mode and a positive parallel limit.
func (t *Team) Normalize() {
	t.Mode = ParseMode(string(t.Mode))
	if t.Mode == "" {
		t.Mode = ModeSequential
	}
	if t.MaxParallelTasks <= 0 {
		t.MaxParallelTasks = DefaultMaxParallelTasks
	}
}

// Validate checks the descriptor itself. An empty member list is allowed
// here; starting a run on such a team is what fails.
func (t *Team) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return invalid("team name is required")
	}
	seen := make(map[string]bool, len(t.Members))
	for _, m := range t.Members {
		if strings.TrimSpace(m) == "" {
			return invalid("team %s: empty member id", t.Name)
		}
		if m == "system" {
			return invalid("team %s: member id %q is reserved", t.Name, m)
		}
		if seen[m] {
			return invalid("team %s: duplicate member %s", t.Name, m)
		}
		seen[m] = true
	}
	if t.Lead != "" && !seen[t.Lead] {
		return invalid("team %s: lead %s is not a member", t.Name, t.Lead)
	}
	for m, p := range t.Priorities {
		if !seen[m] {
			return invalid("team %s: priority for unknown member %s", t.Name, m)
		}
		if p < 1 || p > 5 {
			return invalid("team %s: priority %d for %s out of range 1-5", t.Name, p, m)
		}
	}
	if t.MaxParallelTasks < 0 {
		return invalid("team %s: max_parallel_tasks must be positive", t.Name)
	}
	return nil
}

// ErrInvalidTeam is wrapped by every Validate failure.
var ErrInvalidTeam = errors.New("invalid team")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidTeam}, args...)...)
}
