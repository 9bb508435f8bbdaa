package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/teamflow/internal/team"
)

// Store implements team.Directory.
var _ team.Directory = (*Store)(nil)

// Save validates and upserts a team.
func (s *Store) Save(ctx context.Context, t *team.Team) error {
	c := t.Clone()
	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	priorities := c.Priorities
	if priorities == nil {
		priorities = map[string]int{}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO teams (name, description, members, collaboration_mode, max_parallel_tasks,
		                   conflict_resolution, task_prioritization, performance_tracking,
		                   lead, priorities, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			members = EXCLUDED.members,
			collaboration_mode = EXCLUDED.collaboration_mode,
			max_parallel_tasks = EXCLUDED.max_parallel_tasks,
			conflict_resolution = EXCLUDED.conflict_resolution,
			task_prioritization = EXCLUDED.task_prioritization,
			performance_tracking = EXCLUDED.performance_tracking,
			lead = EXCLUDED.lead,
			priorities = EXCLUDED.priorities,
			updated_at = EXCLUDED.updated_at`,
		c.Name, c.Description, c.Members, string(c.Mode), c.MaxParallelTasks,
		c.ConflictResolution, c.TaskPrioritization, c.PerformanceTracking,
		c.Lead, priorities, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save team %s: %w", c.Name, err)
	}
	return nil
}

const teamColumns = `name, description, members, collaboration_mode, max_parallel_tasks,
	conflict_resolution, task_prioritization, performance_tracking, lead, priorities`

func scanTeam(row pgx.Row) (*team.Team, error) {
	var t team.Team
	var mode string
	if err := row.Scan(
		&t.Name, &t.Description, &t.Members, &mode, &t.MaxParallelTasks,
		&t.ConflictResolution, &t.TaskPrioritization, &t.PerformanceTracking,
		&t.Lead, &t.Priorities,
	); err != nil {
		return nil, err
	}
	t.Mode = team.Mode(mode)
	if len(t.Priorities) == 0 {
		t.Priorities = nil
	}
	return &t, nil
}

// Lookup retrieves a team by name.
func (s *Store) Lookup(ctx context.Context, name string) (*team.Team, error) {
	row := s.db.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE name = $1`, name)
	t, err := scanTeam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", team.ErrTeamNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get team %s: %w", name, err)
	}
	return t, nil
}

// List returns all teams ordered by name.
func (s *Store) List(ctx context.Context) ([]*team.Team, error) {
	rows, err := s.db.Query(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []*team.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// Delete removes a team.
func (s *Store) Delete(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM teams WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete team %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", team.ErrTeamNotFound, name)
	}
	return nil
}
