package workflow

import (
	"fmt"

	"github.com/nidhogg/teamflow/internal/team"
)

// Fixed stage titles for the non-sequential modes.
const (
	StagePlanning    = "Planning"
	StageDelegation  = "Delegation"
	StageExecution   = "Execution"
	StageIntegration = "Integration"

	StageDistribution       = "Task Distribution"
	StageParallelExecution  = "Parallel Execution"
	StageResultCollection   = "Result Collection"
	StageConflictResolution = "Conflict Resolution"

	StageStart      = "Start"
	StageProcessing = "Processing"
	StageCompletion = "Completion"
)

// GeneratePlan builds the ordered stage list for a team. The stage count
// and order depend only on the mode and members; coordinator is used in
// descriptions and may be empty.
func GeneratePlan(t *team.Team, coordinator string) ([]Stage, error) {
	if len(t.Members) == 0 {
		return nil, &ValidationError{Field: "team", Reason: fmt.Sprintf("team %q has no members", t.Name)}
	}

	switch t.Mode {
	case team.ModeSequential:
		stages := make([]Stage, len(t.Members))
		for i, m := range t.Members {
			stages[i] = waiting(m, m+" processes the task")
		}
		return stages, nil

	case team.ModeHierarchical:
		if coordinator == "" {
			coordinator = t.Members[0]
		}
		return []Stage{
			waiting(StagePlanning, coordinator+" creates a plan"),
			waiting(StageDelegation, "Tasks are assigned to virtual co-workers"),
			waiting(StageExecution, "Virtual co-workers execute their tasks"),
			waiting(StageIntegration, coordinator+" integrates results"),
		}, nil

	case team.ModeParallel:
		return []Stage{
			waiting(StageDistribution, "Task is distributed to all virtual co-workers"),
			waiting(StageParallelExecution, "All virtual co-workers work simultaneously"),
			waiting(StageResultCollection, "Results are collected from all virtual co-workers"),
			waiting(StageConflictResolution, "Any conflicts in results are resolved"),
		}, nil
	}

	return []Stage{
		waiting(StageStart, "Begin task execution"),
		waiting(StageProcessing, "Process the task"),
		waiting(StageCompletion, "Complete the task"),
	}, nil
}

func waiting(title, desc string) Stage {
	return Stage{Title: title, Description: desc, Status: StageWaiting}
}
