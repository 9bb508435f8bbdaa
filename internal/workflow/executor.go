package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/teamflow/internal/team"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerExecutor performs one member's unit of work and returns its output.
type WorkerExecutor interface {
	Execute(ctx context.Context, member, input string) (string, error)
}

// WorkerFunc adapts a function to WorkerExecutor.
type WorkerFunc func(ctx context.Context, member, input string) (string, error)

func (f WorkerFunc) Execute(ctx context.Context, member, input string) (string, error) {
	return f(ctx, member, input)
}

// PerformanceRecorder receives member timings for teams that track
// performance.
type PerformanceRecorder interface {
	Record(teamName, member string, d time.Duration, err error)
}

// RunContext is what a stage sees of its run. SetStatus is provided by the
// controller; the executor never touches run status or stage index.
type RunContext struct {
	Team        *team.Team
	Task        string
	Coordinator string
	Stages      []Stage
	Log         *MessageLog
	Workspace   *Workspace
	SetStatus   func(index int, status StageStatus)
}

// StageExecutor runs one stage to completion using the strategy of the
// team's collaboration mode.
type StageExecutor struct {
	worker   WorkerExecutor
	detector ConflictDetector
	resolver ConflictResolver
	deriver  SubtaskDeriver
	recorder PerformanceRecorder
	logger   *zap.Logger
}

// NewStageExecutor creates an executor with the default divergence
// detector, voting resolver and template subtask deriver.
func NewStageExecutor(worker WorkerExecutor, logger *zap.Logger) *StageExecutor {
	return &StageExecutor{
		worker:   worker,
		detector: DivergenceDetector{},
		resolver: VotingResolver{},
		deriver:  TemplateDeriver{},
		logger:   logger,
	}
}

// SetConflictDetector replaces the conflict detection policy.
func (x *StageExecutor) SetConflictDetector(d ConflictDetector) { x.detector = d }

// SetConflictResolver replaces the conflict resolution policy.
func (x *StageExecutor) SetConflictResolver(r ConflictResolver) { x.resolver = r }

// SetSubtaskDeriver replaces the subtask text generator.
func (x *StageExecutor) SetSubtaskDeriver(d SubtaskDeriver) { x.deriver = d }

// SetRecorder enables performance recording.
func (x *StageExecutor) SetRecorder(r PerformanceRecorder) { x.recorder = r }

// ExecuteStage runs the stage at index. The stage moves WAITING →
// IN_PROGRESS → FINISHED or ERROR; on ERROR the returned error is a
// *StageExecutionError.
func (x *StageExecutor) ExecuteStage(ctx context.Context, run *RunContext, index int) (Outcome, error) {
	if index < 0 || index >= len(run.Stages) {
		return OutcomeError, &StageExecutionError{
			Stage: fmt.Sprintf("#%d", index),
			Err:   fmt.Errorf("stage index out of range [0,%d)", len(run.Stages)),
		}
	}
	title := run.Stages[index].Title

	run.SetStatus(index, StageInProgress)
	run.Log.System("Starting step: " + title)

	var err error
	switch run.Team.Mode {
	case team.ModeSequential:
		err = x.sequential(ctx, run, index, title)
	case team.ModeHierarchical:
		err = x.hierarchical(ctx, run, index, title)
	case team.ModeParallel:
		err = x.parallel(ctx, run, index, title)
	case team.ModeConsensus:
		err = x.consensus(ctx, run, index, title)
	}

	if err != nil {
		var se *StageExecutionError
		if !errors.As(err, &se) {
			err = &StageExecutionError{Stage: title, Err: err}
		}
		run.SetStatus(index, StageError)
		x.logger.Warn("stage failed",
			zap.String("team", run.Team.Name),
			zap.String("stage", title),
			zap.Error(err))
		return OutcomeError, err
	}

	run.SetStatus(index, StageFinished)
	run.Log.System("Completed step: " + title)
	return OutcomeFinished, nil
}

// work runs one member's unit of work. Failures are logged to the message
// log before they are returned.
func (x *StageExecutor) work(ctx context.Context, run *RunContext, stage, member, input string) (string, error) {
	start := time.Now()
	out, err := x.worker.Execute(ctx, member, input)
	if run.Team.PerformanceTracking && x.recorder != nil {
		x.recorder.Record(run.Team.Name, member, time.Since(start), err)
	}
	if err != nil {
		run.Log.System(fmt.Sprintf("%s failed: %v", member, err))
		return "", &StageExecutionError{Stage: stage, Member: member, Err: err}
	}
	x.logger.Debug("member finished",
		zap.String("team", run.Team.Name),
		zap.String("member", member),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

func (x *StageExecutor) sequential(ctx context.Context, run *RunContext, index int, title string) error {
	member := run.Team.Members[index]
	run.Log.Append(member, "Working on task: "+run.Task)

	input := run.Task
	if prev := run.Workspace.Last(); prev != "" {
		input = fmt.Sprintf("Task: %s\n\nPrevious work: %s\n\nContinue the work.", run.Task, prev)
	}
	out, err := x.work(ctx, run, title, member, input)
	if err != nil {
		return err
	}
	run.Workspace.SetOutput(member, out)
	run.Workspace.SetAnswer(out)
	run.Log.Append(member, "Completed my part of the task.")
	return nil
}

func (x *StageExecutor) hierarchical(ctx context.Context, run *RunContext, index int, title string) error {
	coord := run.Coordinator
	delegates := delegatesOf(run.Team, coord)

	switch index {
	case 0:
		run.Log.Append(coord, "Creating a plan for task: "+run.Task)
		input := fmt.Sprintf("Task: %s\n\nCreate a plan that splits this task into subtasks for: %s",
			run.Task, strings.Join(delegates, ", "))
		if _, err := x.work(ctx, run, title, coord, input); err != nil {
			return err
		}
		run.Log.Append(coord, fmt.Sprintf("I've created a plan with %d subtasks.", len(delegates)))

	case 1:
		run.Log.Append(coord, "Delegating tasks to team members.")
		for i, m := range delegates {
			sub := x.deriver.Derive(run.Task, m, i)
			run.Workspace.Assign(m, sub)
			run.Log.Append(coord, fmt.Sprintf("@%s Please work on subtask: %s", m, sub))
		}

	case 2:
		for i, m := range delegates {
			sub, ok := run.Workspace.Assignment(m)
			if !ok {
				sub = x.deriver.Derive(run.Task, m, i)
			}
			run.Log.Append(m, "Working on my assigned subtask.")
			out, err := x.work(ctx, run, title, m, sub)
			if err != nil {
				return err
			}
			run.Workspace.SetOutput(m, out)
			run.Log.Append(m, "I've completed my subtask.")
		}

	case 3:
		run.Log.Append(coord, "Integrating results from all team members.")
		var b strings.Builder
		fmt.Fprintf(&b, "Task: %s\n\nResults from the team:\n", run.Task)
		for _, r := range run.Workspace.Results(delegates) {
			fmt.Fprintf(&b, "- %s: %s\n", r.Member, r.Output)
		}
		b.WriteString("\nSynthesize these results into a final response.")
		out, err := x.work(ctx, run, title, coord, b.String())
		if err != nil {
			return err
		}
		run.Workspace.SetAnswer(out)
		run.Log.Append(coord, "I've integrated all results into a final solution.")
	}
	return nil
}

func (x *StageExecutor) parallel(ctx context.Context, run *RunContext, index int, title string) error {
	switch index {
	case 0:
		run.Log.System("Distributing task to all virtual co-workers.")

	case 1:
		limit := run.Team.MaxParallelTasks
		if limit <= 0 {
			limit = len(run.Team.Members)
		}
		var g errgroup.Group
		g.SetLimit(limit)
		for _, m := range dispatchOrder(run.Team) {
			g.Go(func() error {
				run.Log.Append(m, "Working on task: "+run.Task)
				out, err := x.work(ctx, run, title, m, run.Task)
				if err != nil {
					return err
				}
				run.Workspace.SetOutput(m, out)
				run.Log.Append(m, "I've completed my analysis.")
				return nil
			})
		}
		return g.Wait()

	case 2:
		run.Log.System("Collecting results from all virtual co-workers.")

	case 3:
		results := run.Workspace.Results(run.Team.Members)
		if !run.Team.ConflictResolution {
			run.Log.System("Conflict resolution disabled; accepting collected results.")
			if len(results) > 0 {
				run.Workspace.SetAnswer(results[0].Output)
			}
			return nil
		}
		c := x.detector.Detect(results)
		if c == nil {
			run.Log.System("No conflicts detected in the results.")
			if len(results) > 0 {
				run.Workspace.SetAnswer(results[0].Output)
			}
			return nil
		}
		run.Log.System("Detected conflicting results between virtual co-workers.")
		run.Log.Append(c.First, "I believe the answer is "+c.FirstClaim)
		run.Log.Append(c.Second, "I disagree, the answer should be "+c.SecondClaim)
		run.Log.System("Resolving conflict using voting mechanism.")
		winner := x.resolver.Resolve(results)
		run.Workspace.SetAnswer(winner)
		run.Log.System("Conflict resolved in favor of answer " + winner)
	}
	return nil
}

func (x *StageExecutor) consensus(ctx context.Context, run *RunContext, index int, title string) error {
	switch index {
	case 0:
		run.Log.System("Collecting independent answers from all virtual co-workers.")

	case 1:
		for _, m := range run.Team.Members {
			run.Log.Append(m, "Working on task: "+run.Task)
			out, err := x.work(ctx, run, title, m, run.Task)
			if err != nil {
				return err
			}
			run.Workspace.SetOutput(m, out)
			run.Log.Append(m, "I've completed my analysis.")
		}

	case 2:
		coord := run.Coordinator
		results := run.Workspace.Results(run.Team.Members)
		run.Log.Append(coord, "Synthesizing a consensus from all answers.")
		var b strings.Builder
		fmt.Fprintf(&b, "Task: %s\n\nThe team provided these answers:\n", run.Task)
		for _, r := range results {
			fmt.Fprintf(&b, "- %s: %s\n", r.Member, r.Output)
		}
		b.WriteString("\nHighlight agreement, address disagreements and give one consensus answer.")
		if _, err := x.work(ctx, run, title, coord, b.String()); err != nil {
			return err
		}
		winner := x.resolver.Resolve(results)
		run.Workspace.SetAnswer(winner)
		run.Log.System("Consensus reached on answer " + winner)
	}
	return nil
}

// delegatesOf returns the members other than the coordinator, in order.
func delegatesOf(t *team.Team, coordinator string) []string {
	out := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		if m != coordinator {
			out = append(out, m)
		}
	}
	return out
}

// dispatchOrder returns members highest priority first when the team
// prioritizes tasks, otherwise in member order.
func dispatchOrder(t *team.Team) []string {
	order := append([]string(nil), t.Members...)
	if t.TaskPrioritization {
		sort.SliceStable(order, func(i, j int) bool {
			return t.Priority(order[i]) > t.Priority(order[j])
		})
	}
	return order
}
