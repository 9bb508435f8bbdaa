package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/teamflow/internal/team"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stageRecorder struct {
	mu       sync.Mutex
	statuses []StageStatus
}

func (r *stageRecorder) set(_ int, s StageStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

type perfRecord struct {
	team, member string
	failed       bool
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []perfRecord
}

func (f *fakeRecorder) Record(teamName, member string, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, perfRecord{teamName, member, err != nil})
}

func newRun(t *testing.T, tm *team.Team, coordinator string) (*RunContext, *stageRecorder) {
	t.Helper()
	stages, err := GeneratePlan(tm, coordinator)
	require.NoError(t, err)
	rec := &stageRecorder{}
	return &RunContext{
		Team:        tm,
		Task:        "T",
		Coordinator: coordinator,
		Stages:      stages,
		Log:         NewMessageLog(nil),
		Workspace:   NewWorkspace(),
		SetStatus:   rec.set,
	}, rec
}

func echoWorker() WorkerFunc {
	return func(_ context.Context, member, _ string) (string, error) {
		return member + " out", nil
	}
}

func TestExecuteStageStatusProgression(t *testing.T) {
	tm := &team.Team{Name: "t", Members: []string{"A"}, Mode: team.ModeSequential}
	run, rec := newRun(t, tm, "A")
	x := NewStageExecutor(echoWorker(), zap.NewNop())

	outcome, err := x.ExecuteStage(context.Background(), run, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinished, outcome)
	assert.Equal(t, []StageStatus{StageInProgress, StageFinished}, rec.statuses)
	assert.Equal(t, "A out", run.Workspace.Answer())
}

func TestExecuteStageOutOfRange(t *testing.T) {
	tm := &team.Team{Name: "t", Members: []string{"A"}, Mode: team.ModeSequential}
	run, rec := newRun(t, tm, "A")
	x := NewStageExecutor(echoWorker(), zap.NewNop())

	outcome, err := x.ExecuteStage(context.Background(), run, 3)
	assert.Equal(t, OutcomeError, outcome)
	var se *StageExecutionError
	require.True(t, errors.As(err, &se))
	assert.Empty(t, rec.statuses)
}

func TestExecuteStageWorkerFailure(t *testing.T) {
	boom := errors.New("boom")
	tm := &team.Team{Name: "t", Members: []string{"A"}, Mode: team.ModeSequential, PerformanceTracking: true}
	run, rec := newRun(t, tm, "A")
	x := NewStageExecutor(WorkerFunc(func(context.Context, string, string) (string, error) {
		return "", boom
	}), zap.NewNop())
	perf := &fakeRecorder{}
	x.SetRecorder(perf)

	outcome, err := x.ExecuteStage(context.Background(), run, 0)
	assert.Equal(t, OutcomeError, outcome)
	assert.ErrorIs(t, err, boom)

	var se *StageExecutionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "A", se.Member)
	assert.Equal(t, []StageStatus{StageInProgress, StageError}, rec.statuses)

	msgs := run.Log.Messages()
	assert.Equal(t, "A failed: boom", msgs[len(msgs)-1].Body)
	assert.Equal(t, []perfRecord{{"t", "A", true}}, perf.records)
}

func TestRecorderOnlyWhenTracking(t *testing.T) {
	tm := &team.Team{Name: "t", Members: []string{"A"}, Mode: team.ModeSequential}
	run, _ := newRun(t, tm, "A")
	x := NewStageExecutor(echoWorker(), zap.NewNop())
	perf := &fakeRecorder{}
	x.SetRecorder(perf)

	_, err := x.ExecuteStage(context.Background(), run, 0)
	require.NoError(t, err)
	assert.Empty(t, perf.records)
}

func TestParallelConcurrencyLimit(t *testing.T) {
	tm := &team.Team{Name: "t", Members: []string{"A", "B", "C", "D"}, Mode: team.ModeParallel, MaxParallelTasks: 2}
	run, _ := newRun(t, tm, "A")

	var mu sync.Mutex
	running, peak := 0, 0
	x := NewStageExecutor(WorkerFunc(func(_ context.Context, member, _ string) (string, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return member, nil
	}), zap.NewNop())

	outcome, err := x.ExecuteStage(context.Background(), run, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinished, outcome)
	assert.LessOrEqual(t, peak, 2)
	assert.Len(t, run.Workspace.Outputs(), 4)
}

func TestConflictResolutionDisabled(t *testing.T) {
	tm := &team.Team{Name: "t", Members: []string{"A", "B"}, Mode: team.ModeParallel}
	run, _ := newRun(t, tm, "A")
	run.Workspace.SetOutput("A", "1")
	run.Workspace.SetOutput("B", "2")
	x := NewStageExecutor(echoWorker(), zap.NewNop())

	_, err := x.ExecuteStage(context.Background(), run, 3)
	require.NoError(t, err)
	bodies := bodiesOf(run.Log.Messages())
	assert.Contains(t, bodies, "system: Conflict resolution disabled; accepting collected results.")
	assert.Equal(t, "1", run.Workspace.Answer())
}

func TestCustomConflictDetector(t *testing.T) {
	tm := &team.Team{Name: "t", Members: []string{"A", "B"}, Mode: team.ModeParallel, ConflictResolution: true}
	run, _ := newRun(t, tm, "A")
	run.Workspace.SetOutput("A", "same")
	run.Workspace.SetOutput("B", "same")
	x := NewStageExecutor(echoWorker(), zap.NewNop())
	x.SetConflictDetector(ConflictDetectorFunc(func([]MemberResult) *Conflict {
		return &Conflict{First: "A", FirstClaim: "x", Second: "B", SecondClaim: "y"}
	}))

	_, err := x.ExecuteStage(context.Background(), run, 3)
	require.NoError(t, err)
	bodies := bodiesOf(run.Log.Messages())
	assert.Contains(t, bodies, "A: I believe the answer is x")
	assert.Contains(t, bodies, "B: I disagree, the answer should be y")
	assert.Contains(t, bodies, "system: Conflict resolved in favor of answer same")
}

func TestDispatchOrder(t *testing.T) {
	tm := &team.Team{
		Members:    []string{"A", "B", "C", "D"},
		Priorities: map[string]int{"C": 5, "B": 3},
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, dispatchOrder(tm))

	tm.TaskPrioritization = true
	assert.Equal(t, []string{"C", "B", "A", "D"}, dispatchOrder(tm))
}

func TestDelegatesOf(t *testing.T) {
	tm := &team.Team{Members: []string{"A", "B", "C"}}
	assert.Equal(t, []string{"A", "C"}, delegatesOf(tm, "B"))
}
