package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nidhogg/teamflow/internal/team"
	"go.uber.org/zap"
)

// Controller owns one workflow run and drives its stages. It is the only
// writer of the run's status and stage index.
type Controller struct {
	id       string
	team     *team.Team
	executor *StageExecutor
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu          sync.Mutex
	status      Status
	task        string
	coordinator string
	current     int
	stages      []Stage
	log         *MessageLog
	workspace   *Workspace
	result      string
	driving     bool
	done        chan struct{}
	stop        context.CancelFunc

	// epoch changes on restart; work started under an older epoch is
	// discarded when it reports back.
	epoch atomic.Uint64

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	seq     uint64
}

// NewController creates an IDLE run for a snapshot of t. Work runs under
// ctx until Close is called.
func NewController(ctx context.Context, id string, t *team.Team, executor *StageExecutor, logger *zap.Logger) *Controller {
	cctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		id:        id,
		team:      t.Clone(),
		executor:  executor,
		logger:    logger.With(zap.String("run", id), zap.String("team", t.Name)),
		ctx:       cctx,
		cancel:    cancel,
		status:    StatusIdle,
		workspace: NewWorkspace(),
		subs:      make(map[int]chan Event),
	}
	c.log = c.newLog()
	return c
}

// ID returns the run handle.
func (c *Controller) ID() string { return c.id }

// Team returns the team snapshot the run works with.
func (c *Controller) Team() *team.Team { return c.team.Clone() }

// Start validates the request, generates the plan and begins driving
// stages from index 0. Valid only from IDLE.
func (c *Controller) Start(task, coordinator string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusIdle {
		return &InvalidStateError{Op: "start", State: c.status}
	}
	task = strings.TrimSpace(task)
	if task == "" {
		return &ValidationError{Field: "task", Reason: "task is required"}
	}
	coord, err := resolveCoordinator(c.team, strings.TrimSpace(coordinator))
	if err != nil {
		return err
	}
	stages, err := GeneratePlan(c.team, coord)
	if err != nil {
		return err
	}

	c.task = task
	c.coordinator = coord
	c.stages = stages
	c.current = 0
	c.result = ""
	c.workspace = NewWorkspace()

	c.log.System("Starting workflow for task: " + task)
	c.setStatusLocked(StatusRunning)
	c.logger.Info("workflow started",
		zap.String("mode", string(c.team.Mode)),
		zap.String("coordinator", coord),
		zap.Int("stages", len(stages)))
	c.launchLocked()
	return nil
}

// Pause stops stage advancement after the in-flight stage yields. Valid
// only from RUNNING.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning {
		return &InvalidStateError{Op: "pause", State: c.status}
	}
	c.setStatusLocked(StatusPaused)
	c.log.System("Workflow paused")
	c.logger.Info("workflow paused", zap.Int("stage", c.current))
	return nil
}

// Resume continues from the current stage index. Valid only from PAUSED.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPaused {
		return &InvalidStateError{Op: "resume", State: c.status}
	}
	c.setStatusLocked(StatusRunning)
	c.log.System("Workflow resumed")
	c.logger.Info("workflow resumed", zap.Int("stage", c.current))
	c.launchLocked()
	return nil
}

// Restart resets the run to IDLE: stage index 0, stages WAITING, message
// log cleared. Valid from COMPLETED, FAILED or PAUSED. The plan is only
// regenerated by the next Start.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case StatusCompleted, StatusFailed, StatusPaused:
	default:
		return &InvalidStateError{Op: "restart", State: c.status}
	}

	c.epoch.Add(1)
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.driving = false
	c.done = nil
	c.current = 0
	for i := range c.stages {
		c.stages[i].Status = StageWaiting
	}
	c.workspace = NewWorkspace()
	c.result = ""
	c.log = c.newLog()
	c.log.System("Workflow restarted")
	c.setStatusLocked(StatusIdle)
	c.logger.Info("workflow restarted")
	return nil
}

// Snapshot returns a copy of the run's state. Safe to call at any time.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	stages := make([]Stage, len(c.stages))
	copy(stages, c.stages)
	outputs := c.workspace.Outputs()
	if len(outputs) == 0 {
		outputs = nil
	}
	return Snapshot{
		ID:           c.id,
		Team:         c.team.Name,
		Mode:         string(c.team.Mode),
		Task:         c.task,
		Coordinator:  c.coordinator,
		Status:       c.status,
		CurrentStage: c.current,
		Stages:       stages,
		Messages:     c.log.Messages(),
		Result:       c.result,
		Answer:       c.workspace.Answer(),
		Outputs:      outputs,
	}
}

// Status returns the current run status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Wait blocks until the current driving loop has yielded, either at a
// pause boundary or on a terminal state.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel of live events and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs == nil {
		close(ch)
		c.subMu.Unlock()
		return ch, func() {}
	}
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Close cancels in-flight work and ends all subscriptions.
func (c *Controller) Close() {
	c.cancel()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subs = nil
}

func (c *Controller) launchLocked() {
	if c.driving {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.driving = true
	c.done = make(chan struct{})
	c.stop = cancel
	go c.drive(ctx, c.epoch.Load(), c.done)
}

// drive runs stages while the run is RUNNING. It re-checks the status at
// every stage boundary, which is where a pause takes effect.
func (c *Controller) drive(ctx context.Context, epoch uint64, done chan struct{}) {
	defer close(done)

	for {
		c.mu.Lock()
		if c.epoch.Load() != epoch {
			c.mu.Unlock()
			return
		}
		if c.status != StatusRunning {
			c.driving = false
			c.mu.Unlock()
			return
		}
		// A stage that finished while the run was paused is skipped.
		for c.current < len(c.stages) && c.stages[c.current].Status == StageFinished {
			c.current++
		}
		if c.current >= len(c.stages) {
			c.completeLocked()
			c.driving = false
			c.mu.Unlock()
			return
		}
		idx := c.current
		rc := c.runContextLocked(epoch)
		c.mu.Unlock()

		outcome, err := c.executor.ExecuteStage(ctx, rc, idx)

		c.mu.Lock()
		if c.epoch.Load() != epoch {
			c.mu.Unlock()
			return
		}
		if outcome == OutcomeError {
			c.log.System(fmt.Sprintf("Error in step %s: %v", c.stages[idx].Title, err))
			c.setStatusLocked(StatusFailed)
			c.driving = false
			c.logger.Warn("workflow failed", zap.Int("stage", idx), zap.Error(err))
			c.mu.Unlock()
			return
		}
		if c.status == StatusRunning {
			c.current++
		}
		c.mu.Unlock()
	}
}

func (c *Controller) completeLocked() {
	c.setStatusLocked(StatusCompleted)
	c.log.System("Workflow completed successfully")
	c.result = fmt.Sprintf(`Task "%s" completed successfully by team "%s" using %s collaboration mode.`,
		c.task, c.team.Name, c.team.Mode)
	c.emit(Event{Type: EventStatus, Status: StatusCompleted, StageIndex: c.current, Result: c.result})
	c.logger.Info("workflow completed")
}

// runContextLocked builds the view a stage works against. Stage status
// updates from an older epoch are ignored.
func (c *Controller) runContextLocked(epoch uint64) *RunContext {
	stages := make([]Stage, len(c.stages))
	copy(stages, c.stages)
	return &RunContext{
		Team:        c.team,
		Task:        c.task,
		Coordinator: c.coordinator,
		Stages:      stages,
		Log:         c.log,
		Workspace:   c.workspace,
		SetStatus: func(index int, status StageStatus) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.epoch.Load() != epoch || index >= len(c.stages) {
				return
			}
			c.stages[index].Status = status
			st := c.stages[index]
			c.emit(Event{Type: EventStage, StageIndex: index, Stage: &st})
		},
	}
}

func (c *Controller) setStatusLocked(to Status) {
	if err := Transition(c.status, to); err != nil {
		c.logger.Error("unexpected status transition", zap.Error(err))
	}
	c.status = to
	if to != StatusCompleted {
		c.emit(Event{Type: EventStatus, Status: to, StageIndex: c.current})
	}
}

// newLog creates a message log bound to the current epoch.
func (c *Controller) newLog() *MessageLog {
	epoch := c.epoch.Load()
	return NewMessageLog(func(m Message) {
		if c.epoch.Load() != epoch {
			return
		}
		c.emit(Event{Type: EventMessage, Message: &m})
	})
}

func (c *Controller) emit(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.seq++
	ev.Seq = c.seq
	ev.RunID = c.id
	ev.Team = c.team.Name
	ev.Time = time.Now()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Warn("dropping event for slow subscriber",
				zap.Uint64("seq", ev.Seq), zap.String("type", string(ev.Type)))
		}
	}
}

// resolveCoordinator picks the run's coordinator. HIERARCHICAL needs one,
// explicitly or through the team lead; other modes fall back to the first
// member.
func resolveCoordinator(t *team.Team, coordinator string) (string, error) {
	if len(t.Members) == 0 {
		return "", &ValidationError{Field: "team", Reason: fmt.Sprintf("team %q has no members", t.Name)}
	}
	if coordinator != "" && !t.Has(coordinator) {
		return "", &ValidationError{Field: "coordinator", Reason: fmt.Sprintf("%s is not a member of team %s", coordinator, t.Name)}
	}
	if coordinator != "" {
		return coordinator, nil
	}
	if t.Mode == team.ModeHierarchical {
		if t.Lead != "" && t.Has(t.Lead) {
			return t.Lead, nil
		}
		return "", &ValidationError{Field: "coordinator", Reason: "required for HIERARCHICAL mode"}
	}
	return t.Members[0], nil
}
