package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/teamflow/internal/team"
	"go.uber.org/zap"
)

// Sink receives every event of every run the engine manages.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

type runEntry struct {
	ctl     *Controller
	created time.Time
	// forwarding is true while a goroutine relays the run's events to the
	// sinks. Guarded by Engine.mu.
	forwarding bool
}

// Engine keeps workflow runs addressable by handle and forwards their
// events to the registered sinks.
type Engine struct {
	teams    team.Directory
	executor *StageExecutor
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu    sync.RWMutex
	runs  map[string]*runEntry
	sinks []Sink
	wg    sync.WaitGroup
}

// NewEngine creates an engine resolving team names through teams.
func NewEngine(teams team.Directory, executor *StageExecutor, logger *zap.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		teams:    teams,
		executor: executor,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		runs:     make(map[string]*runEntry),
	}
}

// AddSink registers a sink for runs started after the call.
func (e *Engine) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Teams returns the team directory.
func (e *Engine) Teams() team.Directory { return e.teams }

// Start looks up teamName and starts a run of task on it.
func (e *Engine) Start(ctx context.Context, teamName, task, coordinator string) (string, error) {
	t, err := e.teams.Lookup(ctx, teamName)
	if err != nil {
		return "", err
	}
	return e.StartTeam(ctx, t, task, coordinator)
}

// StartTeam starts a run of task on an explicit team descriptor. The run
// is only registered if it starts.
func (e *Engine) StartTeam(_ context.Context, t *team.Team, task, coordinator string) (string, error) {
	if t == nil {
		return "", &ValidationError{Field: "team", Reason: "team is required"}
	}
	snap := t.Clone()
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return "", &ValidationError{Field: "team", Reason: strings.TrimPrefix(err.Error(), team.ErrInvalidTeam.Error()+": ")}
	}

	id := uuid.New().String()
	entry := &runEntry{ctl: NewController(e.ctx, id, snap, e.executor, e.logger), created: time.Now()}

	e.mu.Lock()
	e.forwardLocked(entry)
	e.mu.Unlock()

	if err := entry.ctl.Start(task, coordinator); err != nil {
		entry.ctl.Close()
		return "", err
	}

	e.mu.Lock()
	e.runs[id] = entry
	e.mu.Unlock()

	e.logger.Info("run created", zap.String("run", id), zap.String("team", snap.Name))
	return id, nil
}

// forwardLocked relays the run's events to the sinks until the run reaches
// a terminal status or is closed. A run that is restarted gets a new
// forwarder. e.mu must be held.
func (e *Engine) forwardLocked(entry *runEntry) {
	if entry.forwarding || len(e.sinks) == 0 {
		return
	}
	sinks := append([]Sink(nil), e.sinks...)
	events, unsubscribe := entry.ctl.Subscribe(256)
	entry.forwarding = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		stopped := false
		for ev := range events {
			for _, s := range sinks {
				if err := s.Publish(e.ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
					e.logger.Warn("sink publish failed",
						zap.String("run", ev.RunID),
						zap.String("type", string(ev.Type)),
						zap.Error(err))
				}
			}
			if !stopped && ev.Type == EventStatus && ev.Status.Terminal() {
				e.mu.Lock()
				// Still terminal under e.mu means no restart can slip in
				// before the subscription ends; buffered events are drained.
				if entry.ctl.Status().Terminal() {
					stopped = true
					entry.forwarding = false
					unsubscribe()
				}
				e.mu.Unlock()
			}
		}
		if !stopped {
			e.mu.Lock()
			entry.forwarding = false
			e.mu.Unlock()
		}
	}()
}

func (e *Engine) get(id string) (*Controller, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r.ctl, nil
}

// withForwarding runs op on the run while holding e.mu, after making sure
// its events reach the sinks.
func (e *Engine) withForwarding(id string, op func(*Controller) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	e.forwardLocked(r)
	return op(r.ctl)
}

// Pause pauses the run at its next stage boundary.
func (e *Engine) Pause(id string) error {
	ctl, err := e.get(id)
	if err != nil {
		return err
	}
	return ctl.Pause()
}

// Resume continues a paused run.
func (e *Engine) Resume(id string) error {
	ctl, err := e.get(id)
	if err != nil {
		return err
	}
	return ctl.Resume()
}

// Restart resets the run to IDLE.
func (e *Engine) Restart(id string) error {
	return e.withForwarding(id, (*Controller).Restart)
}

// Rerun starts an IDLE run again, typically after Restart.
func (e *Engine) Rerun(id, task, coordinator string) error {
	return e.withForwarding(id, func(ctl *Controller) error {
		return ctl.Start(task, coordinator)
	})
}

// Discard closes the run and forgets it. In-flight work is cancelled.
func (e *Engine) Discard(id string) error {
	e.mu.Lock()
	r, ok := e.runs[id]
	delete(e.runs, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	r.ctl.Close()
	e.logger.Info("run discarded", zap.String("run", id))
	return nil
}

// Status returns a snapshot of the run.
func (e *Engine) Status(id string) (Snapshot, error) {
	ctl, err := e.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return ctl.Snapshot(), nil
}

// Subscribe streams the run's live events.
func (e *Engine) Subscribe(id string, buffer int) (<-chan Event, func(), error) {
	ctl, err := e.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := ctl.Subscribe(buffer)
	return ch, cancel, nil
}

// Wait blocks until the run stops advancing: it paused, completed or
// failed.
func (e *Engine) Wait(ctx context.Context, id string) (Snapshot, error) {
	ctl, err := e.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := ctl.Wait(ctx); err != nil {
		return Snapshot{}, err
	}
	return ctl.Snapshot(), nil
}

// List returns snapshots of all runs, oldest first.
func (e *Engine) List() []Snapshot {
	e.mu.RLock()
	entries := make([]*runEntry, 0, len(e.runs))
	for _, r := range e.runs {
		entries = append(entries, r)
	}
	e.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].created.Before(entries[j].created)
	})
	out := make([]Snapshot, len(entries))
	for i, r := range entries {
		out[i] = r.ctl.Snapshot()
	}
	return out
}

// Close cancels all in-flight work and waits for event forwarding to end.
func (e *Engine) Close() {
	e.cancel()
	e.mu.Lock()
	for _, r := range e.runs {
		r.ctl.Close()
	}
	e.mu.Unlock()
	e.wg.Wait()
}
