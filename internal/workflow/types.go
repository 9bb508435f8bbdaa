package workflow

import (
	"errors"
	"fmt"
	"time"
)

// Status is the state of a workflow run.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further stage transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransitions defines allowed run state transitions. Returning to
// IDLE is a restart.
var validTransitions = map[Status][]Status{
	StatusIdle:      {StatusRunning},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusFailed},
	StatusPaused:    {StatusRunning, StatusFailed, StatusIdle},
	StatusCompleted: {StatusIdle},
	StatusFailed:    {StatusIdle},
}

// Transition returns nil if from→to is a legal transition.
func Transition(from, to Status) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("no transitions from %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %q → %q", from, to)
}

// StageStatus is the progress of a single stage.
type StageStatus string

const (
	StageWaiting    StageStatus = "WAITING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageFinished   StageStatus = "FINISHED"
	StageError      StageStatus = "ERROR"
)

// Stage is one ordered unit of a workflow plan.
type Stage struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      StageStatus `json:"status"`
}

// Outcome is the result of executing one stage.
type Outcome string

const (
	OutcomeFinished Outcome = "FINISHED"
	OutcomeError    Outcome = "ERROR"
)

// SystemSender authors every message not written by a team member.
const SystemSender = "system"

// Message is one immutable entry of the message log.
type Message struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a read-only copy of a run.
type Snapshot struct {
	ID           string            `json:"id"`
	Team         string            `json:"team"`
	Mode         string            `json:"collaboration_mode"`
	Task         string            `json:"task"`
	Coordinator  string            `json:"coordinator,omitempty"`
	Status       Status            `json:"status"`
	CurrentStage int               `json:"current_stage"`
	Stages       []Stage           `json:"stages"`
	Messages     []Message         `json:"messages"`
	Result       string            `json:"result,omitempty"`
	Answer       string            `json:"answer,omitempty"`
	Outputs      map[string]string `json:"outputs,omitempty"`
}

// ErrRunNotFound is returned for an unknown run handle.
var ErrRunNotFound = errors.New("run not found")

// ValidationError reports bad input to Start. The run state is unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports a control request the current state does not
// permit. The run state is unchanged.
type InvalidStateError struct {
	Op    string
	State Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a run in state %s", e.Op, e.State)
}

// StageExecutionError wraps a failed unit of work inside a stage.
type StageExecutionError struct {
	Stage  string
	Member string
	Err    error
}

func (e *StageExecutionError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s: member %s: %v", e.Stage, e.Member, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }
