package workflow

import "time"

// EventType categorizes run events.
type EventType string

const (
	EventMessage EventType = "message"
	EventStage   EventType = "stage"
	EventStatus  EventType = "status"
)

// Event is an incremental change to a run. Messages from concurrently
// working members may interleave in any order.
type Event struct {
	RunID string    `json:"run_id"`
	Team  string    `json:"team"`
	Seq   uint64    `json:"seq"`
	Type  EventType `json:"type"`
	Time  time.Time `json:"time"`

	Message *Message `json:"message,omitempty"`

	StageIndex int    `json:"stage_index"`
	Stage      *Stage `json:"stage,omitempty"`

	Status Status `json:"status,omitempty"`
	Result string `json:"result,omitempty"`
}
