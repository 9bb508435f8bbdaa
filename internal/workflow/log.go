package workflow

import (
	"sync"
	"time"
)

// MessageLog is an append-only, time-ordered record of a run's
// communications. Appends are safe from concurrent writers and each
// writer's own messages keep their order.
type MessageLog struct {
	mu       sync.Mutex
	messages []Message
	nextID   int64
	onAppend func(Message)
	now      func() time.Time
}

// NewMessageLog creates an empty log. onAppend, if set, is called with
// every appended message while the log lock is held, so observers see
// messages in log order.
func NewMessageLog(onAppend func(Message)) *MessageLog {
	return &MessageLog{onAppend: onAppend, now: time.Now}
}

// Append records a message and returns it.
func (l *MessageLog) Append(sender, body string) Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	msg := Message{
		ID:        l.nextID,
		Sender:    sender,
		Body:      body,
		Timestamp: l.now(),
	}
	l.messages = append(l.messages, msg)
	if l.onAppend != nil {
		l.onAppend(msg)
	}
	return msg
}

// System appends a message authored by the engine itself.
func (l *MessageLog) System(body string) Message {
	return l.Append(SystemSender, body)
}

// Messages returns a copy of the log.
func (l *MessageLog) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
