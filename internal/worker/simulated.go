// Package worker provides the executors that perform a member's unit of
// work for the workflow engine.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Simulated is an in-process worker. Each unit of work waits for the
// configured delay and returns a canned or generated answer.
type Simulated struct {
	delay  time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	answers  map[string]string
	failures map[string]error
}

// NewSimulated creates a simulated worker. A zero delay returns at once.
func NewSimulated(delay time.Duration, logger *zap.Logger) *Simulated {
	return &Simulated{
		delay:    delay,
		logger:   logger,
		answers:  make(map[string]string),
		failures: make(map[string]error),
	}
}

// SetAnswer fixes the output member returns for every unit of work.
func (s *Simulated) SetAnswer(member, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[member] = answer
}

// SetFailure makes every unit of work for member fail with err. A nil err
// clears the failure.
func (s *Simulated) SetFailure(member string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, member)
		return
	}
	s.failures[member] = err
}

// Execute implements workflow.WorkerExecutor.
func (s *Simulated) Execute(ctx context.Context, member, input string) (string, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.RLock()
	answer, hasAnswer := s.answers[member]
	failure := s.failures[member]
	s.mu.RUnlock()

	if failure != nil {
		return "", failure
	}
	if hasAnswer {
		return answer, nil
	}
	s.logger.Debug("simulated work", zap.String("member", member), zap.Int("input_len", len(input)))
	return fmt.Sprintf("%s completed: %s", member, firstLine(input)), nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
