package workflow

import "sync"

// Workspace carries data between the stages of one run: member outputs,
// hierarchical assignments and the final answer. It is safe for the
// concurrent units of a parallel stage.
type Workspace struct {
	mu          sync.Mutex
	outputs     map[string]string
	assignments map[string]string
	last        string
	answer      string
}

// NewWorkspace creates an empty workspace.
func NewWorkspace() *Workspace {
	return &Workspace{
		outputs:     make(map[string]string),
		assignments: make(map[string]string),
	}
}

// SetOutput records a member's output; it also becomes the latest output.
func (w *Workspace) SetOutput(member, out string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outputs[member] = out
	w.last = out
}

// Last returns the most recently recorded output.
func (w *Workspace) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Outputs returns a copy of all member outputs.
func (w *Workspace) Outputs() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.outputs))
	for k, v := range w.outputs {
		out[k] = v
	}
	return out
}

// Results returns outputs for the given members in that order, skipping
// members that produced nothing.
func (w *Workspace) Results(members []string) []MemberResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	var res []MemberResult
	for _, m := range members {
		if out, ok := w.outputs[m]; ok {
			res = append(res, MemberResult{Member: m, Output: out})
		}
	}
	return res
}

// Assign records the subtask delegated to member.
func (w *Workspace) Assign(member, subtask string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.assignments[member] = subtask
}

// Assignment returns the subtask delegated to member.
func (w *Workspace) Assignment(member string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.assignments[member]
	return s, ok
}

// SetAnswer records the run's aggregated answer.
func (w *Workspace) SetAnswer(a string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.answer = a
}

// Answer returns the aggregated answer, if any.
func (w *Workspace) Answer() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.answer
}
