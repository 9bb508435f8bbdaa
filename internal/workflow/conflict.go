package workflow

import "strings"

// MemberResult is one member's output for a stage.
type MemberResult struct {
	Member string `json:"member"`
	Output string `json:"output"`
}

// Conflict is a disagreement between two members' results.
type Conflict struct {
	First       string
	FirstClaim  string
	Second      string
	SecondClaim string
}

// ConflictDetector decides whether collected results disagree. Results
// arrive in team member order.
type ConflictDetector interface {
	Detect(results []MemberResult) *Conflict
}

// ConflictDetectorFunc adapts a function to ConflictDetector.
type ConflictDetectorFunc func(results []MemberResult) *Conflict

func (f ConflictDetectorFunc) Detect(results []MemberResult) *Conflict { return f(results) }

// ConflictResolver picks the winning answer for a set of results.
type ConflictResolver interface {
	Resolve(results []MemberResult) string
}

// DivergenceDetector reports a conflict when the first two members'
// normalized answers differ.
type DivergenceDetector struct{}

func (DivergenceDetector) Detect(results []MemberResult) *Conflict {
	if len(results) < 2 {
		return nil
	}
	a, b := results[0], results[1]
	if normalizeAnswer(a.Output) == normalizeAnswer(b.Output) {
		return nil
	}
	return &Conflict{
		First:       a.Member,
		FirstClaim:  a.Output,
		Second:      b.Member,
		SecondClaim: b.Output,
	}
}

// VotingResolver returns the answer most members agree on. Ties go to the
// answer seen first in member order.
type VotingResolver struct{}

func (VotingResolver) Resolve(results []MemberResult) string {
	votes := make(map[string]int)
	first := make(map[string]string)
	var order []string
	for _, r := range results {
		key := normalizeAnswer(r.Output)
		if _, ok := first[key]; !ok {
			first[key] = strings.TrimSpace(r.Output)
			order = append(order, key)
		}
		votes[key]++
	}
	best, bestVotes := "", 0
	for _, key := range order {
		if votes[key] > bestVotes {
			best, bestVotes = key, votes[key]
		}
	}
	return first[best]
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
