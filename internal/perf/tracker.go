// Package perf tracks per-member performance of teams that enable it and
// exports run metrics to Prometheus.
package perf

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/teamflow/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// MemberStats summarizes one member's work within a team.
type MemberStats struct {
	Member         string  `json:"member"`
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	AvgTime        float64 `json:"avg_time"`

	total time.Duration
}

// Tracker records member timings and run outcomes. It implements
// workflow.PerformanceRecorder and workflow.Sink.
type Tracker struct {
	tasks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	logger   *zap.Logger

	mu    sync.RWMutex
	stats map[string]map[string]*MemberStats
}

// NewTracker creates a tracker and registers its collectors with reg.
func NewTracker(reg prometheus.Registerer, logger *zap.Logger) *Tracker {
	t := &Tracker{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamflow",
			Name:      "member_tasks_total",
			Help:      "Units of work performed by team members.",
		}, []string{"team", "member", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "teamflow",
			Name:      "member_task_duration_seconds",
			Help:      "Time members spend on a unit of work.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"team", "member"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamflow",
			Name:      "runs_total",
			Help:      "Workflow runs by final status.",
		}, []string{"team", "status"}),
		logger: logger,
		stats:  make(map[string]map[string]*MemberStats),
	}
	reg.MustRegister(t.tasks, t.duration, t.runs)
	return t
}

// Record implements workflow.PerformanceRecorder.
func (t *Tracker) Record(teamName, member string, d time.Duration, err error) {
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	t.tasks.WithLabelValues(teamName, member, outcome).Inc()
	t.duration.WithLabelValues(teamName, member).Observe(d.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.stats[teamName]
	if !ok {
		members = make(map[string]*MemberStats)
		t.stats[teamName] = members
	}
	s, ok := members[member]
	if !ok {
		s = &MemberStats{Member: member}
		members[member] = s
	}
	if err != nil {
		s.TasksFailed++
		return
	}
	s.TasksCompleted++
	s.total += d
	s.AvgTime = s.total.Seconds() / float64(s.TasksCompleted)
}

// Publish counts terminal run states. It implements workflow.Sink.
func (t *Tracker) Publish(_ context.Context, ev workflow.Event) error {
	if ev.Type == workflow.EventStatus && ev.Status.Terminal() {
		t.runs.WithLabelValues(ev.Team, string(ev.Status)).Inc()
	}
	return nil
}

// Stats returns the stats of every member of teamName seen so far, sorted
// by member name.
func (t *Tracker) Stats(teamName string) []MemberStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := t.stats[teamName]
	out := make([]MemberStats, 0, len(members))
	for _, s := range members {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member < out[j].Member })
	return out
}
