//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/teamflow/internal/team"
	"github.com/nidhogg/teamflow/internal/workflow"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint
}

func TestRedisStreamRoundTrip(t *testing.T) {
	stream, err := NewRedisStream(startRedis(t), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sent := []workflow.Event{
		{RunID: "run-1", Team: "ops", Seq: 1, Type: workflow.EventMessage, Message: &workflow.Message{ID: 1, Sender: "system", Body: "Starting workflow for task: T"}},
		{RunID: "run-1", Team: "ops", Seq: 2, Type: workflow.EventStatus, Status: workflow.StatusCompleted, Result: "done"},
	}
	for _, ev := range sent {
		if err := stream.Publish(ctx, ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	events := stream.Subscribe(ctx, "run-1", "0")
	for i, want := range sent {
		select {
		case got := <-events:
			if got.Seq != want.Seq || got.Type != want.Type {
				t.Errorf("event %d = %+v, want %+v", i, got, want)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestRedisStreamAsEngineSink(t *testing.T) {
	stream, err := NewRedisStream(startRedis(t), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	exec := workflow.NewStageExecutor(workflow.WorkerFunc(func(_ context.Context, m, _ string) (string, error) {
		return m, nil
	}), zap.NewNop())
	engine := workflow.NewEngine(nil, exec, zap.NewNop())
	engine.AddSink(stream)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	id, err := engine.StartTeam(ctx, &team.Team{Name: "ops", Members: []string{"a", "b"}}, "T", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Wait(ctx, id); err != nil {
		t.Fatal(err)
	}
	engine.Close()

	for ev := range stream.Subscribe(ctx, id, "0") {
		if ev.Type == workflow.EventStatus && ev.Status == workflow.StatusCompleted {
			return
		}
	}
	t.Fatal("completed event not found in stream")
}
