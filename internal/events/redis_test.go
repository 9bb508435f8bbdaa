package events

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{7, 5 * time.Second},
		{50, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.failures); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestSubscribeBacksOffWhenRedisIsDown(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	defer rdb.Close()
	s := &RedisStream{rdb: rdb, logger: zap.New(core)}

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	for range s.Subscribe(ctx, "run-1", "0") {
		t.Fatal("unexpected event from an unreachable server")
	}

	// Failures at roughly 0, 100ms and 300ms; a busy loop would log thousands.
	n := logs.FilterMessage("read run stream").Len()
	if n < 1 || n > 5 {
		t.Errorf("expected a handful of retry warnings, got %d", n)
	}
}
