// Package events publishes workflow run events to external systems.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/teamflow/internal/workflow"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "teamflow:run:"

// streamMaxLen caps each run stream; older entries are trimmed.
const streamMaxLen = 10000

// Read retry delays after a failed XREAD; the delay doubles up to the max.
var (
	minRetryDelay = 100 * time.Millisecond
	maxRetryDelay = 5 * time.Second
)

func retryDelay(failures int) time.Duration {
	d := minRetryDelay
	for i := 1; i < failures && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// RedisStream mirrors run events into one Redis stream per run so other
// processes can follow a run.
type RedisStream struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisStream connects to redisURL and verifies the connection.
func NewRedisStream(redisURL string, logger *zap.Logger) (*RedisStream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStream{rdb: rdb, logger: logger}, nil
}

// StreamKey returns the stream a run's events are written to.
func StreamKey(runID string) string { return streamPrefix + runID }

// Publish appends ev to its run's stream. It implements workflow.Sink.
func (s *RedisStream) Publish(ctx context.Context, ev workflow.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	stream := StreamKey(ev.RunID)
	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(ev.Type),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	s.logger.Debug("published run event",
		zap.String("run", ev.RunID),
		zap.String("type", string(ev.Type)),
		zap.Uint64("seq", ev.Seq))
	return nil
}

// Subscribe follows a run's stream. from is a stream ID to read after; "0"
// replays the whole stream and "$" only delivers new events. Cancel ctx
// to stop.
func (s *RedisStream) Subscribe(ctx context.Context, runID, from string) <-chan workflow.Event {
	ch := make(chan workflow.Event, 16)
	stream := StreamKey(runID)
	if from == "" {
		from = "$"
	}

	go func() {
		defer close(ch)
		lastID := from
		failures := 0

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, redis.Nil) {
					failures = 0
					continue
				}
				failures++
				delay := retryDelay(failures)
				s.logger.Warn("read run stream",
					zap.String("stream", stream),
					zap.Int("failures", failures),
					zap.Duration("retry_in", delay),
					zap.Error(err))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
				continue
			}
			failures = 0

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev workflow.Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (s *RedisStream) Close() error {
	return s.rdb.Close()
}
