// Package archive emits "query issued" events for cold storage.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueryEvent describes one search that was served.
type QueryEvent struct {
	ClassID     string    `json:"class_id"`
	Query       string    `json:"query"`
	ForTutor    bool      `json:"for_tutor"`
	ResultCount int       `json:"result_count"`
	ChunkIDs    []string  `json:"chunk_ids"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Publisher hands events to the archive.
type Publisher interface {
	Publish(ctx context.Context, event QueryEvent) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, QueryEvent) error { return nil }

// StreamAdder is the subset of the go-redis client used to append to a
// stream.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamPublisher appends events to a Redis stream with XADD.
type RedisStreamPublisher struct {
	client StreamAdder
	stream string
	maxLen int64
}

// NewRedisStreamPublisher publishes to stream. When maxLen is positive the
// stream is trimmed to roughly that many entries.
func NewRedisStreamPublisher(client StreamAdder, stream string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, event QueryEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal query event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"class_id": event.ClassID,
			"event":    string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
