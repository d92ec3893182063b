package forward

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// Redis appends events to a capped stream.
type Redis struct {
	cli    *redis.Client
	stream string
	maxLen int64
}

func NewRedis(url, stream string, maxLen int64) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	if stream == "" {
		stream = "smsrelay:events"
	}
	return &Redis{cli: redis.NewClient(opt), stream: stream, maxLen: maxLen}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, topic, key string, body []byte) error {
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{"type": topic, "key": key, "data": string(body)},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.cli.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.cli.Close() }
