package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// streamMaxLen bounds the journal stream via XADD MAXLEN ~
const streamMaxLen int64 = 10000

// RedisForwarder publishes bus events to a Redis channel and appends them to a stream
type RedisForwarder struct {
	rdb     *redis.Client
	channel string
	stream  string
}

// NewRedisForwarder creates a forwarder. An empty stream disables the stream append.
func NewRedisForwarder(rdb *redis.Client, channel, stream string) *RedisForwarder {
	return &RedisForwarder{rdb: rdb, channel: channel, stream: stream}
}

// Forward writes one event
func (f *RedisForwarder) Forward(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	if err := f.rdb.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", f.channel, err)
	}
	if f.stream == "" {
		return nil
	}
	args := &redis.XAddArgs{
		Stream: f.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(e.Type),
			"payload": payload,
		},
	}
	if err := f.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", f.stream, err)
	}
	return nil
}

// Run drains sub until ctx is done or the subscription closes
func (f *RedisForwarder) Run(ctx context.Context, sub *Subscription) {
	log.Info().Str("channel", f.channel).Str("stream", f.stream).Msg("📡 Redis event forwarder started")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if err := f.Forward(ctx, e); err != nil {
				log.Warn().Err(err).Str("type", string(e.Type)).Msg("Failed to forward event")
			}
		}
	}
}
