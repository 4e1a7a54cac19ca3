package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroadcaster publishes over redis pub/sub so every process sees every event.
type RedisBroadcaster struct {
	client *redis.Client
	prefix string
	buffer int
	logger *zap.Logger
}

func NewRedisBroadcaster(client *redis.Client, prefix string, logger *zap.Logger) *RedisBroadcaster {
	if prefix != "" {
		prefix += ":events:"
	}
	return &RedisBroadcaster{client: client, prefix: prefix, buffer: 64, logger: logger}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, ev Event) error {
	if b == nil || b.client == nil {
		return errors.New("redis broadcaster not configured")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := b.client.Publish(ctx, b.prefix+channel, raw).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", channel)
	}
	return nil
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	if b == nil || b.client == nil {
		return nil, nil, errors.New("redis broadcaster not configured")
	}
	ps := b.client.Subscribe(ctx, b.prefix+channel)
	// Wait for the subscription ack so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, errors.Wrapf(err, "subscribe %s", channel)
	}

	out := make(chan []byte, b.buffer)
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					if b.logger != nil {
						b.logger.Debug("subscriber slow, event dropped", zap.String("channel", channel))
					}
				}
			}
		}
	}()
	return out, stop, nil
}
