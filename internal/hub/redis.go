package hub

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
)

// RedisRelay fans change events out to every backend instance through a
// Redis pub/sub channel. Each instance skips its own messages since it
// already delivered them locally.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	log     *logger.Logger
}

type relayEnvelope struct {
	Origin string            `json:"origin"`
	Event  model.ChangeEvent `json:"event"`
}

func NewRedisRelay(client *redis.Client, channel string, log *logger.Logger) *RedisRelay {
	if log == nil {
		log = logger.Discard()
	}
	return &RedisRelay{client: client, channel: channel, origin: uuid.NewString(), log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, ev model.ChangeEvent) error {
	data, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: ev})
	if err != nil {
		return errors.Wrap(err, "encode relay event")
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *RedisRelay) Run(ctx context.Context, deliver func(model.ChangeEvent)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe relay channel")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("realtime relay: bad message", "error", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(env.Event)
		}
	}
}
