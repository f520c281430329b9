package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultRelayChannel is the pub/sub channel shared by all gateway instances.
const DefaultRelayChannel = "teleconsult:signaling"

type envelope struct {
	Origin string          `json:"origin"`
	UserID uint            `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

// RedisRelay fans events out to every instance through redis pub/sub. Each
// instance delivers the events addressed to its own connected users.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	log     logrus.FieldLogger
}

// NewRedisRelay connects with a redis:// URL.
func NewRedisRelay(url string, log logrus.FieldLogger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisRelay{
		client:  redis.NewClient(opts),
		channel: DefaultRelayChannel,
		origin:  uuid.NewString(),
		log:     log,
	}, nil
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRelay) Publish(ctx context.Context, userID uint, data []byte) error {
	msg, err := json.Marshal(envelope{Origin: r.origin, UserID: userID, Data: data})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, msg).Err()
}

// Run delivers relayed events to hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.dispatch(hub, []byte(msg.Payload))
		}
	}
}

// dispatch ignores events this instance published itself.
func (r *RedisRelay) dispatch(hub *Hub, payload []byte) bool {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.WithError(err).Warn("malformed relay message")
		return false
	}
	if env.Origin == r.origin {
		return false
	}
	return hub.deliverLocal(env.UserID, env.Data)
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
