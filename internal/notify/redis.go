package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func redisChannel(gameID int64) string {
	return fmt.Sprintf("game:%d", gameID)
}

// Redis relays changes over Redis pub/sub, one channel per game.
type Redis struct {
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRedis(addr, password string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{client: client, ctx: ctx, cancel: cancel}, nil
}

func (b *Redis) Publish(ctx context.Context, change Change) error {
	payload, err := Encode(change)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, redisChannel(change.GameID), payload).Err()
}

// Subscribe opens a dedicated pub/sub connection. go-redis resubscribes by
// itself after a reconnect; the second subscribe confirmation tells us the
// link dropped, so the channel is closed for a refetch.
func (b *Redis) Subscribe(ctx context.Context, gameID int64) (<-chan Change, func(), error) {
	pubsub := b.client.Subscribe(ctx, redisChannel(gameID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}
	out := make(chan Change, subscriberBuffer)
	subCtx, cancel := context.WithCancel(b.ctx)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.ChannelWithSubscriptions(redis.WithChannelSize(subscriberBuffer))
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				switch m := msg.(type) {
				case *redis.Subscription:
					if m.Kind == "subscribe" {
						log.Infof("redis resubscribed channel=%s", m.Channel)
						return
					}
				case *redis.Message:
					change, err := Decode([]byte(m.Payload))
					if err != nil {
						log.Errorf("redis change decode failed channel=%s error=%v", m.Channel, err)
						continue
					}
					select {
					case out <- change:
					default:
						log.Warnf("redis subscriber fell behind game_id=%d", gameID)
						return
					}
				}
			}
		}
	}()
	return out, cancel, nil
}

func (b *Redis) Close() error {
	b.cancel()
	return b.client.Close()
}
