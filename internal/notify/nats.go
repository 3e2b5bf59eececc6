package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

func natsSubject(gameID int64) string {
	return fmt.Sprintf("games.%d", gameID)
}

// NATS relays changes over a NATS subject per game.
type NATS struct {
	conn *nats.Conn
	fan  *fanout

	mu   sync.Mutex
	subs map[int64]*nats.Subscription
}

func ConnectNATS(url, token string) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	b := &NATS{fan: newFanout(), subs: make(map[int64]*nats.Subscription)}
	opts := []nats.Option{
		nats.Name("prompt-master"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats disconnected error=%v", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Infof("nats reconnected url=%s", conn.ConnectedUrl())
			// anything published while we were away is gone
			b.fan.dropAll()
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	b.conn = conn
	b.fan.onFirst = b.subscribeUpstream
	b.fan.onLast = b.unsubscribeUpstream
	return b, nil
}

func (b *NATS) subscribeUpstream(gameID int64) error {
	sub, err := b.conn.Subscribe(natsSubject(gameID), b.handleMessage)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.subs[gameID] = sub
	b.mu.Unlock()
	return nil
}

func (b *NATS) unsubscribeUpstream(gameID int64) {
	b.mu.Lock()
	sub, ok := b.subs[gameID]
	delete(b.subs, gameID)
	b.mu.Unlock()
	if ok {
		if err := sub.Unsubscribe(); err != nil {
			log.Warnf("nats unsubscribe failed game_id=%d error=%v", gameID, err)
		}
	}
}

func (b *NATS) handleMessage(msg *nats.Msg) {
	change, err := Decode(msg.Data)
	if err != nil {
		log.Errorf("nats change decode failed subject=%s error=%v", msg.Subject, err)
		return
	}
	b.fan.deliver(change)
}

func (b *NATS) Publish(_ context.Context, change Change) error {
	payload, err := Encode(change)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(natsSubject(change.GameID), payload); err != nil {
		log.Errorf("Error publishing to subject %s: %s", natsSubject(change.GameID), err)
		return err
	}
	return nil
}

func (b *NATS) Subscribe(_ context.Context, gameID int64) (<-chan Change, func(), error) {
	return b.fan.subscribe(gameID)
}

func (b *NATS) Close() error {
	b.fan.dropAll()
	b.conn.Close()
	return nil
}
