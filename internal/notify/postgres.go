package notify

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lestrrat-go/backoff/v2"
	log "github.com/sirupsen/logrus"
)

const postgresChannel = "game_changes"

// Postgres relays changes with LISTEN/NOTIFY on a single channel. One
// listener connection per process feeds the local fanout.
type Postgres struct {
	pool   *pgxpool.Pool
	fan    *fanout
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	b := &Postgres{
		pool: pool,
		fan:  newFanout(),
		done: make(chan struct{}),
	}
	// LISTEN before returning so early subscribers miss nothing
	conn, err := b.connect(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.listen(listenCtx, conn)
	return b, nil
}

func (b *Postgres) connect(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{postgresChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

func (b *Postgres) listen(ctx context.Context, conn *pgxpool.Conn) {
	defer close(b.done)
	policy := backoff.Exponential(
		backoff.WithMinInterval(200*time.Millisecond),
		backoff.WithMaxInterval(10*time.Second),
		backoff.WithJitterFactor(0.1),
	)
	for {
		err := b.wait(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		log.Warnf("postgres listener lost error=%v", err)
		b.fan.dropAll()

		conn = nil
		for conn == nil {
			retry := policy.Start(ctx)
			for backoff.Continue(retry) {
				if conn, err = b.connect(ctx); err == nil {
					break
				}
				log.Warnf("postgres listener reconnect failed error=%v", err)
			}
			if ctx.Err() != nil {
				if conn != nil {
					conn.Release()
				}
				return
			}
		}
		log.Info("postgres listener reconnected")
	}
}

func (b *Postgres) wait(ctx context.Context, conn *pgxpool.Conn) error {
	defer conn.Release()
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			// a conn interrupted mid-wait must not go back to the pool
			conn.Conn().Close(context.Background())
			return err
		}
		change, err := Decode([]byte(notification.Payload))
		if err != nil {
			log.Errorf("postgres change decode failed error=%v", err)
			continue
		}
		b.fan.deliver(change)
	}
}

func (b *Postgres) Publish(ctx context.Context, change Change) error {
	payload, err := Encode(change)
	if err != nil {
		return err
	}
	if len(payload) >= 8000 {
		return errors.New("change payload exceeds NOTIFY limit")
	}
	_, err = b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", postgresChannel, string(payload))
	return err
}

func (b *Postgres) Subscribe(_ context.Context, gameID int64) (<-chan Change, func(), error) {
	return b.fan.subscribe(gameID)
}

func (b *Postgres) Close() error {
	b.cancel()
	<-b.done
	b.fan.dropAll()
	b.pool.Close()
	return nil
}
