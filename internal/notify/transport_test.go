package notify

import (
	"context"
	"testing"
	"time"

	"prompt-master/internal/store"

	"github.com/alicebob/miniredis/v2"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// waitClosed drains ch until it is closed.
func waitClosed(t *testing.T, ch <-chan Change, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription was not closed after the link dropped")
		}
	}
}

// deliverEventually subscribes and publishes until a change comes through,
// for transports that need a moment to re-establish their upstream link.
func deliverEventually(t *testing.T, bus Bus, gameID int64, timeout time.Duration) Change {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ch, cancel, err := bus.Subscribe(ctx, gameID)
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if err := bus.Publish(ctx, GameChange(OpUpdate, store.Game{ID: gameID, Version: 9})); err == nil {
			select {
			case change, ok := <-ch:
				if ok {
					cancel()
					return change
				}
			case <-time.After(300 * time.Millisecond):
			}
		}
		cancel()
	}
	t.Fatalf("no change delivered for game %d", gameID)
	return Change{}
}

func TestNATSBus(t *testing.T) {
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	bus, err := ConnectNATS(srv.ClientURL(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, 5)
	require.NoError(t, err)
	defer cancel()
	other, cancelOther, err := bus.Subscribe(ctx, 6)
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, bus.Publish(ctx, GameChange(OpUpdate, store.Game{ID: 5, Status: store.StatusGenerating, Version: 2})))
	change := receive(t, ch)
	assert.Equal(t, int64(5), change.GameID)
	assert.Equal(t, store.StatusGenerating, change.Game.Status)
	assert.Empty(t, other, "other games stay quiet")

	require.NoError(t, bus.conn.ForceReconnect())
	waitClosed(t, ch, 10*time.Second)
	waitClosed(t, other, time.Second)

	change = deliverEventually(t, bus, 5, 10*time.Second)
	assert.Equal(t, int64(9), change.Game.Version)
}

func TestRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	bus, err := NewRedis(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, 3)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Publish(ctx, GameChange(OpInsert, store.Game{ID: 3, Status: store.StatusWaiting, Version: 1})))
	change := receive(t, ch)
	assert.Equal(t, OpInsert, change.Op)
	assert.Equal(t, int64(3), change.GameID)

	// the client resubscribes on its own; that confirmation closes the stream
	mr.Close()
	require.NoError(t, mr.Restart())
	waitClosed(t, ch, 10*time.Second)

	change = deliverEventually(t, bus, 3, 10*time.Second)
	assert.Equal(t, int64(9), change.Game.Version)

	_, err = NewRedis("127.0.0.1:1", "")
	assert.Error(t, err, "an unreachable server fails the ping")
}

func TestPostgresBus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testusername"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	bus, err := NewPostgres(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	ch, cancel, err := bus.Subscribe(ctx, 11)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Publish(ctx, GameChange(OpUpdate, store.Game{ID: 11, Status: store.StatusScoring, Version: 4})))
	change := receive(t, ch)
	assert.Equal(t, store.StatusScoring, change.Game.Status)

	// kill the listening backend; subscribers must refetch
	_, err = bus.pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE query LIKE 'LISTEN%' AND pid <> pg_backend_pid()`)
	require.NoError(t, err)
	waitClosed(t, ch, 10*time.Second)

	change = deliverEventually(t, bus, 11, 15*time.Second)
	assert.Equal(t, int64(9), change.Game.Version)
}
