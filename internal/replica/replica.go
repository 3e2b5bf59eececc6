package replica

import (
	"context"
	"sync"
	"time"

	"prompt-master/internal/game"
	"prompt-master/internal/notify"
	"prompt-master/internal/store"

	"github.com/lestrrat-go/backoff/v2"
	log "github.com/sirupsen/logrus"
)

// Driver is the part of the phase machine a replica calls into. Every
// replica is a peer; the machine's conditional writes collapse duplicates.
type Driver interface {
	Timeout(ctx context.Context, gameID int64, status store.Status, startedAt time.Time) error
	Kick(gameID int64)
	Repair(ctx context.Context, gameID int64) (bool, error)
}

type Options struct {
	RoundDuration time.Duration
	StallWindow   time.Duration
	// After and Now are replaceable for tests.
	After game.AfterFunc
	Now   func() time.Time
}

// Replica follows one game: it refetches on every (re)subscribe, applies
// changes in between, keeps the round clock and stall watch armed, and
// repairs half-applied round advances it observes.
type Replica struct {
	gameID int64
	store  store.Store
	bus    notify.Bus
	driver Driver
	clock  *game.Clock
	stall  *game.StallWatch
	now    func() time.Time

	mu       sync.Mutex
	state    State
	loaded   bool
	watchers map[chan State]struct{}
	ready    chan struct{}
}

func New(gameID int64, st store.Store, bus notify.Bus, driver Driver, opts Options) *Replica {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	r := &Replica{
		gameID:   gameID,
		store:    st,
		bus:      bus,
		driver:   driver,
		now:      opts.Now,
		watchers: make(map[chan State]struct{}),
		ready:    make(chan struct{}),
	}
	r.clock = game.NewClock(opts.RoundDuration, opts.Now, opts.After, r.expire)
	r.stall = game.NewStallWatch(opts.StallWindow, opts.After, func() {
		log.Infof("stalled phase, driving game_id=%d", r.gameID)
		r.driver.Kick(r.gameID)
	})
	return r
}

func (r *Replica) GameID() int64 {
	return r.gameID
}

// Run follows the game until ctx is done. A closed subscription means
// changes may have been missed, so it resubscribes and refetches.
func (r *Replica) Run(ctx context.Context) {
	defer r.clock.Stop()
	defer r.stall.Stop()
	policy := backoff.Exponential(
		backoff.WithMinInterval(100*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithJitterFactor(0.1),
	)
	for ctx.Err() == nil {
		var changes <-chan notify.Change
		var cancel func()
		retry := policy.Start(ctx)
		for backoff.Continue(retry) {
			var err error
			changes, cancel, err = r.subscribe(ctx)
			if err == nil {
				break
			}
			log.Warnf("replica subscribe failed game_id=%d error=%v", r.gameID, err)
		}
		if changes == nil {
			return
		}
		r.follow(ctx, changes)
		cancel()
	}
}

// subscribe opens the change stream first so nothing written after the
// refetch can be missed.
func (r *Replica) subscribe(ctx context.Context) (<-chan notify.Change, func(), error) {
	changes, cancel, err := r.bus.Subscribe(ctx, r.gameID)
	if err != nil {
		return nil, nil, err
	}
	if err := r.Refetch(ctx); err != nil {
		cancel()
		return nil, nil, err
	}
	return changes, cancel, nil
}

func (r *Replica) follow(ctx context.Context, changes <-chan notify.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				log.Infof("replica subscription lost game_id=%d", r.gameID)
				return
			}
			r.apply(ctx, change)
		}
	}
}

// Refetch replaces the held state with the stored rows.
func (r *Replica) Refetch(ctx context.Context) error {
	g, err := r.store.GetGame(ctx, r.gameID)
	if err != nil {
		return err
	}
	participants, err := r.store.ListParticipants(ctx, r.gameID)
	if err != nil {
		return err
	}
	sortParticipants(participants)
	r.publish(ctx, State{Game: g, Participants: participants})
	return nil
}

func (r *Replica) apply(ctx context.Context, change notify.Change) {
	r.mu.Lock()
	next := Reconcile(r.state, change)
	r.mu.Unlock()
	r.publish(ctx, next)
}

func (r *Replica) publish(ctx context.Context, s State) {
	r.mu.Lock()
	r.state = s
	if !r.loaded {
		r.loaded = true
		close(r.ready)
	}
	for ch := range r.watchers {
		offer(ch, s)
	}
	r.mu.Unlock()

	r.clock.Observe(s.Game)
	r.stall.Observe(s.Game)
	if game.NeedsRepair(s.Game, s.Participants) {
		if repaired, err := r.driver.Repair(ctx, r.gameID); err != nil {
			log.Warnf("replica repair failed game_id=%d error=%v", r.gameID, err)
		} else if repaired {
			log.Infof("replica repaired participants game_id=%d round=%d", r.gameID, s.Game.CurrentRound)
		}
	}
}

func (r *Replica) expire(status store.Status, startedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.driver.Timeout(ctx, r.gameID, status, startedAt); err != nil {
		log.Warnf("round timeout failed game_id=%d status=%s error=%v", r.gameID, status, err)
	}
}

// State returns the held state and whether a fetch has completed.
func (r *Replica) State() (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.loaded
}

// Ready is closed after the first fetch.
func (r *Replica) Ready() <-chan struct{} {
	return r.ready
}

// Remaining is the time left on the round clock for the held state.
func (r *Replica) Remaining() time.Duration {
	r.mu.Lock()
	g := r.state.Game
	r.mu.Unlock()
	return r.clock.Remaining(g)
}

// Watch delivers the latest state after every change. Slow watchers only
// see the newest state.
func (r *Replica) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)
	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	if r.loaded {
		offer(ch, r.state)
	}
	r.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, ch)
			r.mu.Unlock()
		})
	}
}

func offer(ch chan State, s State) {
	select {
	case <-ch:
	default:
	}
	ch <- s
}
