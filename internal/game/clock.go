package game

import (
	"sync"
	"time"

	"prompt-master/internal/store"
)

// Remaining is the time left in an awaited phase, derived from the stored
// round start. It never goes below zero.
func Remaining(game store.Game, duration time.Duration, now time.Time) time.Duration {
	if !game.Status.Awaited() || game.RoundStartedAt == nil {
		return 0
	}
	left := game.RoundStartedAt.Add(duration).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfter(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// timerSlot holds at most one pending timer, identified by key.
type timerSlot[K comparable] struct {
	mu    sync.Mutex
	after AfterFunc
	key   K
	timer Stopper
}

func (s *timerSlot[K]) arm(key K, d time.Duration, fire func(K)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil && s.key == key {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.key = key
	s.timer = s.after(d, func() {
		s.mu.Lock()
		current := s.timer != nil && s.key == key
		if current {
			// a later observation of the same key may arm again
			s.timer = nil
		}
		s.mu.Unlock()
		if current {
			fire(key)
		}
	})
}

func (s *timerSlot[K]) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	var zero K
	s.key = zero
}

type roundKey struct {
	Status    store.Status
	StartedAt time.Time
}

// Clock fires a timeout when an awaited phase outlives the round duration.
// It is rearmed whenever (status, roundStartedAt) changes and holds no
// authoritative state; the handler re-checks the stored row.
type Clock struct {
	duration time.Duration
	now      func() time.Time
	slot     timerSlot[roundKey]
	onExpire func(status store.Status, startedAt time.Time)
}

func NewClock(duration time.Duration, now func() time.Time, after AfterFunc, onExpire func(store.Status, time.Time)) *Clock {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if after == nil {
		after = realAfter
	}
	return &Clock{
		duration: duration,
		now:      now,
		slot:     timerSlot[roundKey]{after: after},
		onExpire: onExpire,
	}
}

// Observe arms, rearms, or disarms the clock for the game's current state.
func (c *Clock) Observe(game store.Game) {
	if !game.Status.Awaited() || game.RoundStartedAt == nil {
		c.slot.disarm()
		return
	}
	key := roundKey{Status: game.Status, StartedAt: game.RoundStartedAt.UTC()}
	c.slot.arm(key, Remaining(game, c.duration, c.now()), func(k roundKey) {
		c.onExpire(k.Status, k.StartedAt)
	})
}

func (c *Clock) Remaining(game store.Game) time.Duration {
	return Remaining(game, c.duration, c.now())
}

func (c *Clock) Stop() {
	c.slot.disarm()
}

type stallKey struct {
	Status  store.Status
	Version int64
}

// StallWatch re-drives an automatic phase that has made no progress within
// the stall window. A recorded backend error waits for a manual retry.
type StallWatch struct {
	window  time.Duration
	slot    timerSlot[stallKey]
	onStall func()
}

func NewStallWatch(window time.Duration, after AfterFunc, onStall func()) *StallWatch {
	if after == nil {
		after = realAfter
	}
	return &StallWatch{
		window:  window,
		slot:    timerSlot[stallKey]{after: after},
		onStall: onStall,
	}
}

func (w *StallWatch) Observe(game store.Game) {
	if !game.Status.Automatic() || game.LastError != "" || w.window <= 0 {
		w.slot.disarm()
		return
	}
	w.slot.arm(stallKey{Status: game.Status, Version: game.Version}, w.window, func(stallKey) {
		w.onStall()
	})
}

func (w *StallWatch) Stop() {
	w.slot.disarm()
}
