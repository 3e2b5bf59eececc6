// Package game is the authoritative round/game state machine. Every status
// change is a compare-and-swap on the stored game row, so any number of
// server instances can drive the same game and duplicate triggers collapse.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"prompt-master/internal/judge"
	"prompt-master/internal/store"

	"github.com/lestrrat-go/backoff/v2"
	log "github.com/sirupsen/logrus"
)

const (
	maxPromptLength = 280
	maxNameLength   = 64
	sentinelText    = "no answer"
)

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

type Judge interface {
	Judge(ctx context.Context, master string, entries []judge.Entry) (judge.Result, error)
}

type Options struct {
	RoundDuration      time.Duration
	Threshold          float64
	DefaultTotalRounds int
	DefaultTargetScore int
	JudgeRetries       int
	GenerateRetries    int
	RetryMin           time.Duration
	RetryMax           time.Duration
	// Now and Intn are replaceable for tests.
	Now  func() time.Time
	Intn func(n int) int
}

func DefaultOptions() Options {
	return Options{
		RoundDuration:      30 * time.Second,
		Threshold:          0.80,
		DefaultTotalRounds: 5,
		DefaultTargetScore: 5,
		JudgeRetries:       3,
		GenerateRetries:    2,
		RetryMin:           500 * time.Millisecond,
		RetryMax:           5 * time.Second,
	}
}

type Machine struct {
	store  store.Store
	images ImageGenerator
	judge  Judge
	opts   Options

	driveMu  sync.Mutex
	inflight map[int64]bool
	again    map[int64]bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
}

func NewMachine(st store.Store, images ImageGenerator, j Judge, opts Options) *Machine {
	defaults := DefaultOptions()
	if opts.RoundDuration <= 0 {
		opts.RoundDuration = defaults.RoundDuration
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaults.Threshold
	}
	if opts.DefaultTotalRounds <= 0 {
		opts.DefaultTotalRounds = defaults.DefaultTotalRounds
	}
	if opts.DefaultTargetScore <= 0 {
		opts.DefaultTargetScore = defaults.DefaultTargetScore
	}
	if opts.RetryMin <= 0 {
		opts.RetryMin = defaults.RetryMin
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = opts.RetryMin
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Intn == nil {
		opts.Intn = rand.IntN
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		store:    st,
		images:   images,
		judge:    j,
		opts:     opts,
		inflight: make(map[int64]bool),
		again:    make(map[int64]bool),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

func (m *Machine) Store() store.Store {
	return m.store
}

func (m *Machine) RoundDuration() time.Duration {
	return m.opts.RoundDuration
}

// Close cancels background drives and waits for them to return.
func (m *Machine) Close() {
	m.cancel()
	m.wg.Wait()
}

// Wait blocks until no background drive is running.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// Kick drives the game's automatic phases in the background. Concurrent kicks
// for the same game coalesce into one extra pass.
func (m *Machine) Kick(gameID int64) {
	m.driveMu.Lock()
	if m.inflight[gameID] {
		m.again[gameID] = true
		m.driveMu.Unlock()
		return
	}
	m.inflight[gameID] = true
	m.wg.Add(1)
	m.driveMu.Unlock()

	go func() {
		defer m.wg.Done()
		for {
			if err := m.Drive(m.baseCtx, gameID); err != nil && !errors.Is(err, context.Canceled) {
				log.Warnf("drive failed game_id=%d error=%v", gameID, err)
			}
			m.driveMu.Lock()
			if !m.again[gameID] || m.baseCtx.Err() != nil {
				delete(m.inflight, gameID)
				delete(m.again, gameID)
				m.driveMu.Unlock()
				return
			}
			delete(m.again, gameID)
			m.driveMu.Unlock()
		}
	}()
}

// transition applies a conditional update and reports ErrConflict when the
// guard no longer matches.
func (m *Machine) transition(ctx context.Context, id int64, guard store.Guard, changes store.GameChanges) (store.Game, error) {
	game, applied, err := m.store.UpdateGameIf(ctx, id, guard, changes)
	if err != nil {
		return store.Game{}, err
	}
	if !applied {
		log.WithFields(log.Fields{
			"game_id":  id,
			"expected": guard.Status,
			"actual":   game.Status,
		}).Debug("transition skipped")
		return game, ErrConflict
	}
	return game, nil
}

func (m *Machine) retry(ctx context.Context, retries int, fn func(context.Context) error) error {
	if retries <= 0 {
		return fn(ctx)
	}
	policy := backoff.Exponential(
		backoff.WithMinInterval(m.opts.RetryMin),
		backoff.WithMaxInterval(m.opts.RetryMax),
		backoff.WithJitterFactor(0.1),
		backoff.WithMaxRetries(retries),
	)
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b := policy.Start(bctx)
	var err error
	for backoff.Continue(b) {
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (m *Machine) record(ctx context.Context, game store.Game, userID, kind string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warnf("event encode failed game_id=%d type=%s error=%v", game.ID, kind, err)
		return
	}
	event := store.Event{
		GameID:  game.ID,
		Round:   game.CurrentRound,
		UserID:  userID,
		Type:    kind,
		Payload: data,
	}
	if err := m.store.AppendEvent(ctx, event); err != nil {
		log.Warnf("event persist failed game_id=%d type=%s error=%v", game.ID, kind, err)
	}
}

func (m *Machine) pick(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[m.opts.Intn(len(candidates))]
}

func swallowConflict(game store.Game, err error) (store.Game, error) {
	if errors.Is(err, ErrConflict) {
		return game, nil
	}
	return game, err
}
