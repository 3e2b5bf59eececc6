package replica

import (
	"context"
	"sync"

	"prompt-master/internal/notify"
	"prompt-master/internal/store"

	log "github.com/sirupsen/logrus"
)

type entry struct {
	replica *Replica
	refs    int
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager runs one replica per game while anyone holds it.
type Manager struct {
	store  store.Store
	bus    notify.Bus
	driver Driver
	opts   Options

	mu      sync.Mutex
	entries map[int64]*entry
	wg      sync.WaitGroup
}

func NewManager(st store.Store, bus notify.Bus, driver Driver, opts Options) *Manager {
	return &Manager{
		store:   st,
		bus:     bus,
		driver:  driver,
		opts:    opts,
		entries: make(map[int64]*entry),
	}
}

// Acquire returns the running replica for the game, starting it on first
// use. The release func stops it once the last holder lets go.
func (m *Manager) Acquire(gameID int64) (*Replica, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[gameID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		e = &entry{
			replica: New(gameID, m.store, m.bus, m.driver, m.opts),
			cancel:  cancel,
			done:    make(chan struct{}),
		}
		m.entries[gameID] = e
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer close(e.done)
			e.replica.Run(ctx)
		}()
		log.Debugf("replica started game_id=%d", gameID)
	}
	e.refs++
	var once sync.Once
	return e.replica, func() { once.Do(func() { m.release(gameID, e) }) }
}

func (m *Manager) release(gameID int64, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	e.cancel()
	if m.entries[gameID] == e {
		delete(m.entries, gameID)
	}
	log.Debugf("replica stopped game_id=%d", gameID)
}

// Active lists games with a running replica.
func (m *Manager) Active() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.entries))
	for id := range m.entries {
		out = append(out, id)
	}
	return out
}

// Close stops every replica and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, e := range m.entries {
		e.cancel()
		delete(m.entries, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
