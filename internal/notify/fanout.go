package notify

import "sync"

const subscriberBuffer = 256

type subscriber struct {
	gameID int64
	ch     chan Change
}

// fanout tracks local subscribers per game. A subscriber that falls behind
// is dropped, which closes its channel and forces a refetch.
type fanout struct {
	mu   sync.Mutex
	subs map[int64]map[*subscriber]struct{}
	// onFirst/onLast let transports open and close one upstream
	// subscription per game.
	onFirst func(gameID int64) error
	onLast  func(gameID int64)
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int64]map[*subscriber]struct{})}
}

func (f *fanout) add(gameID int64) (*subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[gameID]
	if !ok || len(set) == 0 {
		if f.onFirst != nil {
			if err := f.onFirst(gameID); err != nil {
				return nil, err
			}
		}
		set = make(map[*subscriber]struct{})
		f.subs[gameID] = set
	}
	sub := &subscriber{gameID: gameID, ch: make(chan Change, subscriberBuffer)}
	set[sub] = struct{}{}
	return sub, nil
}

func (f *fanout) remove(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(sub)
}

func (f *fanout) removeLocked(sub *subscriber) {
	set := f.subs[sub.gameID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(f.subs, sub.gameID)
		if f.onLast != nil {
			f.onLast(sub.gameID)
		}
	}
}

func (f *fanout) deliver(change Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[change.GameID] {
		select {
		case sub.ch <- change:
		default:
			f.removeLocked(sub)
		}
	}
}

// dropAll closes every subscriber, e.g. after the upstream connection was
// lost and notifications may be missing.
func (f *fanout) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, set := range f.subs {
		for sub := range set {
			f.removeLocked(sub)
		}
	}
}

func (f *fanout) games() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.subs))
	for id := range f.subs {
		out = append(out, id)
	}
	return out
}

func (f *fanout) subscribe(gameID int64) (<-chan Change, func(), error) {
	sub, err := f.add(gameID)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	return sub.ch, func() { once.Do(func() { f.remove(sub) }) }, nil
}
