package notify

import "context"

// Memory delivers changes within one process.
type Memory struct {
	fan *fanout
}

func NewMemory() *Memory {
	return &Memory{fan: newFanout()}
}

func (m *Memory) Publish(_ context.Context, change Change) error {
	if err := change.Validate(); err != nil {
		return err
	}
	m.fan.deliver(change)
	return nil
}

func (m *Memory) Subscribe(_ context.Context, gameID int64) (<-chan Change, func(), error) {
	return m.fan.subscribe(gameID)
}

// Drop closes every subscription, as a lost connection would.
func (m *Memory) Drop() {
	m.fan.dropAll()
}

func (m *Memory) Close() error {
	m.fan.dropAll()
	return nil
}
