package storage

import (
	"sync"

	"github.com/flashchain/paychan/channel"
	"github.com/flashchain/paychan/chantypes"
)

// MemStore is an in-memory Persistence implementation — the "valid
// collaborator for testing" the durability contract explicitly sanctions.
// It never touches disk, so nothing survives process restart, but it
// keeps the same durable-before-acknowledged ordering guarantees.
type MemStore struct {
	mu       sync.Mutex
	updates  map[chantypes.Hash][]*StateUpdate
	channels map[chantypes.Hash]*channel.Channel
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		updates:  make(map[chantypes.Hash][]*StateUpdate),
		channels: make(map[chantypes.Hash]*channel.Channel),
	}
}

func (m *MemStore) PersistStateUpdate(update *StateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[update.ChannelID] = append(m.updates[update.ChannelID], update)
	return nil
}

func (m *MemStore) PersistChannelState(ch *channel.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch.Clone()
	return nil
}

func (m *MemStore) LoadChannelStates() (map[chantypes.Hash]*channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[chantypes.Hash]*channel.Channel, len(m.channels))
	for id, ch := range m.channels {
		out[id] = ch.Clone()
	}
	return out, nil
}

func (m *MemStore) LoadNetworkState() (*NetworkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channels := make(map[chantypes.Hash]*channel.Channel, len(m.channels))
	for id, ch := range m.channels {
		channels[id] = ch.Clone()
	}
	return &NetworkState{Channels: channels}, nil
}

func (m *MemStore) Close() error { return nil }

// Updates returns the durable update log for a channel, oldest first. Test
// helper, not part of the Persistence interface.
func (m *MemStore) Updates(channelID chantypes.Hash) []*StateUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*StateUpdate(nil), m.updates[channelID]...)
}

var _ Persistence = (*MemStore)(nil)
