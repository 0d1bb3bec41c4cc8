// Package storage implements the Persistence interface channel state
// updates are durably written through: a goleveldb-backed store for
// production use, and an in-memory store for tests. Both are the same
// four-method collaborator StateManager depends on; neither is an
// "engine" with its own recovery protocol — they persist exactly what
// the caller hands them and reload it byte-for-byte.
package storage

import (
	"github.com/flashchain/paychan/channel"
	"github.com/flashchain/paychan/chantypes"
)

// StateUpdate is the durable record of one accepted channel-state
// transition: the sequence it moved to, the resulting state hash, and the
// per-participant signature set over that hash.
type StateUpdate struct {
	ChannelID       chantypes.Hash
	Sequence        uint64
	PreviousState   chantypes.Hash
	NewState        chantypes.Hash
	Signatures      map[chantypes.Address][]byte
}

// NetworkState is the snapshot persisted/loaded as a whole by
// load_network_state: every channel's last durable state plus its
// metadata, enough to rebuild the StateManager's full channel map.
type NetworkState struct {
	Channels map[chantypes.Hash]*channel.Channel
}

// Persistence is the four-method durability collaborator required by
// spec: every state mutation StateManager commits is written through it
// before the in-memory swap is visible to readers.
type Persistence interface {
	// PersistStateUpdate durably records one accepted update. Must
	// complete (or fail) before the caller may acknowledge the update.
	PersistStateUpdate(update *StateUpdate) error

	// PersistChannelState writes a full snapshot of a channel, overwriting
	// the previous one.
	PersistChannelState(ch *channel.Channel) error

	// LoadChannelStates reloads every channel's latest snapshot at
	// startup. Updates persisted after that snapshot are not replayed.
	LoadChannelStates() (map[chantypes.Hash]*channel.Channel, error)

	// LoadNetworkState reloads the full network snapshot at startup.
	LoadNetworkState() (*NetworkState, error)

	// Close releases any underlying resources (file handles, db handles).
	Close() error
}
