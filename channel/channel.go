package channel

import (
	"math/big"

	"github.com/flashchain/paychan/chantypes"
)

// Channel is the on-chain-anchored agreement wrapping a mutable State: the
// immutable funding terms (id, participants, capacity, dispute period) plus
// the lifecycle status and timeout height that govern cooperative and
// disputed closes.
type Channel struct {
	ID             chantypes.Hash
	Participants   []chantypes.Address
	Capacity       *big.Int
	DisputePeriod  uint64 // in blocks
	Status         chantypes.ChannelStatus
	Nonce          uint64
	TimeoutHeight  uint64
	ShardID        uint32
	State          *State
}

// NewChannel constructs a freshly opened channel in Initializing status
// with an all-zero ledger.
func NewChannel(id chantypes.Hash, participants []chantypes.Address, capacity *big.Int, disputePeriod uint64, shardID uint32) *Channel {
	return &Channel{
		ID:            id,
		Participants:  append([]chantypes.Address(nil), participants...),
		Capacity:      new(big.Int).Set(capacity),
		DisputePeriod: disputePeriod,
		Status:        chantypes.ChannelInitializing,
		ShardID:       shardID,
		State:         New(participants),
	}
}

// Clone deep-copies the channel, including its ledger state, for
// shared-lock reads.
func (c *Channel) Clone() *Channel {
	clone := *c
	clone.Participants = append([]chantypes.Address(nil), c.Participants...)
	clone.Capacity = new(big.Int).Set(c.Capacity)
	clone.State = c.State.Clone()
	return &clone
}

// Activate transitions Initializing -> Active on the channel's first
// accepted update.
func (c *Channel) Activate() {
	if c.Status == chantypes.ChannelInitializing {
		c.Status = chantypes.ChannelActive
	}
}
