package statemgr

import (
	"context"
	"math/big"

	"github.com/flashchain/paychan/chantypes"
	"github.com/flashchain/paychan/channel"
	"github.com/flashchain/paychan/crypto"
)

// SignatureCollector gathers a full signature set over a proposed
// new_state_hash from every channel participant before StateManager is
// asked to commit it. In a running node this is a round trip through
// PeerManager/wire to each remote counterpart plus a local signing key for
// this node's own share; the transport itself is out of scope per §1, so
// only the collaborator boundary is specified here.
type SignatureCollector interface {
	CollectSignatures(ctx context.Context, channelID chantypes.Hash, participants []chantypes.Address, stateHash chantypes.Hash) (crypto.Signatures, error)
}

// HTLCEngine adapts StateManager to the narrow HTLCChannelManager interface
// routing.PaymentProcessor depends on: every per-hop call becomes one
// proposed, signed, persisted state update, so C6 never touches
// ChannelState directly (§4.6 step 2 — "each call hashed and signed by C1,
// persisted by C3").
type HTLCEngine struct {
	sm   *StateManager
	sigs SignatureCollector
}

// NewHTLCEngine constructs an engine proposing updates through sm and
// gathering their signatures through sigs.
func NewHTLCEngine(sm *StateManager, sigs SignatureCollector) *HTLCEngine {
	return &HTLCEngine{sm: sm, sigs: sigs}
}

// propose reads the current channel, applies fn to a scratch copy to derive
// the resulting state_hash, collects signatures over that hash, and submits
// the same fn as the committed Update's Apply so StateManager re-derives
// the transition from whatever state is actually current when the permit is
// acquired, rather than trusting this scratch copy.
func (e *HTLCEngine) propose(ctx context.Context, channelID chantypes.Hash, fn func(*channel.State) error) (*channel.Channel, error) {
	current, err := e.sm.GetChannelState(channelID)
	if err != nil {
		return nil, err
	}

	scratch := current.Clone()
	if err := fn(scratch.State); err != nil {
		return nil, chantypes.NewErrorf(chantypes.KindValidation, "statemgr: %w", err)
	}

	sigs, err := e.sigs.CollectSignatures(ctx, channelID, scratch.Participants, scratch.State.StateHash)
	if err != nil {
		return nil, chantypes.NewErrorf(chantypes.KindNetwork, "statemgr: collect signatures for channel %s: %w", channelID, err)
	}

	return e.sm.UpdateChannelState(&Update{
		ChannelID:  channelID,
		Sequence:   current.State.Sequence + 1,
		Apply:      fn,
		Signatures: sigs,
	})
}

// CreateHTLC proposes a create_htlc transition and returns its
// deterministically derived id once the update commits.
func (e *HTLCEngine) CreateHTLC(ctx context.Context, channelID chantypes.Hash, sender, receiver chantypes.Address, amount *big.Int, hashLock chantypes.Hash, timeout uint64) (chantypes.Hash, error) {
	var htlcID chantypes.Hash
	_, err := e.propose(ctx, channelID, func(s *channel.State) error {
		id, err := s.CreateHTLC(sender, receiver, amount, hashLock, timeout)
		if err != nil {
			return err
		}
		htlcID = id
		return nil
	})
	if err != nil {
		return chantypes.Hash{}, err
	}
	return htlcID, nil
}

// FulfillHTLC proposes a fulfill_htlc transition revealing preimage.
func (e *HTLCEngine) FulfillHTLC(ctx context.Context, channelID, htlcID chantypes.Hash, preimage []byte) error {
	_, err := e.propose(ctx, channelID, func(s *channel.State) error {
		return s.FulfillHTLC(htlcID, preimage)
	})
	return err
}

// FailHTLC proposes the rollback counterpart used to unwind a payment after
// a downstream hop fails.
func (e *HTLCEngine) FailHTLC(ctx context.Context, channelID, htlcID chantypes.Hash) error {
	_, err := e.propose(ctx, channelID, func(s *channel.State) error {
		return s.FailHTLC(htlcID)
	})
	return err
}
