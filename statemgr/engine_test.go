package statemgr

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashchain/paychan/chantypes"
	"github.com/flashchain/paychan/crypto"
)

// krCollector signs a proposed state_hash with every participant's key it
// holds, standing in for the real PeerManager/wire round trip.
type krCollector struct{ kr *keyring }

func (c *krCollector) CollectSignatures(_ context.Context, _ chantypes.Hash, participants []chantypes.Address, stateHash chantypes.Hash) (crypto.Signatures, error) {
	return c.kr.signAll(participants, stateHash[:]), nil
}

func TestHTLCEngineCreateFulfillRoundTrip(t *testing.T) {
	mgr, kr, addrs, id := newTestManager(t)
	eng := NewHTLCEngine(mgr, &krCollector{kr: kr})
	ctx := context.Background()

	var preimage chantypes.Hash
	preimage[0] = 0xAA
	hashLock := crypto.Hash(preimage[:])

	htlcID, err := eng.CreateHTLC(ctx, id, addrs[0], addrs[1], big.NewInt(200), hashLock, 1_000_000)
	require.NoError(t, err)

	ch, err := mgr.GetChannelState(id)
	require.NoError(t, err)
	require.EqualValues(t, 1, ch.State.Sequence)
	require.Equal(t, big.NewInt(400), ch.State.Balances[addrs[0]].Free)
	require.Equal(t, big.NewInt(200), ch.State.Balances[addrs[0]].Locked)

	err = eng.FulfillHTLC(ctx, id, htlcID, preimage[:])
	require.NoError(t, err)

	ch, err = mgr.GetChannelState(id)
	require.NoError(t, err)
	require.EqualValues(t, 2, ch.State.Sequence)
	require.Equal(t, big.NewInt(0), ch.State.Balances[addrs[0]].Locked)
	require.Equal(t, big.NewInt(600), ch.State.Balances[addrs[1]].Free)
	require.Equal(t, chantypes.HTLCFulfilled, ch.State.HTLCs[htlcID].Status)
}

func TestHTLCEngineFailRollsBackLockedFunds(t *testing.T) {
	mgr, kr, addrs, id := newTestManager(t)
	eng := NewHTLCEngine(mgr, &krCollector{kr: kr})
	ctx := context.Background()

	var hashLock chantypes.Hash
	hashLock[0] = 0xBB

	htlcID, err := eng.CreateHTLC(ctx, id, addrs[0], addrs[1], big.NewInt(300), hashLock, 1_000_000)
	require.NoError(t, err)

	require.NoError(t, eng.FailHTLC(ctx, id, htlcID))

	ch, err := mgr.GetChannelState(id)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(600), ch.State.Balances[addrs[0]].Free)
	require.Equal(t, big.NewInt(0), ch.State.Balances[addrs[0]].Locked)
	require.Equal(t, chantypes.HTLCFailed, ch.State.HTLCs[htlcID].Status)
}
