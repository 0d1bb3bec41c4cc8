package storage

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashchain/paychan/channel"
	"github.com/flashchain/paychan/chantypes"
)

func testAddr(b byte) chantypes.Address {
	var a chantypes.Address
	a[0] = b
	return a
}

func TestMemStoreRoundTrip(t *testing.T) {
	store := NewMemStore()
	id := chantypes.Hash{0x01}

	update := &StateUpdate{
		ChannelID:  id,
		Sequence:   1,
		NewState:   chantypes.Hash{0xAA},
		Signatures: map[chantypes.Address][]byte{testAddr(1): []byte("sig-a"), testAddr(2): []byte("sig-b")},
	}
	require.NoError(t, store.PersistStateUpdate(update))
	require.Len(t, store.Updates(id), 1)

	loaded, err := store.LoadChannelStates()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestLevelDBStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenLevelDBStore(filepath.Join(dir, "chan.db"))
	require.NoError(t, err)
	defer store.Close()

	id := chantypes.Hash{0x02}
	update := &StateUpdate{
		ChannelID:  id,
		Sequence:   1,
		NewState:   chantypes.Hash{0xBB},
		Signatures: map[chantypes.Address][]byte{testAddr(1): []byte("sig")},
	}
	require.NoError(t, store.PersistStateUpdate(update))

	count, err := store.pendingUpdateCount(id)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	participants := []chantypes.Address{testAddr(1), testAddr(2)}
	ch := channel.NewChannel(id, participants, big.NewInt(1000), 144, 0)
	ch.State.Balances[participants[0]] = channel.Balance{Free: big.NewInt(1000), Locked: big.NewInt(0)}
	ch.State.Balances[participants[1]] = channel.Balance{Free: big.NewInt(0), Locked: big.NewInt(0)}
	require.NoError(t, ch.State.Transfer(participants[0], participants[1], big.NewInt(10)))
	require.NoError(t, store.PersistChannelState(ch))

	loaded, err := store.LoadChannelStates()
	require.NoError(t, err)
	require.Contains(t, loaded, id)
	require.Equal(t, ch.State.Sequence, loaded[id].State.Sequence)
}
