package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashchain/paychan/chantypes"
)

func TestSubmitTracksPendingEntry(t *testing.T) {
	rpc := NewFakeRPCClient()
	b := New(rpc, fakeWallet{})

	hash, err := b.RegisterChannel(context.Background(), []byte("payload"))
	require.NoError(t, err)

	status, ok := b.Status(hash)
	require.True(t, ok)
	require.Equal(t, chantypes.TxPending, status)
	require.Equal(t, 1, rpc.sentCount())
	require.Equal(t, 1, b.PendingCount())
}

func TestPollReceiptsConfirmsEntry(t *testing.T) {
	rpc := NewFakeRPCClient()
	b := New(rpc, fakeWallet{})

	hash, err := b.UpdateChannelState(context.Background(), []byte("payload"))
	require.NoError(t, err)

	rpc.SetReceipt(hash, &Receipt{TxHash: hash, Status: 1})
	b.pollReceipts(context.Background())

	status, ok := b.Status(hash)
	require.True(t, ok)
	require.Equal(t, chantypes.TxConfirmed, status)
}

func TestPollReceiptsFailsOnRevert(t *testing.T) {
	rpc := NewFakeRPCClient()
	b := New(rpc, fakeWallet{})

	hash, err := b.InitiateDispute(context.Background(), []byte("payload"))
	require.NoError(t, err)

	rpc.SetReceipt(hash, &Receipt{TxHash: hash, Status: 0})
	b.pollReceipts(context.Background())

	status, ok := b.Status(hash)
	require.True(t, ok)
	require.Equal(t, chantypes.TxFailed, status)
}

func TestGasBudgetTable(t *testing.T) {
	require.Equal(t, uint64(500_000), gasBudget[OpRegisterChannel])
	require.Equal(t, uint64(300_000), gasBudget[OpUpdateChannelState])
	require.Equal(t, uint64(500_000), gasBudget[OpInitiateDispute])
	require.Equal(t, uint64(500_000), gasBudget[OpResolveDispute])
}

func TestGarbageCollectRetainsRecentTerminalEntries(t *testing.T) {
	rpc := NewFakeRPCClient()
	b := New(rpc, fakeWallet{})

	hash, err := b.ResolveDispute(context.Background(), []byte("payload"))
	require.NoError(t, err)
	rpc.SetReceipt(hash, &Receipt{TxHash: hash, Status: 1})
	b.pollReceipts(context.Background())

	b.garbageCollect()
	_, ok := b.Status(hash)
	require.True(t, ok, "a terminal entry younger than 24h must not be collected")
}
