package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashchain/paychan/chantypes"
)

func paddr(b byte) chantypes.Address {
	var a chantypes.Address
	a[0] = b
	return a
}

func TestHandshakeNegotiatesCapabilities(t *testing.T) {
	m := New(1, 0b111)
	now := time.Now()

	p, err := m.Handshake(HandshakeRequest{
		Address: paddr(1), Endpoint: "tcp://peer1", ShardID: 0,
		ProtocolVersion: 1, Capabilities: 0b101,
	}, now)
	require.NoError(t, err)
	require.Equal(t, chantypes.PeerConnected, p.Status)
	require.EqualValues(t, 0b101, p.Capabilities)
	require.NotEmpty(t, p.SessionID)
}

func TestHandshakeRejectsProtocolMismatch(t *testing.T) {
	m := New(2, 0b111)
	_, err := m.Handshake(HandshakeRequest{Address: paddr(1), ProtocolVersion: 1}, time.Now())
	require.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestHandshakeRejectsBannedPeer(t *testing.T) {
	m := New(1, 0b111)
	now := time.Now()
	m.Ban(paddr(1), "spam", time.Hour, now)

	_, err := m.Handshake(HandshakeRequest{Address: paddr(1), ProtocolVersion: 1}, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrBanned)
}

func TestBanExpires(t *testing.T) {
	m := New(1, 0b111)
	now := time.Now()
	m.Ban(paddr(1), "spam", time.Minute, now)

	require.True(t, m.IsBanned(paddr(1), now.Add(30*time.Second)))
	require.False(t, m.IsBanned(paddr(1), now.Add(2*time.Minute)))
}

func TestAlivenessSweepDisconnectsStalePeers(t *testing.T) {
	m := New(1, 0b111)
	now := time.Now()
	_, err := m.Handshake(HandshakeRequest{Address: paddr(1), ProtocolVersion: 1}, now)
	require.NoError(t, err)

	later := now.Add(45 * time.Second)
	disconnected := m.SweepAliveness(later)
	require.Equal(t, []chantypes.Address{paddr(1)}, disconnected)

	p, ok := m.Get(paddr(1))
	require.True(t, ok)
	require.Equal(t, chantypes.PeerTimeout, p.Status)
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	m := New(1, 0b111)
	now := time.Now()
	_, err := m.Handshake(HandshakeRequest{Address: paddr(1), ProtocolVersion: 1}, now)
	require.NoError(t, err)

	later := now.Add(20 * time.Second)
	require.NoError(t, m.Heartbeat(paddr(1), Metrics{LatencyMillis: 15}, later))

	disconnected := m.SweepAliveness(later.Add(10 * time.Second))
	require.Empty(t, disconnected, "heartbeat must keep the peer within the alive window")
}
