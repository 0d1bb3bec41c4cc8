// Package peer implements the network-facing lifecycle of a channel-
// network participant: handshake, heartbeat, aliveness, and a ban list —
// the PeerManager surface described briefly in §4.9. Session identifiers
// are generated with uuid.New().String() rather than a hand-rolled
// counter.
package peer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flashchain/paychan/chantypes"
)

const aliveWindow = 30 * time.Second

// Metrics is the heartbeat payload: latency and message counters a peer
// reports about itself each heartbeat_interval.
type Metrics struct {
	LatencyMillis  int64
	MessagesSent   uint64
	MessagesRecvd  uint64
}

// Peer is one network participant's tracked state.
type Peer struct {
	SessionID    string
	Address      chantypes.Address
	Endpoint     string
	ShardID      uint32
	Capabilities uint32 // bitset negotiated at handshake
	LastSeen     time.Time
	Status       chantypes.PeerStatus
	Metrics      Metrics
}

// IsAlive reports whether the peer has been seen within the last 30s.
func (p *Peer) IsAlive(now time.Time) bool {
	return now.Sub(p.LastSeen) < aliveWindow
}

type banEntry struct {
	reason    string
	expiresAt time.Time
}

// Manager tracks every connected peer and enforces the ban list.
type Manager struct {
	mu    sync.RWMutex
	peers map[chantypes.Address]*Peer

	bansMu sync.RWMutex
	bans   map[chantypes.Address]banEntry

	protocolVersion uint32
	capabilities    uint32
}

// New constructs a Manager advertising protocolVersion and capabilities
// during handshake.
func New(protocolVersion, capabilities uint32) *Manager {
	return &Manager{
		peers:           make(map[chantypes.Address]*Peer),
		bans:            make(map[chantypes.Address]banEntry),
		protocolVersion: protocolVersion,
		capabilities:    capabilities,
	}
}

// HandshakeRequest is what a connecting peer presents.
type HandshakeRequest struct {
	Address         chantypes.Address
	Endpoint        string
	ShardID         uint32
	ProtocolVersion uint32
	Capabilities    uint32
}

// ErrBanned is returned by Handshake for a peer still on the ban list.
var ErrBanned = fmt.Errorf("peer: address is banned")

// ErrProtocolMismatch is returned when the connecting peer's protocol
// version cannot interoperate with this node's.
var ErrProtocolMismatch = fmt.Errorf("peer: protocol version mismatch")

// Handshake negotiates protocol version, capability bitset, and shard id,
// consulting the ban list first per §4.9.
func (m *Manager) Handshake(req HandshakeRequest, now time.Time) (*Peer, error) {
	m.bansMu.RLock()
	ban, banned := m.bans[req.Address]
	m.bansMu.RUnlock()
	if banned && now.Before(ban.expiresAt) {
		return nil, fmt.Errorf("%w: %s (reason: %s)", ErrBanned, req.Address, ban.reason)
	}

	if req.ProtocolVersion != m.protocolVersion {
		return nil, fmt.Errorf("%w: peer=%d local=%d", ErrProtocolMismatch, req.ProtocolVersion, m.protocolVersion)
	}

	p := &Peer{
		SessionID:    uuid.New().String(),
		Address:      req.Address,
		Endpoint:     req.Endpoint,
		ShardID:      req.ShardID,
		Capabilities: req.Capabilities & m.capabilities,
		LastSeen:     now,
		Status:       chantypes.PeerConnected,
	}

	m.mu.Lock()
	m.peers[req.Address] = p
	m.mu.Unlock()

	return p, nil
}

// Heartbeat records a peer's self-reported metrics and refreshes LastSeen.
func (m *Manager) Heartbeat(addr chantypes.Address, metrics Metrics, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[addr]
	if !ok {
		return chantypes.NewErrorf(chantypes.KindNotFound, "peer: %s not connected", addr)
	}
	p.LastSeen = now
	p.Metrics = metrics
	return nil
}

// SweepAliveness marks every Connected peer not seen within the alive
// window as Timeout, returning the addresses that flipped.
func (m *Manager) SweepAliveness(now time.Time) []chantypes.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	var disconnected []chantypes.Address
	for addr, p := range m.peers {
		if p.Status == chantypes.PeerConnected && !p.IsAlive(now) {
			p.Status = chantypes.PeerTimeout
			disconnected = append(disconnected, addr)
		}
	}
	return disconnected
}

// Ban adds addr to the ban list for ttl, with an explicit reason.
func (m *Manager) Ban(addr chantypes.Address, reason string, ttl time.Duration, now time.Time) {
	m.bansMu.Lock()
	m.bans[addr] = banEntry{reason: reason, expiresAt: now.Add(ttl)}
	m.bansMu.Unlock()

	m.mu.Lock()
	if p, ok := m.peers[addr]; ok {
		p.Status = chantypes.PeerBanned
	}
	m.mu.Unlock()
}

// IsBanned reports whether addr is currently banned.
func (m *Manager) IsBanned(addr chantypes.Address, now time.Time) bool {
	m.bansMu.RLock()
	defer m.bansMu.RUnlock()
	ban, ok := m.bans[addr]
	return ok && now.Before(ban.expiresAt)
}

// Get returns a peer's tracked state.
func (m *Manager) Get(addr chantypes.Address) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[addr]
	return p, ok
}

// Peers returns a snapshot of every currently tracked peer.
func (m *Manager) Peers() []*Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		clone := *p
		out = append(out, &clone)
	}
	return out
}
