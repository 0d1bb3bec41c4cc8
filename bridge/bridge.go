// Package bridge submits channel lifecycle operations to the on-chain
// contract surface and monitors their confirmation, mirroring the way
// settlement/iso20022 maps Shell transactions to an external messaging
// standard: build a typed payload, submit it through an RPC collaborator,
// then track the result in a pending table until it resolves.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/flashchain/paychan/chantypes"
)

// OperationKind identifies which of the four contract operations a
// pending transaction represents.
type OperationKind uint8

const (
	OpRegisterChannel OperationKind = iota
	OpUpdateChannelState
	OpInitiateDispute
	OpResolveDispute
)

func (k OperationKind) String() string {
	switch k {
	case OpRegisterChannel:
		return "register_channel"
	case OpUpdateChannelState:
		return "update_channel_state"
	case OpInitiateDispute:
		return "initiate_dispute"
	case OpResolveDispute:
		return "resolve_dispute"
	default:
		return "unknown"
	}
}

// gasBudget is the fixed gas table from §4.8: 500k/300k/500k/500k for
// register/update/dispute/resolve respectively.
var gasBudget = map[OperationKind]uint64{
	OpRegisterChannel:    500_000,
	OpUpdateChannelState: 300_000,
	OpInitiateDispute:    500_000,
	OpResolveDispute:     500_000,
}

const (
	monitorInterval = 15 * time.Second
	gcAge           = 24 * time.Hour
)

// Tx is an unsigned on-chain transaction built for one bridge operation.
type Tx struct {
	Kind    OperationKind
	GasLimit uint64
	Payload  []byte
}

// TxHash identifies a submitted on-chain transaction.
type TxHash = chantypes.Hash

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash TxHash
	Status uint8 // 1 = success, 0 = reverted
}

// RPCClient is the blockchain RPC collaborator Bridge depends on; its
// implementation (a real JSON-RPC client, a test double) lives outside
// this module's scope.
type RPCClient interface {
	SendTransaction(ctx context.Context, tx Tx) (TxHash, error)
	GetReceipt(ctx context.Context, hash TxHash) (*Receipt, error)
}

// Wallet signs bridge-built transaction payloads; key custody is an
// external collaborator per §1's non-goals.
type Wallet interface {
	SignTransaction(tx Tx) ([]byte, error)
}

// pendingEntry is one row of the pending_transactions table Bridge
// exclusively owns.
type pendingEntry struct {
	kind        OperationKind
	status      chantypes.TxStatus
	submittedAt time.Time
	resolvedAt  time.Time
	payload     []byte
}

// Bridge submits channel lifecycle operations on chain and tracks them
// through to confirmation.
type Bridge struct {
	rpc    RPCClient
	wallet Wallet

	mu      sync.RWMutex
	pending map[TxHash]*pendingEntry

	shutdown chan struct{}
	once     sync.Once
}

// New constructs a Bridge submitting through rpc and signing through
// wallet.
func New(rpc RPCClient, wallet Wallet) *Bridge {
	return &Bridge{
		rpc:      rpc,
		wallet:   wallet,
		pending:  make(map[TxHash]*pendingEntry),
		shutdown: make(chan struct{}),
	}
}

// Shutdown stops the background monitor between ticks.
func (b *Bridge) Shutdown() {
	b.once.Do(func() { close(b.shutdown) })
}

func (b *Bridge) submit(ctx context.Context, kind OperationKind, payload []byte) (TxHash, error) {
	tx := Tx{Kind: kind, GasLimit: gasBudget[kind], Payload: payload}

	signed, err := b.wallet.SignTransaction(tx)
	if err != nil {
		return TxHash{}, chantypes.NewErrorf(chantypes.KindCrypto, "bridge: sign %s transaction: %w", kind, err)
	}
	tx.Payload = signed

	hash, err := b.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return TxHash{}, chantypes.NewErrorf(chantypes.KindNetwork, "bridge: submit %s transaction: %w", kind, err)
	}

	b.mu.Lock()
	b.pending[hash] = &pendingEntry{kind: kind, status: chantypes.TxPending, submittedAt: time.Now(), payload: payload}
	b.mu.Unlock()

	return hash, nil
}

// RegisterChannel submits registerChannel(participants, capacity).
func (b *Bridge) RegisterChannel(ctx context.Context, payload []byte) (TxHash, error) {
	return b.submit(ctx, OpRegisterChannel, payload)
}

// UpdateChannelState submits updateChannelState(channel_id, state_hash, signatures).
func (b *Bridge) UpdateChannelState(ctx context.Context, payload []byte) (TxHash, error) {
	return b.submit(ctx, OpUpdateChannelState, payload)
}

// InitiateDispute submits initiateDispute(channel_id, proof).
func (b *Bridge) InitiateDispute(ctx context.Context, payload []byte) (TxHash, error) {
	return b.submit(ctx, OpInitiateDispute, payload)
}

// ResolveDispute submits resolveDispute(channel_id, final_state_hash, validator_signatures).
func (b *Bridge) ResolveDispute(ctx context.Context, payload []byte) (TxHash, error) {
	return b.submit(ctx, OpResolveDispute, payload)
}

// Status returns a submitted transaction's current status.
func (b *Bridge) Status(hash TxHash) (chantypes.TxStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.pending[hash]
	if !ok {
		return 0, false
	}
	return e.status, true
}

// RunMonitor polls every 15s for receipts on Pending entries and garbage
// collects terminal entries after 24h, per §4.8.
func (b *Bridge) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.shutdown:
			return
		case <-ticker.C:
			b.pollReceipts(ctx)
			b.garbageCollect()
		}
	}
}

func (b *Bridge) pollReceipts(ctx context.Context) {
	b.mu.RLock()
	pendingHashes := make([]TxHash, 0, len(b.pending))
	for hash, e := range b.pending {
		if e.status == chantypes.TxPending {
			pendingHashes = append(pendingHashes, hash)
		}
	}
	b.mu.RUnlock()

	for _, hash := range pendingHashes {
		receipt, err := b.rpc.GetReceipt(ctx, hash)
		if err != nil {
			log.Warnf("bridge: get receipt for %s: %v", hash, err)
			continue
		}
		if receipt == nil {
			continue
		}

		b.mu.Lock()
		e, ok := b.pending[hash]
		if ok {
			if receipt.Status == 1 {
				e.status = chantypes.TxConfirmed
			} else {
				e.status = chantypes.TxFailed
			}
			e.resolvedAt = time.Now()
		}
		b.mu.Unlock()
	}
}

func (b *Bridge) garbageCollect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for hash, e := range b.pending {
		if e.status == chantypes.TxPending {
			continue
		}
		if now.Sub(e.resolvedAt) > gcAge {
			delete(b.pending, hash)
		}
	}
}

// PendingCount reports the number of tracked entries, a diagnostic used by
// tests and metrics.
func (b *Bridge) PendingCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pending)
}
