package bridge

import (
	"context"
	"sync"
)

// FakeRPCClient is a deterministic RPCClient test double: SendTransaction
// always succeeds with a derived hash, GetReceipt returns nil (still
// pending) until SetReceipt is called for that hash.
type FakeRPCClient struct {
	mu       sync.Mutex
	nextID   uint8
	receipts map[TxHash]*Receipt
	sent     []Tx
}

// NewFakeRPCClient constructs an empty fake.
func NewFakeRPCClient() *FakeRPCClient {
	return &FakeRPCClient{receipts: make(map[TxHash]*Receipt)}
}

func (f *FakeRPCClient) SendTransaction(ctx context.Context, tx Tx) (TxHash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	var hash TxHash
	hash[0] = f.nextID
	f.sent = append(f.sent, tx)
	return hash, nil
}

func (f *FakeRPCClient) GetReceipt(ctx context.Context, hash TxHash) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[hash], nil
}

// SetReceipt makes hash resolve to receipt on the next poll.
func (f *FakeRPCClient) SetReceipt(hash TxHash, receipt *Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = receipt
}

func (f *FakeRPCClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeWallet is a no-op Wallet test double that "signs" by returning the
// payload unchanged.
type fakeWallet struct{}

func (fakeWallet) SignTransaction(tx Tx) ([]byte, error) { return tx.Payload, nil }

var _ RPCClient = (*FakeRPCClient)(nil)
var _ Wallet = fakeWallet{}
