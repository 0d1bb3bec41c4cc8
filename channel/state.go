// Package channel implements the off-chain ledger for a single payment
// channel: balances, HTLCs, and the sequence number that orders updates.
// Every operation here is a self-contained transition — on success it
// updates the State in place, on failure it returns a typed error and
// leaves the State unchanged, and it never performs I/O; persistence and
// signature-checking are layered on top by the statemgr package.
package channel

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/flashchain/paychan/chantypes"
	"github.com/flashchain/paychan/crypto"
)

// Balance is one participant's free and locked funds.
type Balance struct {
	Free   *big.Int
	Locked *big.Int
}

func zeroBalance() Balance {
	return Balance{Free: big.NewInt(0), Locked: big.NewInt(0)}
}

func (b Balance) clone() Balance {
	return Balance{Free: new(big.Int).Set(b.Free), Locked: new(big.Int).Set(b.Locked)}
}

// HTLC is a hash-time-locked conditional payment embedded in a ChannelState.
type HTLC struct {
	ID       chantypes.Hash
	Sender   chantypes.Address
	Receiver chantypes.Address
	Amount   *big.Int
	HashLock chantypes.Hash
	Timeout  uint64
	Status   chantypes.HTLCStatus
}

func (h HTLC) clone() HTLC {
	c := h
	c.Amount = new(big.Int).Set(h.Amount)
	return c
}

// State is the off-chain ledger snapshot for one channel: balances, HTLCs,
// a strictly increasing sequence number, and the canonical hash of the
// whole snapshot.
type State struct {
	Participants []chantypes.Address
	Balances     map[chantypes.Address]Balance
	HTLCs        map[chantypes.Hash]HTLC
	Sequence     uint64
	StateHash    chantypes.Hash
}

// Errors kinds per spec: InvalidBalance, MissingParticipant, InvalidLock
// (not found | invalid secret | not expired), LockExists, InvalidTransition.
var (
	ErrInvalidBalance     = errors.New("channel: invalid balance")
	ErrMissingParticipant = errors.New("channel: missing participant")
	ErrInvalidLock        = errors.New("channel: invalid lock")
	ErrLockExists         = errors.New("channel: lock already exists")
	ErrInvalidTransition  = errors.New("channel: invalid transition")
)

// New builds the initial state for a channel: every participant starts at
// zero balance, sequence 0, no HTLCs, hash computed over that empty ledger.
func New(participants []chantypes.Address) *State {
	balances := make(map[chantypes.Address]Balance, len(participants))
	for _, p := range participants {
		balances[p] = zeroBalance()
	}
	s := &State{
		Participants: append([]chantypes.Address(nil), participants...),
		Balances:     balances,
		HTLCs:        make(map[chantypes.Hash]HTLC),
	}
	s.recomputeHash()
	return s
}

// Clone returns a deep copy, the snapshot handed out by shared-lock reads.
func (s *State) Clone() *State {
	balances := make(map[chantypes.Address]Balance, len(s.Balances))
	for addr, bal := range s.Balances {
		balances[addr] = bal.clone()
	}
	htlcs := make(map[chantypes.Hash]HTLC, len(s.HTLCs))
	for id, h := range s.HTLCs {
		htlcs[id] = h.clone()
	}
	return &State{
		Participants: append([]chantypes.Address(nil), s.Participants...),
		Balances:     balances,
		HTLCs:        htlcs,
		Sequence:     s.Sequence,
		StateHash:    s.StateHash,
	}
}

func (s *State) isParticipant(addr chantypes.Address) bool {
	for _, p := range s.Participants {
		if p == addr {
			return true
		}
	}
	return false
}

// recomputeHash recomputes StateHash from the canonical encoding; called at
// the end of every successful operation, per spec.
func (s *State) recomputeHash() {
	balances := make([]crypto.EncodedBalance, 0, len(s.Balances))
	for addr, bal := range s.Balances {
		balances = append(balances, crypto.EncodedBalance{Addr: addr, Free: bal.Free, Locked: bal.Locked})
	}
	htlcs := make([]crypto.EncodedHTLC, 0, len(s.HTLCs))
	for id, h := range s.HTLCs {
		htlcs = append(htlcs, crypto.EncodedHTLC{
			ID:        id,
			Amount:    h.Amount,
			HashLock:  h.HashLock,
			Timeout:   h.Timeout,
			Sender:    h.Sender,
			Receiver:  h.Receiver,
			StatusNum: uint8(h.Status),
		})
	}
	s.StateHash = crypto.StateHash(s.Sequence, balances, htlcs)
}

// Transfer moves amount from from's free balance to to's, bumping sequence
// by 1 on success. A zero amount is accepted (sequence still bumps, hash
// still changes because of the sequence field).
func (s *State) Transfer(from, to chantypes.Address, amount *big.Int) error {
	if !s.isParticipant(from) || !s.isParticipant(to) {
		return fmt.Errorf("%w: transfer requires both parties to be channel participants", ErrMissingParticipant)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidBalance)
	}
	fromBal := s.Balances[from]
	if fromBal.Free.Cmp(amount) < 0 {
		return fmt.Errorf("%w: sender free balance %s below transfer amount %s", ErrInvalidBalance, fromBal.Free, amount)
	}
	toBal := s.Balances[to]

	fromBal.Free = new(big.Int).Sub(fromBal.Free, amount)
	toBal.Free = new(big.Int).Add(toBal.Free, amount)
	s.Balances[from] = fromBal
	s.Balances[to] = toBal

	s.Sequence++
	s.recomputeHash()
	return nil
}

// CreateHTLC locks amount out of sender's free balance into a new pending
// HTLC, returning its deterministically derived id.
func (s *State) CreateHTLC(sender, receiver chantypes.Address, amount *big.Int, hashLock chantypes.Hash, timeout uint64) (chantypes.Hash, error) {
	var zero chantypes.Hash
	if !s.isParticipant(sender) || !s.isParticipant(receiver) {
		return zero, fmt.Errorf("%w: create_htlc requires both parties to be channel participants", ErrMissingParticipant)
	}
	if amount == nil || amount.Sign() < 0 {
		return zero, fmt.Errorf("%w: amount must be non-negative", ErrInvalidBalance)
	}
	senderBal := s.Balances[sender]
	if senderBal.Free.Cmp(amount) < 0 {
		return zero, fmt.Errorf("%w: sender free balance %s below htlc amount %s", ErrInvalidBalance, senderBal.Free, amount)
	}

	id := crypto.HTLCID(sender, receiver, amount, hashLock)
	if _, exists := s.HTLCs[id]; exists {
		return zero, fmt.Errorf("%w: htlc %s already exists", ErrLockExists, id)
	}

	senderBal.Free = new(big.Int).Sub(senderBal.Free, amount)
	senderBal.Locked = new(big.Int).Add(senderBal.Locked, amount)
	s.Balances[sender] = senderBal

	s.HTLCs[id] = HTLC{
		ID:       id,
		Sender:   sender,
		Receiver: receiver,
		Amount:   new(big.Int).Set(amount),
		HashLock: hashLock,
		Timeout:  timeout,
		Status:   chantypes.HTLCPending,
	}

	s.Sequence++
	s.recomputeHash()
	return id, nil
}

// FulfillHTLC releases a pending HTLC's locked amount to the receiver once
// the caller proves knowledge of the preimage.
func (s *State) FulfillHTLC(id chantypes.Hash, preimage []byte) error {
	h, ok := s.HTLCs[id]
	if !ok {
		return fmt.Errorf("%w: htlc %s not found", ErrInvalidLock, id)
	}
	if h.Status != chantypes.HTLCPending {
		return fmt.Errorf("%w: htlc %s is not pending (status=%s)", ErrInvalidLock, id, h.Status)
	}
	if !crypto.VerifyPreimage(h.HashLock, preimage) {
		return fmt.Errorf("%w: invalid preimage for htlc %s", ErrInvalidLock, id)
	}

	senderBal := s.Balances[h.Sender]
	senderBal.Locked = new(big.Int).Sub(senderBal.Locked, h.Amount)
	s.Balances[h.Sender] = senderBal

	receiverBal := s.Balances[h.Receiver]
	receiverBal.Free = new(big.Int).Add(receiverBal.Free, h.Amount)
	s.Balances[h.Receiver] = receiverBal

	h.Status = chantypes.HTLCFulfilled
	s.HTLCs[id] = h

	s.Sequence++
	s.recomputeHash()
	return nil
}

// ExpireHTLC returns a timed-out pending HTLC's locked amount to the
// sender. currentHeight must be at or past the HTLC's timeout.
func (s *State) ExpireHTLC(id chantypes.Hash, currentHeight uint64) error {
	h, ok := s.HTLCs[id]
	if !ok {
		return fmt.Errorf("%w: htlc %s not found", ErrInvalidLock, id)
	}
	if h.Status != chantypes.HTLCPending {
		return fmt.Errorf("%w: htlc %s is not pending (status=%s)", ErrInvalidLock, id, h.Status)
	}
	if currentHeight < h.Timeout {
		return fmt.Errorf("%w: htlc %s not yet expired (height %d < timeout %d)", ErrInvalidLock, id, currentHeight, h.Timeout)
	}

	senderBal := s.Balances[h.Sender]
	senderBal.Locked = new(big.Int).Sub(senderBal.Locked, h.Amount)
	senderBal.Free = new(big.Int).Add(senderBal.Free, h.Amount)
	s.Balances[h.Sender] = senderBal

	h.Status = chantypes.HTLCExpired
	s.HTLCs[id] = h

	s.Sequence++
	s.recomputeHash()
	return nil
}

// FailHTLC is the rollback counterpart to ExpireHTLC used by the payment
// processor: it returns a pending HTLC's locked funds to the sender
// immediately (no timeout wait) and marks it Failed, for unwinding a
// multi-hop payment after a downstream failure.
func (s *State) FailHTLC(id chantypes.Hash) error {
	h, ok := s.HTLCs[id]
	if !ok {
		return fmt.Errorf("%w: htlc %s not found", ErrInvalidLock, id)
	}
	if h.Status != chantypes.HTLCPending {
		return fmt.Errorf("%w: htlc %s is not pending (status=%s)", ErrInvalidLock, id, h.Status)
	}

	senderBal := s.Balances[h.Sender]
	senderBal.Locked = new(big.Int).Sub(senderBal.Locked, h.Amount)
	senderBal.Free = new(big.Int).Add(senderBal.Free, h.Amount)
	s.Balances[h.Sender] = senderBal

	h.Status = chantypes.HTLCFailed
	s.HTLCs[id] = h

	s.Sequence++
	s.recomputeHash()
	return nil
}

// Status tracks the on-chain-visible lifecycle of the channel as a whole,
// separate from the off-chain ledger sequence above.
type Status = chantypes.ChannelStatus

// Close advances the channel lifecycle Active -> Closing -> Closed. Any
// other source status fails with InvalidTransition.
func Close(current Status) (Status, error) {
	switch current {
	case chantypes.ChannelActive:
		return chantypes.ChannelClosing, nil
	case chantypes.ChannelClosing:
		return chantypes.ChannelClosed, nil
	default:
		return current, fmt.Errorf("%w: cannot close from status %s", ErrInvalidTransition, current)
	}
}

// Conservation reports whether the invariant sum(free+locked) <= capacity
// holds for every participant combined, per the testable Conservation
// property: total locked-plus-free funds never exceed channel capacity.
func (s *State) Conservation(capacity *big.Int) bool {
	total := big.NewInt(0)
	for _, bal := range s.Balances {
		total.Add(total, bal.Free)
		total.Add(total, bal.Locked)
	}
	return total.Cmp(capacity) <= 0
}
