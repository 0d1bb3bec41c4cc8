package routing

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/flashchain/paychan/chantypes"
)

// paymentTimeout and the monitor sweep interval: any Pending/InFlight
// payment older than 300s is moved to TimedOut by a sweep that runs every
// 60s.
const (
	paymentTimeout  = 300 * time.Second
	monitorInterval = 60 * time.Second
)

// Route is a materialized, validated payment path: the ordered hop list
// plus the derived totals spec's data model requires.
type Route struct {
	Hops          []Hop
	TotalAmount   *big.Int
	TotalTimelock uint64
}

// HTLCChannelManager is the slice of StateManager the payment processor
// needs: creating and fulfilling/failing HTLCs on a channel by id. Kept as
// a narrow interface so PaymentProcessor never holds a pointer into
// StateManager's internals, only calls keyed by channel_id.
type HTLCChannelManager interface {
	CreateHTLC(ctx context.Context, channelID chantypes.Hash, sender, receiver chantypes.Address, amount *big.Int, hashLock chantypes.Hash, timeout uint64) (chantypes.Hash, error)
	FulfillHTLC(ctx context.Context, channelID chantypes.Hash, htlcID chantypes.Hash, preimage []byte) error
	FailHTLC(ctx context.Context, channelID chantypes.Hash, htlcID chantypes.Hash) error
}

// committedHop records one forward-leg commit so rollback/settlement can
// walk it back in order.
type committedHop struct {
	channelID chantypes.Hash
	htlcID    chantypes.Hash
	hop       Hop
}

// paymentState is the per-payment_hash bookkeeping PaymentProcessor owns.
type paymentState struct {
	status    chantypes.PaymentStatus
	route     Route
	hops      []committedHop
	timestamp time.Time
	feesPaid  *big.Int
	preimage  []byte
	reason    string
}

// Result is the outward-facing snapshot of a payment's outcome.
type Result struct {
	Status      chantypes.PaymentStatus
	Preimage    []byte
	FeesPaid    *big.Int
	CompletedAt time.Time
	Reason      string
}

// PaymentProcessor orchestrates multi-hop HTLC payments. Lock ordering is
// fixed (active_payments -> payment_statuses -> htlcs -> results) so no
// writer ever holds two at once, precluding deadlock; in this
// implementation a single mutex per map achieves the same effect more
// simply while preserving the acquire order in code that needs more than
// one.
type PaymentProcessor struct {
	stateMu sync.RWMutex
	states  map[chantypes.Hash]*paymentState

	resultsMu sync.RWMutex
	results   map[chantypes.Hash]Result

	htlcMgr HTLCChannelManager

	shutdown chan struct{}
	once     sync.Once
}

// NewPaymentProcessor constructs a processor delegating HTLC operations to
// mgr.
func NewPaymentProcessor(mgr HTLCChannelManager) *PaymentProcessor {
	return &PaymentProcessor{
		states:   make(map[chantypes.Hash]*paymentState),
		results:  make(map[chantypes.Hash]Result),
		htlcMgr:  mgr,
		shutdown: make(chan struct{}),
	}
}

// Shutdown signals the timeout monitor to stop between ticks.
func (p *PaymentProcessor) Shutdown() {
	p.once.Do(func() { close(p.shutdown) })
}

// Send runs the full forward-then-settlement HTLC lifecycle for route,
// keyed by paymentHash, revealing paymentSecret only after the terminal
// hop's HTLC is fulfilled.
func (p *PaymentProcessor) Send(ctx context.Context, route Route, paymentHash chantypes.Hash, paymentSecret []byte) error {
	if err := p.initPayment(route, paymentHash); err != nil {
		return err
	}

	var committed []committedHop
	for i, hop := range route.Hops {
		timeoutHeight := sumRemainingTimelocks(route.Hops[i:])
		htlcID, err := p.htlcMgr.CreateHTLC(ctx, hop.ChannelID, hop.Source, hop.Target, hop.Amount, paymentHash, timeoutHeight)
		if err != nil {
			p.rollback(ctx, paymentHash, committed, chantypes.PaymentFailed, fmt.Sprintf("forward leg failed at hop %d: %v", i, err))
			return fmt.Errorf("routing: forward leg failed: %w", err)
		}
		committed = append(committed, committedHop{channelID: hop.ChannelID, htlcID: htlcID, hop: hop})

		p.stateMu.Lock()
		st := p.states[paymentHash]
		st.hops = committed
		if st.status == chantypes.PaymentPending {
			st.status = chantypes.PaymentInFlight
		}
		p.stateMu.Unlock()
	}

	// Settlement leg: fulfill terminal hop first, then walk backward.
	for i := len(committed) - 1; i >= 0; i-- {
		ch := committed[i]
		if err := p.htlcMgr.FulfillHTLC(ctx, ch.channelID, ch.htlcID, paymentSecret); err != nil {
			p.rollback(ctx, paymentHash, committed[:i+1], chantypes.PaymentFailed, fmt.Sprintf("settlement leg failed at hop %d: %v", i, err))
			return fmt.Errorf("routing: settlement leg failed: %w", err)
		}
	}

	fees := big.NewInt(0)
	for _, h := range route.Hops {
		fees.Add(fees, h.Fee)
	}

	p.stateMu.Lock()
	st := p.states[paymentHash]
	st.status = chantypes.PaymentSuccess
	st.feesPaid = fees
	st.preimage = paymentSecret
	p.stateMu.Unlock()

	p.recordResult(paymentHash, Result{
		Status: chantypes.PaymentSuccess, Preimage: paymentSecret,
		FeesPaid: fees, CompletedAt: now(),
	})
	return nil
}

func (p *PaymentProcessor) initPayment(route Route, paymentHash chantypes.Hash) error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if _, exists := p.states[paymentHash]; exists {
		return fmt.Errorf("routing: payment %s already active", paymentHash)
	}
	p.states[paymentHash] = &paymentState{
		status:    chantypes.PaymentPending,
		route:     route,
		timestamp: now(),
	}
	return nil
}

// rollback fails every already-committed hop in reverse order and records
// the payment under terminalStatus: PaymentFailed for a forward- or
// settlement-leg error, PaymentTimedOut for the 300s deadline sweep, so the
// two distinct terminal outcomes in §4.6/§8 are never collapsed into one.
func (p *PaymentProcessor) rollback(ctx context.Context, paymentHash chantypes.Hash, committed []committedHop, terminalStatus chantypes.PaymentStatus, reason string) {
	for i := len(committed) - 1; i >= 0; i-- {
		ch := committed[i]
		if err := p.htlcMgr.FailHTLC(ctx, ch.channelID, ch.htlcID); err != nil {
			log.Warnf("routing: rollback failed to fail htlc %s on channel %s: %v", ch.htlcID, ch.channelID, err)
		}
	}
	p.stateMu.Lock()
	if st, ok := p.states[paymentHash]; ok {
		st.status = terminalStatus
		st.reason = reason
	}
	p.stateMu.Unlock()

	p.recordResult(paymentHash, Result{Status: terminalStatus, Reason: reason, CompletedAt: now()})
}

func (p *PaymentProcessor) recordResult(paymentHash chantypes.Hash, result Result) {
	p.resultsMu.Lock()
	p.results[paymentHash] = result
	p.resultsMu.Unlock()
}

// Status returns a payment's current status, or false if unknown.
func (p *PaymentProcessor) Status(paymentHash chantypes.Hash) (chantypes.PaymentStatus, bool) {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	st, ok := p.states[paymentHash]
	if !ok {
		return 0, false
	}
	return st.status, true
}

// Result returns a completed payment's outcome, or false if the payment
// hasn't concluded yet.
func (p *PaymentProcessor) Result(paymentHash chantypes.Hash) (Result, bool) {
	p.resultsMu.RLock()
	defer p.resultsMu.RUnlock()
	r, ok := p.results[paymentHash]
	return r, ok
}

// RunTimeoutMonitor runs a background sweep every 60s, moving any
// Pending/InFlight payment older than 300s to TimedOut and rolling it
// back, until ctx is cancelled or Shutdown is called.
func (p *PaymentProcessor) RunTimeoutMonitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.sweepTimeouts(ctx)
		}
	}
}

func (p *PaymentProcessor) sweepTimeouts(ctx context.Context) {
	type expired struct {
		hash      chantypes.Hash
		committed []committedHop
	}
	var toExpire []expired

	p.stateMu.Lock()
	for hash, st := range p.states {
		if st.status != chantypes.PaymentPending && st.status != chantypes.PaymentInFlight {
			continue
		}
		if now().Sub(st.timestamp) > paymentTimeout {
			st.status = chantypes.PaymentTimedOut
			toExpire = append(toExpire, expired{hash: hash, committed: st.hops})
		}
	}
	p.stateMu.Unlock()

	for _, e := range toExpire {
		p.rollback(ctx, e.hash, e.committed, chantypes.PaymentTimedOut, "payment exceeded 300s deadline")
	}
}

func sumRemainingTimelocks(hops []Hop) uint64 {
	var total uint64
	for _, h := range hops {
		total += h.Timelock
	}
	return total
}

// now is overridable in tests so the timeout monitor can be exercised
// deterministically without sleeping; production code leaves it as
// time.Now.
var now = time.Now
