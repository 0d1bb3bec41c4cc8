package routing

import (
	"context"
	"fmt"
	"math/big"

	"github.com/flashchain/paychan/chantypes"
)

// Manager composes PathFinder and PaymentProcessor behind a single
// façade: FindRoute selects and validates a path, SendPayment delegates
// execution.
type Manager struct {
	finder    *PathFinder
	processor *PaymentProcessor
	policy    Policy
}

// NewManager constructs a RoutingManager façade over finder and an HTLC
// collaborator, applying policy to every FindRoute call.
func NewManager(finder *PathFinder, htlcMgr HTLCChannelManager, policy Policy) *Manager {
	return &Manager{
		finder:    finder,
		processor: NewPaymentProcessor(htlcMgr),
		policy:    policy,
	}
}

// FindRoute obtains candidate paths from the PathFinder, selects the
// cheapest, and materializes a validated Route pairing each channel with
// (amount, fee, timelock) from its current graph entry.
func (m *Manager) FindRoute(source, target chantypes.Address, amount *big.Int) (Route, error) {
	paths, err := m.finder.FindPaths(source, target, amount, m.policy)
	if err != nil {
		return Route{}, err
	}
	best := paths[0]

	if len(best.Hops) > m.policy.MaxHops {
		return Route{}, fmt.Errorf("routing: path exceeds max hops (%d > %d)", len(best.Hops), m.policy.MaxHops)
	}

	hops := make([]Hop, 0, len(best.Hops))
	totalFees := big.NewInt(0)
	var totalTimelock uint64
	runningAmount := new(big.Int).Set(amount)

	// Fees accrue from the receiver backward: the amount carried on
	// earlier hops must cover the fees charged by every later hop, so
	// hops are priced last-to-first then reversed into forward order.
	priced := make([]Hop, len(best.Hops))
	for i := len(best.Hops) - 1; i >= 0; i-- {
		edge := best.Hops[i]
		if edge.Capacity.Cmp(runningAmount) < 0 {
			return Route{}, fmt.Errorf("routing: hop %s capacity %s below required amount %s", edge.ChannelID, edge.Capacity, runningAmount)
		}
		hopFee := fee(&edge, runningAmount)
		priced[i] = Hop{
			ChannelID: edge.ChannelID,
			Source:    edge.Source,
			Target:    edge.Target,
			Amount:    new(big.Int).Set(runningAmount),
			Fee:       hopFee,
			Timelock:  edge.TimelockDelta,
		}
		totalFees.Add(totalFees, hopFee)
		totalTimelock += edge.TimelockDelta
		runningAmount = new(big.Int).Add(runningAmount, hopFee)
	}
	hops = append(hops, priced...)

	if totalTimelock > m.policy.MaxTimelock {
		return Route{}, fmt.Errorf("routing: total timelock %d exceeds policy max %d", totalTimelock, m.policy.MaxTimelock)
	}

	return Route{
		Hops:          hops,
		TotalAmount:   new(big.Int).Add(amount, totalFees),
		TotalTimelock: totalTimelock,
	}, nil
}

// SendPayment delegates execution of route to the PaymentProcessor.
func (m *Manager) SendPayment(ctx context.Context, route Route, paymentHash chantypes.Hash, paymentSecret []byte) error {
	err := m.processor.Send(ctx, route, paymentHash, paymentSecret)
	success := err == nil
	ids := make([]chantypes.Hash, len(route.Hops))
	for i, h := range route.Hops {
		ids[i] = h.ChannelID
	}
	m.finder.RecordPaymentResult(ids, success)
	return err
}

// Processor exposes the underlying PaymentProcessor for status/result
// queries and the background timeout monitor.
func (m *Manager) Processor() *PaymentProcessor { return m.processor }

// Finder exposes the underlying PathFinder for graph updates
// (update_channel) from the owning StateManager.
func (m *Manager) Finder() *PathFinder { return m.finder }
