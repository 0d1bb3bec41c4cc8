// Package routing implements path-finding over the channel graph (C5),
// multi-hop HTLC payment orchestration (C6), and the RoutingManager
// façade that composes them (C7). The priority-queue path search below
// uses the standard container/heap idiom, applied here to cost-ordered
// path search instead of price-ordered eviction.
package routing

import (
	"container/heap"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/flashchain/paychan/chantypes"
)

// Weights fixed by spec: cost(c, amount) = fee(c, amount) +
// W_timelock*timelock_delta(c) + W_reliability*(1-reliability(c)).
const (
	weightTimelock   = 10.0
	weightReliability = 1000.0
	reliabilityWindow = 100
	bestPathCount     = 3
)

// ErrNoRoute is returned when no path satisfies the requested amount and
// policy constraints.
var ErrNoRoute = errors.New("routing: no route found")

// ChannelEdge is one directed traversal of a channel: its capacity,
// fee-rate, timelock delta, and empirically observed reliability.
type ChannelEdge struct {
	ChannelID     chantypes.Hash
	Source        chantypes.Address
	Target        chantypes.Address
	Capacity      *big.Int
	FeeRatePPM    uint64
	TimelockDelta uint64
}

// Policy bounds path search: maximum hop count and maximum total timelock.
type Policy struct {
	MaxHops       int
	MaxTimelock   uint64
}

// Hop is one planned traversal within a materialized Route.
type Hop struct {
	ChannelID chantypes.Hash
	Source    chantypes.Address
	Target    chantypes.Address
	Amount    *big.Int
	Fee       *big.Int
	Timelock  uint64
}

// Path is a candidate route returned by FindPaths: an ordered hop list and
// its total cost, used only internally before a Route is materialized.
type Path struct {
	Hops       []ChannelEdge
	TotalCost  float64
	TotalTimelock uint64
}

type ringBuffer struct {
	outcomes []bool
	next     int
	full     bool
}

func newRingBuffer() *ringBuffer {
	return &ringBuffer{outcomes: make([]bool, 0, reliabilityWindow)}
}

func (r *ringBuffer) record(success bool) {
	if len(r.outcomes) < reliabilityWindow {
		r.outcomes = append(r.outcomes, success)
		return
	}
	r.full = true
	r.outcomes[r.next] = success
	r.next = (r.next + 1) % reliabilityWindow
}

func (r *ringBuffer) reliability() float64 {
	if len(r.outcomes) == 0 {
		return 1.0
	}
	successes := 0
	for _, ok := range r.outcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(r.outcomes))
}

// PathFinder maintains the channel graph and routes payments over it.
// Three independent rw-locks guard nodes/channels/reliability history so
// readers never block behind an unrelated writer.
type PathFinder struct {
	nodesMu sync.RWMutex
	nodes   map[chantypes.Address]map[chantypes.Hash]struct{}

	channelsMu sync.RWMutex
	channels   map[chantypes.Hash]*ChannelEdge

	reliabilityMu sync.RWMutex
	reliability   map[chantypes.Hash]*ringBuffer
}

// NewPathFinder constructs an empty graph.
func NewPathFinder() *PathFinder {
	return &PathFinder{
		nodes:       make(map[chantypes.Address]map[chantypes.Hash]struct{}),
		channels:    make(map[chantypes.Hash]*ChannelEdge),
		reliability: make(map[chantypes.Hash]*ringBuffer),
	}
}

// UpdateChannel inserts or mutates a channel edge; idempotent.
func (p *PathFinder) UpdateChannel(id chantypes.Hash, source, target chantypes.Address, capacity *big.Int, feeRatePPM, timelockDelta uint64) {
	p.channelsMu.Lock()
	p.channels[id] = &ChannelEdge{
		ChannelID: id, Source: source, Target: target,
		Capacity: new(big.Int).Set(capacity), FeeRatePPM: feeRatePPM, TimelockDelta: timelockDelta,
	}
	p.channelsMu.Unlock()

	p.nodesMu.Lock()
	for _, addr := range []chantypes.Address{source, target} {
		if p.nodes[addr] == nil {
			p.nodes[addr] = make(map[chantypes.Hash]struct{})
		}
		p.nodes[addr][id] = struct{}{}
	}
	p.nodesMu.Unlock()

	p.reliabilityMu.Lock()
	if _, ok := p.reliability[id]; !ok {
		p.reliability[id] = newRingBuffer()
	}
	p.reliabilityMu.Unlock()
}

// RecordPaymentResult appends success/failure to every hop channel's
// reliability history.
func (p *PathFinder) RecordPaymentResult(path []chantypes.Hash, success bool) {
	p.reliabilityMu.Lock()
	defer p.reliabilityMu.Unlock()
	for _, id := range path {
		rb, ok := p.reliability[id]
		if !ok {
			rb = newRingBuffer()
			p.reliability[id] = rb
		}
		rb.record(success)
	}
}

// Reliability returns a channel's empirical success ratio, 1.0 if no
// history has been recorded yet.
func (p *PathFinder) Reliability(id chantypes.Hash) float64 {
	p.reliabilityMu.RLock()
	defer p.reliabilityMu.RUnlock()
	rb, ok := p.reliability[id]
	if !ok {
		return 1.0
	}
	return rb.reliability()
}

// PruneUnreliableChannels drops every channel edge (and its node
// back-references) whose reliability is below threshold.
func (p *PathFinder) PruneUnreliableChannels(threshold float64) []chantypes.Hash {
	p.channelsMu.Lock()
	defer p.channelsMu.Unlock()
	p.nodesMu.Lock()
	defer p.nodesMu.Unlock()

	var pruned []chantypes.Hash
	for id, edge := range p.channels {
		if p.Reliability(id) >= threshold {
			continue
		}
		delete(p.channels, id)
		delete(p.nodes[edge.Source], id)
		delete(p.nodes[edge.Target], id)
		pruned = append(pruned, id)
	}
	return pruned
}

func fee(edge *ChannelEdge, amount *big.Int) *big.Int {
	f := new(big.Int).Mul(amount, big.NewInt(int64(edge.FeeRatePPM)))
	return f.Div(f, big.NewInt(1_000_000))
}

func (p *PathFinder) cost(edge *ChannelEdge, amount *big.Int) float64 {
	feeAmt := new(big.Float).SetInt(fee(edge, amount))
	feeF, _ := feeAmt.Float64()
	reliability := p.Reliability(edge.ChannelID)
	return feeF + weightTimelock*float64(edge.TimelockDelta) + weightReliability*(1-reliability)
}

// searchNode is one entry in the Dijkstra priority queue: the node
// reached, the cumulative path to it, and its cumulative cost/timelock.
type searchNode struct {
	addr      chantypes.Address
	path      []ChannelEdge
	totalCost float64
	timelock  uint64
	index     int
}

type searchQueue []*searchNode

func (q searchQueue) Len() int { return len(q) }
func (q searchQueue) Less(i, j int) bool {
	if q[i].totalCost != q[j].totalCost {
		return q[i].totalCost < q[j].totalCost
	}
	return len(q[i].path) < len(q[j].path)
}
func (q searchQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *searchQueue) Push(x interface{}) {
	n := x.(*searchNode)
	n.index = len(*q)
	*q = append(*q, n)
}
func (q *searchQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// FindPaths runs a modified Dijkstra search from source to target carrying
// amount, returning up to K=3 best paths sorted ascending by cost.
// Channels with capacity < amount are excluded; paths exceeding
// policy.MaxHops are pruned.
func (p *PathFinder) FindPaths(source, target chantypes.Address, amount *big.Int, policy Policy) ([]Path, error) {
	p.channelsMu.RLock()
	p.nodesMu.RLock()
	edgesByNode := make(map[chantypes.Address][]*ChannelEdge)
	for addr, ids := range p.nodes {
		for id := range ids {
			edge := p.channels[id]
			if edge == nil {
				continue
			}
			if edge.Source == addr {
				edgesByNode[addr] = append(edgesByNode[addr], edge)
			}
		}
	}
	p.nodesMu.RUnlock()
	p.channelsMu.RUnlock()

	var found []Path
	pq := &searchQueue{{addr: source, totalCost: 0}}
	heap.Init(pq)

	for pq.Len() > 0 && len(found) < bestPathCount {
		current := heap.Pop(pq).(*searchNode)
		if current.addr == target && len(current.path) > 0 {
			found = append(found, Path{
				Hops:          current.path,
				TotalCost:     current.totalCost,
				TotalTimelock: current.timelock,
			})
			continue
		}
		if len(current.path) >= policy.MaxHops {
			continue
		}
		for _, edge := range edgesByNode[current.addr] {
			if edge.Capacity.Cmp(amount) < 0 {
				continue
			}
			newTimelock := current.timelock + edge.TimelockDelta
			if newTimelock > policy.MaxTimelock {
				continue
			}
			if hopVisits(current.path, edge.ChannelID) {
				continue
			}
			newPath := append(append([]ChannelEdge(nil), current.path...), *edge)
			heap.Push(pq, &searchNode{
				addr:      edge.Target,
				path:      newPath,
				totalCost: current.totalCost + p.cost(edge, amount),
				timelock:  newTimelock,
			})
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("%w: from %s to %s", ErrNoRoute, source, target)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].TotalCost != found[j].TotalCost {
			return found[i].TotalCost < found[j].TotalCost
		}
		if found[i].TotalTimelock != found[j].TotalTimelock {
			return found[i].TotalTimelock < found[j].TotalTimelock
		}
		if len(found[i].Hops) != len(found[j].Hops) {
			return len(found[i].Hops) < len(found[j].Hops)
		}
		return lexicographicLess(found[i].Hops, found[j].Hops)
	})
	if len(found) > bestPathCount {
		found = found[:bestPathCount]
	}
	return found, nil
}

func hopVisits(path []ChannelEdge, id chantypes.Hash) bool {
	for _, h := range path {
		if h.ChannelID == id {
			return true
		}
	}
	return false
}

func lexicographicLess(a, b []ChannelEdge) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].ChannelID != b[i].ChannelID {
			return lessHash(a[i].ChannelID, b[i].ChannelID)
		}
	}
	return len(a) < len(b)
}

func lessHash(a, b chantypes.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
