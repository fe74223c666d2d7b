package sim

import (
	"github.com/isparth/Distributed-Systems/raft-sim/internal/bus"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/raft"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/types"
)

// State is the whole mutable simulation: nodes indexed by id plus the bus.
type State struct {
	Tick  uint64
	Nodes []raft.Node
	Bus   *bus.Bus
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	nodes := make([]raft.Node, len(s.Nodes))
	for i, n := range s.Nodes {
		nodes[i] = n.Clone()
	}
	return State{Tick: s.Tick, Nodes: nodes, Bus: s.Bus.Clone()}
}

// StepParams are the per-tick inputs that do not live in State.
type StepParams struct {
	Speed  float64
	Timing raft.TimingConfig
	// Timeout draws a fresh election timeout. It is called once per live
	// follower or candidate in ascending id order, then once per delivered
	// message in id order, whether or not the draw is used.
	Timeout func() float64
}

// StepResult is the committed next state and what the bus did this tick.
type StepResult struct {
	State     State
	Delivered []types.Message
	Dropped   []types.Message
}

// Step computes one tick. prev is never modified.
//
// Phases run in a fixed order: timers against the pre-tick snapshot, then
// bus advance and drain, then deliveries in message id order, then commit of
// every originated message at progress 0. A message is never created and
// delivered within the same tick.
func Step(prev State, p StepParams) StepResult {
	majority := raft.Majority(len(prev.Nodes))
	live := liveNodes(prev.Nodes)

	// timers
	next := make([]raft.Node, len(prev.Nodes))
	var originated []raft.Outbound
	for i, n := range prev.Nodes {
		env := raft.Env{
			Speed:    p.Speed,
			Peers:    live,
			Majority: majority,
			Timing:   p.Timing,
		}
		if n.Role == types.RoleFollower || n.Role == types.RoleCandidate {
			env.Timeout = p.draw()
		}
		var out []raft.Outbound
		next[i], out = raft.Tick(n, env)
		originated = append(originated, out...)
	}

	// transit
	b := prev.Bus.Clone()
	b.Advance(1, p.Speed)
	arrived := b.DrainDelivered()

	// deliveries
	res := StepResult{}
	var replies []raft.Outbound
	for _, m := range arrived {
		if !deliverable(next, m) {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		env := raft.Env{Speed: p.Speed, Timeout: p.draw(), Majority: majority, Timing: p.Timing}
		var out []raft.Outbound
		next[m.To], out = raft.Deliver(next[m.To], m, env)
		replies = append(replies, out...)
		res.Delivered = append(res.Delivered, m)
	}

	// commit
	for _, o := range originated {
		b.Send(o.From, o.To, o.Type, o.Term)
	}
	for _, o := range replies {
		b.Send(o.From, o.To, o.Type, o.Term)
	}

	res.State = State{Tick: prev.Tick + 1, Nodes: next, Bus: b}
	return res
}

func (p StepParams) draw() float64 {
	if p.Timeout == nil {
		return 0
	}
	return p.Timeout()
}

func liveNodes(nodes []raft.Node) []types.NodeID {
	live := make([]types.NodeID, 0, len(nodes))
	for _, n := range nodes {
		if n.Role != types.RoleDead {
			live = append(live, n.ID)
		}
	}
	return live
}

func deliverable(nodes []raft.Node, m types.Message) bool {
	if int(m.To) < 0 || int(m.To) >= len(nodes) || int(m.From) < 0 || int(m.From) >= len(nodes) {
		return false
	}
	return nodes[m.To].Role != types.RoleDead && nodes[m.From].Role != types.RoleDead
}
