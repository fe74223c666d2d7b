package raft

import (
	"errors"
	"fmt"
	"sort"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/types"
)

const (
	// ElectionThreshold is the election timer value at which a follower or
	// candidate starts a new election.
	ElectionThreshold = 100.0
	// HeartbeatThreshold is the heartbeat timer value at which a leader
	// broadcasts a heartbeat.
	HeartbeatThreshold = 100.0
)

var ErrInvalidTiming = errors.New("invalid timing config")

// TimingConfig holds the election timeout range and the heartbeat increment.
// Timeouts are in ticks at speed 1.
type TimingConfig struct {
	ElectionTimeoutMin float64
	ElectionTimeoutMax float64
	HeartbeatRate      float64
}

// DefaultTimingConfig returns timeouts several message hops long with a
// spread wide enough that one candidate's RequestVote usually lands before
// any other node times out.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		ElectionTimeoutMin: 150,
		ElectionTimeoutMax: 300,
		HeartbeatRate:      5,
	}
}

// Validate reports whether every field is usable.
func (c TimingConfig) Validate() error {
	if !(c.ElectionTimeoutMin > 0) {
		return fmt.Errorf("%w: election timeout min must be positive, got %g", ErrInvalidTiming, c.ElectionTimeoutMin)
	}
	if !(c.ElectionTimeoutMax >= c.ElectionTimeoutMin) {
		return fmt.Errorf("%w: election timeout max %g below min %g", ErrInvalidTiming, c.ElectionTimeoutMax, c.ElectionTimeoutMin)
	}
	if !(c.HeartbeatRate > 0) {
		return fmt.Errorf("%w: heartbeat rate must be positive, got %g", ErrInvalidTiming, c.HeartbeatRate)
	}
	return nil
}

// ElectionTimeout maps u in [0, 1) onto the configured timeout range.
func (c TimingConfig) ElectionTimeout(u float64) float64 {
	return c.ElectionTimeoutMin + u*(c.ElectionTimeoutMax-c.ElectionTimeoutMin)
}

// Majority returns the quorum size for a cluster of size nodes.
func Majority(size int) int {
	return size/2 + 1
}

// Outbound is a message a node wants to originate. The bus assigns its id.
type Outbound struct {
	From types.NodeID
	To   types.NodeID
	Type types.MessageType
	Term uint64
}

// Node is the Raft state of one simulated node. Transition functions take a
// Node by value and return a fresh one; the votes set is never shared.
//
// ElectionTimer runs from 0 to ElectionThreshold over ElectionTimeout ticks
// at speed 1. The timeout is redrawn every time the timer resets.
type Node struct {
	ID              types.NodeID
	Role            types.Role
	Term            uint64
	VotedFor        types.NodeID
	LeaderID        types.NodeID
	ElectionTimer   float64
	ElectionTimeout float64
	HeartbeatTimer  float64
	Votes           map[types.NodeID]struct{}
}

// NewNode returns a follower at term 0 with the given initial election timer
// and timeout.
func NewNode(id types.NodeID, electionTimer, electionTimeout float64) Node {
	return Node{
		ID:              id,
		Role:            types.RoleFollower,
		VotedFor:        types.NoNode,
		LeaderID:        types.NoNode,
		ElectionTimer:   electionTimer,
		ElectionTimeout: electionTimeout,
	}
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	if n.Votes != nil {
		votes := make(map[types.NodeID]struct{}, len(n.Votes))
		for id := range n.Votes {
			votes[id] = struct{}{}
		}
		n.Votes = votes
	}
	return n
}

// Status returns a read-only view of n.
func (n Node) Status() types.NodeStatus {
	var from []types.NodeID
	for id := range n.Votes {
		from = append(from, id)
	}
	sort.Slice(from, func(i, j int) bool { return from[i] < from[j] })

	return types.NodeStatus{
		ID:             n.ID,
		Role:           n.Role,
		Term:           n.Term,
		VotedFor:       n.VotedFor,
		ElectionTimer:   n.ElectionTimer,
		ElectionTimeout: n.ElectionTimeout,
		HeartbeatTimer:  n.HeartbeatTimer,
		Votes:           len(from),
		VotesFrom:       from,
		LeaderID:        n.LeaderID,
	}
}

// Env carries the inputs of one transition.
type Env struct {
	Speed float64
	// Timeout is a fresh election timeout, taken if the election timer resets.
	// Zero keeps the node's current timeout.
	Timeout  float64
	Peers    []types.NodeID // live nodes
	Majority int
	Timing   TimingConfig
}

// electionStep is the election timer increment for one tick. A node without
// a timeout takes ElectionThreshold ticks.
func electionStep(n Node, speed float64) float64 {
	if n.ElectionTimeout <= 0 {
		return speed
	}
	return speed * ElectionThreshold / n.ElectionTimeout
}

func resetElectionTimer(n Node, timeout float64) Node {
	n.ElectionTimer = 0
	if timeout > 0 {
		n.ElectionTimeout = timeout
	}
	return n
}

// Tick advances the node's timers by one tick and returns the messages it
// originates as a result.
func Tick(n Node, env Env) (Node, []Outbound) {
	n = n.Clone()

	switch n.Role {
	case types.RoleDead:
		return n, nil

	case types.RoleLeader:
		n.HeartbeatTimer += env.Speed * env.Timing.HeartbeatRate
		if n.HeartbeatTimer < HeartbeatThreshold {
			return n, nil
		}
		n.HeartbeatTimer = 0
		return n, broadcast(n, types.MsgHeartbeat, env.Peers)

	default:
		n.ElectionTimer += electionStep(n, env.Speed)
		if n.ElectionTimer < ElectionThreshold {
			return n, nil
		}
		return startElection(n, env)
	}
}

// startElection covers both a follower timing out and a candidate restarting
// after a split vote.
func startElection(n Node, env Env) (Node, []Outbound) {
	n.Term++
	n.Role = types.RoleCandidate
	n.VotedFor = n.ID
	n.LeaderID = types.NoNode
	n.Votes = map[types.NodeID]struct{}{n.ID: {}}
	n = resetElectionTimer(n, env.Timeout)

	out := broadcast(n, types.MsgRequestVote, env.Peers)

	if len(n.Votes) >= env.Majority {
		n = becomeLeader(n)
	}
	return n, out
}

func becomeLeader(n Node) Node {
	n.Role = types.RoleLeader
	n.LeaderID = n.ID
	// First heartbeat goes out on the next tick.
	n.HeartbeatTimer = HeartbeatThreshold
	return n
}

// stepDown adopts a higher term seen on any message.
func stepDown(n Node, term uint64, timeout float64) Node {
	n.Term = term
	n.Role = types.RoleFollower
	n.VotedFor = types.NoNode
	n.LeaderID = types.NoNode
	n.Votes = nil
	n.HeartbeatTimer = 0
	return resetElectionTimer(n, timeout)
}

func broadcast(n Node, typ types.MessageType, peers []types.NodeID) []Outbound {
	out := make([]Outbound, 0, len(peers))
	for _, p := range peers {
		if p == n.ID {
			continue
		}
		out = append(out, Outbound{From: n.ID, To: p, Type: typ, Term: n.Term})
	}
	return out
}

// Deliver applies one delivered message to n and returns any reply. Only
// env.Majority and env.Timeout are used.
func Deliver(n Node, m types.Message, env Env) (Node, []Outbound) {
	if n.Role == types.RoleDead {
		return n, nil
	}
	n = n.Clone()

	if m.Term > n.Term {
		n = stepDown(n, m.Term, env.Timeout)
	}

	switch m.Type {
	case types.MsgRequestVote:
		return handleRequestVote(n, m, env.Timeout)
	case types.MsgVoteGranted:
		return handleVoteGranted(n, m, env.Majority), nil
	case types.MsgHeartbeat:
		return handleHeartbeat(n, m, env.Timeout), nil
	default:
		return n, nil
	}
}

func handleRequestVote(n Node, m types.Message, timeout float64) (Node, []Outbound) {
	if n.Role != types.RoleFollower && n.Role != types.RoleCandidate {
		return n, nil
	}
	if m.Term < n.Term {
		return n, nil
	}

	canVote := n.VotedFor == types.NoNode || n.VotedFor == m.From
	if !canVote {
		return n, nil
	}

	n.VotedFor = m.From
	n = resetElectionTimer(n, timeout)
	return n, []Outbound{{From: n.ID, To: m.From, Type: types.MsgVoteGranted, Term: n.Term}}
}

func handleVoteGranted(n Node, m types.Message, majority int) Node {
	if n.Role != types.RoleCandidate || m.Term != n.Term {
		return n
	}
	n.Votes[m.From] = struct{}{}
	if len(n.Votes) >= majority {
		n = becomeLeader(n)
	}
	return n
}

func handleHeartbeat(n Node, m types.Message, timeout float64) Node {
	if m.Term < n.Term {
		return n
	}
	if n.Role != types.RoleFollower {
		n.Votes = nil
		n.HeartbeatTimer = 0
	}
	n.Role = types.RoleFollower
	n.LeaderID = m.From
	return resetElectionTimer(n, timeout)
}

// Kill marks the node dead. Term and vote are kept.
func Kill(n Node) Node {
	n = n.Clone()
	n.Role = types.RoleDead
	return n
}

// Revive brings a dead node back as a follower at its last known term with a
// fresh election timeout. Reviving a live node changes nothing.
func Revive(n Node, timeout float64) Node {
	if n.Role != types.RoleDead {
		return n
	}
	n = n.Clone()
	n.Role = types.RoleFollower
	n = resetElectionTimer(n, timeout)
	n.HeartbeatTimer = 0
	n.LeaderID = types.NoNode
	n.Votes = nil
	return n
}
