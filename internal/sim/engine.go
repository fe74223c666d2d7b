package sim

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/bus"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/history"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/raft"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/types"
)

// Config holds configuration for a Simulation.
type Config struct {
	Nodes       int
	Seed        int64
	Rand        *rand.Rand // optional: overrides Seed
	Speed       float64
	TransitRate float64
	Timing      raft.TimingConfig
	// InitialTimerSpread bounds the staggered election timers nodes start
	// with, in timer units out of raft.ElectionThreshold.
	InitialTimerSpread float64
	HistoryCapacity    int
	Paused             bool
	Logger             *log.Logger
}

// DefaultConfig returns a five node cluster at speed 1.
func DefaultConfig() Config {
	return Config{
		Nodes:              5,
		Seed:               1,
		Speed:              1,
		TransitRate:        bus.DefaultRate,
		Timing:             raft.DefaultTimingConfig(),
		InitialTimerSpread: 60,
		HistoryCapacity:    history.DefaultCapacity,
	}
}

// Simulation owns the cluster state. Ticks and commands serialize on one
// lock, so a command always lands between two ticks.
type Simulation struct {
	cfg    Config
	logger *log.Logger
	events history.EventStore

	mu     sync.Mutex
	rand   *rand.Rand
	state  State
	speed  float64
	paused bool

	subsMu  sync.Mutex
	subs    map[uint64]chan types.ClusterSnapshot
	nextSub uint64
}

// New creates a simulation of cfg.Nodes followers.
func New(cfg Config) (*Simulation, error) {
	if cfg.Nodes < 1 {
		return nil, ErrInvalidNodeCount
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1
	}
	if !(cfg.Speed > 0) {
		return nil, ErrInvalidSpeed
	}
	if cfg.TransitRate != 0 && !(cfg.TransitRate > 0) {
		return nil, ErrInvalidTransitRate
	}
	if cfg.Timing == (raft.TimingConfig{}) {
		cfg.Timing = raft.DefaultTimingConfig()
	}
	if err := cfg.Timing.Validate(); err != nil {
		return nil, err
	}
	if !(cfg.InitialTimerSpread > 0) || cfg.InitialTimerSpread > raft.ElectionThreshold {
		cfg.InitialTimerSpread = DefaultConfig().InitialTimerSpread
	}

	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(cfg.Seed))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Simulation{
		cfg:    cfg,
		logger: logger,
		events: history.NewMemEventStore(cfg.HistoryCapacity),
		rand:   r,
		speed:  cfg.Speed,
		paused: cfg.Paused,
		subs:   make(map[uint64]chan types.ClusterSnapshot),
	}
	s.state = State{Bus: bus.New(cfg.TransitRate)}
	s.resetLocked()
	return s, nil
}

func (s *Simulation) resetLocked() {
	nodes := make([]raft.Node, s.cfg.Nodes)
	for i := range nodes {
		timer := s.rand.Float64() * s.cfg.InitialTimerSpread
		nodes[i] = raft.NewNode(types.NodeID(i), timer, s.timeout())
	}
	b := s.state.Bus.Clone()
	b.Reset()
	s.state = State{Nodes: nodes, Bus: b}
}

// Reset reinitializes the cluster to N followers at term 0 with staggered
// random election timers and an empty network. Speed and pause are kept.
func (s *Simulation) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.record(types.Event{Kind: types.EventReset, Node: types.NoNode})
	s.logger.Printf("simulation reset: %d nodes", s.cfg.Nodes)
	s.publishLocked()
}

// Size returns the fixed cluster size.
func (s *Simulation) Size() int {
	return s.cfg.Nodes
}

// Majority returns the quorum size.
func (s *Simulation) Majority() int {
	return raft.Majority(s.cfg.Nodes)
}

// Tick advances the simulation by one tick unless it is paused. It reports
// whether a tick happened.
func (s *Simulation) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return false
	}
	s.tickLocked()
	return true
}

// Step advances exactly one tick, even while paused.
func (s *Simulation) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickLocked()
}

func (s *Simulation) tickLocked() {
	prev := s.state
	res := Step(prev, StepParams{
		Speed:   s.speed,
		Timing:  s.cfg.Timing,
		Timeout: s.timeout,
	})
	s.state = res.State
	s.recordTransitions(prev.Nodes, res.State.Nodes)
	s.publishLocked()
}

// timeout draws a node's next election timeout.
func (s *Simulation) timeout() float64 {
	return s.cfg.Timing.ElectionTimeout(s.rand.Float64())
}

func (s *Simulation) recordTransitions(prev, next []raft.Node) {
	tick := s.state.Tick
	for i := range next {
		p, n := prev[i], next[i]
		if n.Term > p.Term && n.VotedFor == n.ID && (n.Role == types.RoleCandidate || n.Role == types.RoleLeader) {
			s.record(types.Event{Tick: tick, Kind: types.EventElectionStarted, Node: n.ID, Term: n.Term})
			s.logger.Printf("node %d started election for term %d", n.ID, n.Term)
		}
		if n.Role == types.RoleLeader && (p.Role != types.RoleLeader || p.Term != n.Term) {
			s.record(types.Event{Tick: tick, Kind: types.EventLeaderElected, Node: n.ID, Term: n.Term,
				Detail: fmt.Sprintf("%d/%d votes", len(n.Votes), len(next))})
			s.logger.Printf("node %d elected leader for term %d", n.ID, n.Term)
		}
		if p.Role == types.RoleLeader && n.Role == types.RoleFollower {
			s.record(types.Event{Tick: tick, Kind: types.EventSteppedDown, Node: n.ID, Term: n.Term})
			s.logger.Printf("node %d stepped down at term %d", n.ID, n.Term)
		}
	}
}

func (s *Simulation) record(e types.Event) {
	if e.Tick == 0 {
		e.Tick = s.state.Tick
	}
	s.events.Append(e)
}

// Run ticks every interval until ctx is done. Paused ticks are skipped, not
// queued.
func (s *Simulation) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Simulation) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.record(types.Event{Kind: types.EventPaused, Node: types.NoNode})
	s.publishLocked()
}

func (s *Simulation) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.record(types.Event{Kind: types.EventResumed, Node: types.NoNode})
	s.publishLocked()
}

func (s *Simulation) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetSpeed scales timer and message progress increments from the next tick on.
func (s *Simulation) SetSpeed(multiplier float64) error {
	if !(multiplier > 0) {
		return ErrInvalidSpeed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = multiplier
	s.record(types.Event{Kind: types.EventSpeedChanged, Node: types.NoNode, Detail: fmt.Sprintf("%g", multiplier)})
	s.publishLocked()
	return nil
}

func (s *Simulation) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// KillNode marks a node dead. It reports false for an unknown id.
func (s *Simulation) KillNode(id types.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known(id) {
		return false
	}
	n := s.state.Nodes[id]
	if n.Role == types.RoleDead {
		return true
	}
	s.state.Nodes[id] = raft.Kill(n)
	s.record(types.Event{Kind: types.EventNodeKilled, Node: id, Term: n.Term, Detail: n.Role.String()})
	s.logger.Printf("node %d killed (was %s, term %d)", id, n.Role, n.Term)
	s.publishLocked()
	return true
}

// ReviveNode brings a dead node back as a follower. It reports false for an
// unknown id.
func (s *Simulation) ReviveNode(id types.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known(id) {
		return false
	}
	n := s.state.Nodes[id]
	if n.Role != types.RoleDead {
		return true
	}
	s.state.Nodes[id] = raft.Revive(n, s.timeout())
	s.record(types.Event{Kind: types.EventNodeRevived, Node: id, Term: n.Term})
	s.logger.Printf("node %d revived at term %d", id, n.Term)
	s.publishLocked()
	return true
}

func (s *Simulation) known(id types.NodeID) bool {
	return int(id) >= 0 && int(id) < len(s.state.Nodes)
}

// InjectClientRequest returns the node a client request would be routed to.
func (s *Simulation) InjectClientRequest() (types.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hint, ok := s.leaderLocked()
	if !ok {
		return types.NoNode, ErrNoLeaderElected
	}
	s.record(types.Event{Kind: types.EventClientRequest, Node: hint.LeaderID, Term: hint.Term})
	return hint.LeaderID, nil
}

// leaderLocked returns the leader with the highest term.
func (s *Simulation) leaderLocked() (types.LeaderHint, bool) {
	var hint types.LeaderHint
	found := false
	for _, n := range s.state.Nodes {
		if n.Role != types.RoleLeader {
			continue
		}
		if !found || n.Term > hint.Term {
			hint = types.LeaderHint{LeaderID: n.ID, Term: n.Term}
			found = true
		}
	}
	return hint, found
}

// Snapshot returns a copy of the cluster for rendering.
func (s *Simulation) Snapshot() types.ClusterSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Simulation) snapshotLocked() types.ClusterSnapshot {
	snap := types.ClusterSnapshot{
		Tick:     s.state.Tick,
		Paused:   s.paused,
		Speed:    s.speed,
		Majority: raft.Majority(len(s.state.Nodes)),
		Nodes:    make([]types.NodeStatus, len(s.state.Nodes)),
		Messages: []types.MessageStatus{},
	}
	for i, n := range s.state.Nodes {
		snap.Nodes[i] = n.Status()
	}
	for _, m := range s.state.Bus.InFlight() {
		snap.Messages = append(snap.Messages, types.MessageStatus{
			ID:       m.ID,
			From:     m.From,
			To:       m.To,
			Type:     m.Type,
			Term:     m.Term,
			Progress: m.Progress,
		})
	}
	if hint, ok := s.leaderLocked(); ok {
		snap.Leader = &hint
	}
	return snap
}

// Events returns history events with an index greater than since.
func (s *Simulation) Events(since uint64) []types.Event {
	return s.events.ReadSince(since)
}

// Subscribe returns a channel that receives a snapshot after every tick or
// command. A slow reader only sees the latest snapshot. Call cancel to stop.
func (s *Simulation) Subscribe() (<-chan types.ClusterSnapshot, func()) {
	ch := make(chan types.ClusterSnapshot, 1)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subsMu.Unlock()
		})
	}
	return ch, cancel
}

func (s *Simulation) publishLocked() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	// each subscriber gets its own copy
	for _, ch := range s.subs {
		// drop the stale snapshot, if any, then send
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.snapshotLocked():
		default:
		}
	}
}
