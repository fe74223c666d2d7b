package raft

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/types"
)

func envFor(peers ...types.NodeID) Env {
	return Env{
		Speed:    1,
		Peers:    peers,
		Majority: Majority(len(peers) + 1),
		Timing:   DefaultTimingConfig(),
	}
}

func quorum(majority int) Env {
	return Env{Speed: 1, Majority: majority, Timing: DefaultTimingConfig()}
}

func msg(from, to types.NodeID, typ types.MessageType, term uint64) types.Message {
	return types.Message{From: from, To: to, Type: typ, Term: term, Progress: 100}
}

func candidateAt(t *testing.T, id types.NodeID, term uint64) Node {
	t.Helper()
	n := NewNode(id, ElectionThreshold-0.5, ElectionThreshold)
	n.Term = term - 1
	n, _ = Tick(n, envFor(0, 1, 2, 3, 4))
	require.Equal(t, types.RoleCandidate, n.Role)
	require.Equal(t, term, n.Term)
	return n
}

func TestMajority(t *testing.T) {
	assert.Equal(t, 1, Majority(1))
	assert.Equal(t, 2, Majority(2))
	assert.Equal(t, 2, Majority(3))
	assert.Equal(t, 3, Majority(4))
	assert.Equal(t, 3, Majority(5))
}

func TestTick_FollowerBelowThreshold(t *testing.T) {
	n := NewNode(2, 10, 200)
	env := envFor(0, 1, 3, 4)
	env.Speed = 2
	env.Timeout = 250

	next, out := Tick(n, env)
	assert.Empty(t, out)
	assert.Equal(t, types.RoleFollower, next.Role)
	assert.InDelta(t, 11, next.ElectionTimer, 1e-9)
	assert.Equal(t, 200.0, next.ElectionTimeout, "timeout only changes on reset")
	assert.InDelta(t, 10, n.ElectionTimer, 1e-9, "input must not be mutated")
}

func TestTick_TimeoutSetsTicksToElection(t *testing.T) {
	for _, timeout := range []float64{150, 220, 300} {
		n := NewNode(0, 0, timeout)
		env := envFor(1, 2)
		ticks := 0
		for n.Role == types.RoleFollower {
			n, _ = Tick(n, env)
			ticks++
		}
		assert.InDelta(t, timeout, float64(ticks), 1, "timeout %g", timeout)
	}
}

func TestTick_FollowerTimeoutStartsElection(t *testing.T) {
	n := NewNode(2, 99.5, ElectionThreshold)

	next, out := Tick(n, envFor(0, 1, 3, 4))

	assert.Equal(t, types.RoleCandidate, next.Role)
	assert.Equal(t, uint64(1), next.Term)
	assert.Equal(t, types.NodeID(2), next.VotedFor)
	assert.Equal(t, 0.0, next.ElectionTimer)
	assert.Len(t, next.Votes, 1)
	assert.Contains(t, next.Votes, types.NodeID(2))

	require.Len(t, out, 4)
	for i, to := range []types.NodeID{0, 1, 3, 4} {
		assert.Equal(t, Outbound{From: 2, To: to, Type: types.MsgRequestVote, Term: 1}, out[i])
	}
}

func TestTick_DeadNodeIsInert(t *testing.T) {
	n := Kill(NewNode(1, 99.9, ElectionThreshold))

	next, out := Tick(n, envFor(0, 2))
	assert.Empty(t, out)
	assert.Equal(t, types.RoleDead, next.Role)
	assert.InDelta(t, 99.9, next.ElectionTimer, 1e-9)
}

func TestTick_CandidateSplitVoteRestarts(t *testing.T) {
	n := candidateAt(t, 0, 3)
	n.Votes[1] = struct{}{}
	n.ElectionTimer = ElectionThreshold - 0.1

	next, out := Tick(n, envFor(1, 2, 3, 4))

	assert.Equal(t, types.RoleCandidate, next.Role)
	assert.Equal(t, uint64(4), next.Term)
	assert.Equal(t, map[types.NodeID]struct{}{0: {}}, next.Votes)
	assert.Len(t, out, 4)
	for _, o := range out {
		assert.Equal(t, uint64(4), o.Term)
	}
}

func TestTick_SingleNodeClusterElectsItself(t *testing.T) {
	n := NewNode(0, ElectionThreshold, ElectionThreshold)

	next, out := Tick(n, Env{Speed: 1, Majority: 1, Timing: DefaultTimingConfig()})
	assert.Empty(t, out)
	assert.Equal(t, types.RoleLeader, next.Role)
	assert.Equal(t, uint64(1), next.Term)
}

func TestTick_LeaderHeartbeatsOnNextTick(t *testing.T) {
	n := candidateAt(t, 0, 1)
	n, _ = Deliver(n, msg(1, 0, types.MsgVoteGranted, 1), quorum(3))
	n, _ = Deliver(n, msg(2, 0, types.MsgVoteGranted, 1), quorum(3))
	require.Equal(t, types.RoleLeader, n.Role)

	env := envFor(1, 2, 3, 4)
	next, out := Tick(n, env)
	require.Len(t, out, 4)
	for _, o := range out {
		assert.Equal(t, types.MsgHeartbeat, o.Type)
		assert.Equal(t, uint64(1), o.Term)
	}
	assert.Equal(t, 0.0, next.HeartbeatTimer)

	// 100 / HeartbeatRate ticks until the next one.
	quiet := 0
	for {
		var o []Outbound
		next, o = Tick(next, env)
		if len(o) > 0 {
			break
		}
		quiet++
	}
	assert.Equal(t, int(HeartbeatThreshold/env.Timing.HeartbeatRate)-1, quiet)
}

func TestDeliver_QuorumReachedOnThirdDistinctVote(t *testing.T) {
	n := candidateAt(t, 2, 1)

	n, _ = Deliver(n, msg(0, 2, types.MsgVoteGranted, 1), quorum(3))
	assert.Equal(t, types.RoleCandidate, n.Role)

	// duplicate grant from the same voter
	n, _ = Deliver(n, msg(0, 2, types.MsgVoteGranted, 1), quorum(3))
	assert.Equal(t, types.RoleCandidate, n.Role)
	assert.Len(t, n.Votes, 2)

	n, _ = Deliver(n, msg(4, 2, types.MsgVoteGranted, 1), quorum(3))
	assert.Equal(t, types.RoleLeader, n.Role)
	assert.Equal(t, types.NodeID(2), n.LeaderID)
	assert.Len(t, n.Votes, 3)
}

func TestDeliver_VoteForOtherTermIgnored(t *testing.T) {
	n := candidateAt(t, 2, 3)

	n, out := Deliver(n, msg(0, 2, types.MsgVoteGranted, 2), quorum(3))
	assert.Empty(t, out)
	assert.Len(t, n.Votes, 1)
}

func TestDeliver_HigherTermPreemptsEveryRole(t *testing.T) {
	leader := candidateAt(t, 0, 2)
	leader = becomeLeader(leader)

	for _, start := range []Node{NewNode(0, 50, ElectionThreshold), candidateAt(t, 0, 2), leader} {
		for _, typ := range []types.MessageType{types.MsgHeartbeat, types.MsgVoteGranted, types.MsgRequestVote} {
			next, _ := Deliver(start, msg(3, 0, typ, 7), quorum(3))
			assert.Equal(t, types.RoleFollower, next.Role, "from %s via %s", start.Role, typ)
			assert.Equal(t, uint64(7), next.Term)
			assert.Equal(t, 0.0, next.ElectionTimer)
		}
	}
}

func TestDeliver_RequestVote(t *testing.T) {
	t.Run("grants first request of a term", func(t *testing.T) {
		n := NewNode(1, 40, ElectionThreshold)
		next, out := Deliver(n, msg(2, 1, types.MsgRequestVote, 1), quorum(3))

		require.Len(t, out, 1)
		assert.Equal(t, Outbound{From: 1, To: 2, Type: types.MsgVoteGranted, Term: 1}, out[0])
		assert.Equal(t, types.NodeID(2), next.VotedFor)
		assert.Equal(t, 0.0, next.ElectionTimer)
	})

	t.Run("regrants the same candidate", func(t *testing.T) {
		n := NewNode(1, 40, ElectionThreshold)
		n, _ = Deliver(n, msg(2, 1, types.MsgRequestVote, 1), quorum(3))
		_, out := Deliver(n, msg(2, 1, types.MsgRequestVote, 1), quorum(3))
		assert.Len(t, out, 1)
	})

	t.Run("refuses a second candidate in the same term", func(t *testing.T) {
		n := NewNode(1, 40, ElectionThreshold)
		n, _ = Deliver(n, msg(2, 1, types.MsgRequestVote, 1), quorum(3))
		n.ElectionTimer = 30
		next, out := Deliver(n, msg(3, 1, types.MsgRequestVote, 1), quorum(3))
		assert.Empty(t, out)
		assert.Equal(t, types.NodeID(2), next.VotedFor)
		assert.Equal(t, 30.0, next.ElectionTimer)
	})

	t.Run("ignores stale term", func(t *testing.T) {
		n := NewNode(1, 40, ElectionThreshold)
		n.Term = 5
		next, out := Deliver(n, msg(2, 1, types.MsgRequestVote, 4), quorum(3))
		assert.Empty(t, out)
		assert.Equal(t, uint64(5), next.Term)
		assert.Equal(t, types.NoNode, next.VotedFor)
	})

	t.Run("candidate refuses rival of same term", func(t *testing.T) {
		n := candidateAt(t, 1, 2)
		_, out := Deliver(n, msg(3, 1, types.MsgRequestVote, 2), quorum(3))
		assert.Empty(t, out)
	})

	t.Run("leader ignores same term", func(t *testing.T) {
		n := becomeLeader(candidateAt(t, 1, 2))
		next, out := Deliver(n, msg(3, 1, types.MsgRequestVote, 2), quorum(3))
		assert.Empty(t, out)
		assert.Equal(t, types.RoleLeader, next.Role)
	})

	t.Run("higher term clears previous vote", func(t *testing.T) {
		n := NewNode(1, 40, ElectionThreshold)
		n, _ = Deliver(n, msg(2, 1, types.MsgRequestVote, 1), quorum(3))
		next, out := Deliver(n, msg(3, 1, types.MsgRequestVote, 2), quorum(3))
		require.Len(t, out, 1)
		assert.Equal(t, types.NodeID(3), next.VotedFor)
		assert.Equal(t, uint64(2), next.Term)
	})
}

func TestDeliver_Heartbeat(t *testing.T) {
	n := candidateAt(t, 1, 2)

	next, out := Deliver(n, msg(4, 1, types.MsgHeartbeat, 2), quorum(3))
	assert.Empty(t, out)
	assert.Equal(t, types.RoleFollower, next.Role)
	assert.Equal(t, types.NodeID(4), next.LeaderID)
	assert.Equal(t, 0.0, next.ElectionTimer)
	assert.Empty(t, next.Votes)

	stale := NewNode(1, 70, ElectionThreshold)
	stale.Term = 3
	next, _ = Deliver(stale, msg(4, 1, types.MsgHeartbeat, 2), quorum(3))
	assert.Equal(t, types.NoNode, next.LeaderID)
	assert.Equal(t, 70.0, next.ElectionTimer)
}

func TestDeliver_DeadNodeDropsEverything(t *testing.T) {
	n := Kill(NewNode(1, 10, ElectionThreshold))

	for _, typ := range []types.MessageType{types.MsgHeartbeat, types.MsgVoteGranted, types.MsgRequestVote} {
		next, out := Deliver(n, msg(0, 1, typ, 9), quorum(3))
		assert.Empty(t, out)
		assert.Equal(t, types.RoleDead, next.Role)
		assert.Equal(t, uint64(0), next.Term)
	}
}

func TestKillRevive_PreservesTerm(t *testing.T) {
	n := becomeLeader(candidateAt(t, 3, 4))

	dead := Kill(n)
	assert.Equal(t, types.RoleDead, dead.Role)
	assert.Equal(t, uint64(4), dead.Term)

	dead.ElectionTimer = 55
	alive := Revive(dead, 180)
	assert.Equal(t, types.RoleFollower, alive.Role)
	assert.Equal(t, 0.0, alive.ElectionTimer)
	assert.Equal(t, 180.0, alive.ElectionTimeout)
	assert.Equal(t, uint64(4), alive.Term)
	assert.Empty(t, alive.Votes)

	// already alive: nothing happens
	f := NewNode(0, 33, ElectionThreshold)
	assert.Equal(t, f, Revive(f, 180))
}

func TestStatus_SortsVoters(t *testing.T) {
	n := candidateAt(t, 4, 1)
	n, _ = Deliver(n, msg(2, 4, types.MsgVoteGranted, 1), quorum(5))
	n, _ = Deliver(n, msg(0, 4, types.MsgVoteGranted, 1), quorum(5))

	st := n.Status()
	assert.Equal(t, 3, st.Votes)
	assert.Equal(t, []types.NodeID{0, 2, 4}, st.VotesFrom)
	assert.Equal(t, types.RoleCandidate, st.Role)
}

func TestElectionTimeoutRedrawnOnEveryReset(t *testing.T) {
	const fresh = 275.0

	t.Run("election start", func(t *testing.T) {
		env := envFor(1, 2)
		env.Timeout = fresh
		next, _ := Tick(NewNode(0, 99.9, 100), env)
		require.Equal(t, types.RoleCandidate, next.Role)
		assert.Equal(t, fresh, next.ElectionTimeout)
	})

	withTimeout := quorum(3)
	withTimeout.Timeout = fresh

	t.Run("vote granted", func(t *testing.T) {
		next, out := Deliver(NewNode(1, 40, 160), msg(2, 1, types.MsgRequestVote, 1), withTimeout)
		require.Len(t, out, 1)
		assert.Equal(t, fresh, next.ElectionTimeout)
	})

	t.Run("vote refused", func(t *testing.T) {
		n := NewNode(1, 40, 160)
		n.Term = 1
		n.VotedFor = 3
		next, out := Deliver(n, msg(2, 1, types.MsgRequestVote, 1), withTimeout)
		assert.Empty(t, out)
		assert.Equal(t, 160.0, next.ElectionTimeout)
		assert.Equal(t, 40.0, next.ElectionTimer)
	})

	t.Run("heartbeat", func(t *testing.T) {
		next, _ := Deliver(NewNode(1, 40, 160), msg(2, 1, types.MsgHeartbeat, 0), withTimeout)
		assert.Equal(t, fresh, next.ElectionTimeout)
	})

	t.Run("higher term", func(t *testing.T) {
		n := becomeLeader(candidateAt(t, 1, 2))
		next, _ := Deliver(n, msg(3, 1, types.MsgVoteGranted, 5), withTimeout)
		assert.Equal(t, types.RoleFollower, next.Role)
		assert.Equal(t, fresh, next.ElectionTimeout)
	})
}

func TestTimingConfig(t *testing.T) {
	def := DefaultTimingConfig()
	require.NoError(t, def.Validate())
	assert.Equal(t, def.ElectionTimeoutMin, def.ElectionTimeout(0))
	assert.InDelta(t, 225, def.ElectionTimeout(0.5), 1e-9)
	assert.Less(t, def.ElectionTimeout(0.999), def.ElectionTimeoutMax)

	bad := []TimingConfig{
		{ElectionTimeoutMin: 0, ElectionTimeoutMax: 300, HeartbeatRate: 5},
		{ElectionTimeoutMin: 200, ElectionTimeoutMax: 100, HeartbeatRate: 5},
		{ElectionTimeoutMin: 150, ElectionTimeoutMax: 300, HeartbeatRate: 0},
		{ElectionTimeoutMin: math.NaN(), ElectionTimeoutMax: 300, HeartbeatRate: 5},
		{ElectionTimeoutMin: 150, ElectionTimeoutMax: 300, HeartbeatRate: math.NaN()},
	}
	for _, c := range bad {
		assert.ErrorIs(t, c.Validate(), ErrInvalidTiming, "%+v", c)
	}
}
