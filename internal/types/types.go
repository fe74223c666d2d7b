package types

import "fmt"

// NodeID identifies a node in the simulated cluster. IDs are 0..N-1.
type NodeID int

// NoNode marks an unset node reference (no vote cast, no known leader).
const NoNode NodeID = -1

// Role is the Raft role a node currently holds.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
	RoleDead
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	case RoleDead:
		return "dead"
	default:
		return "unknown"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	for _, c := range []Role{RoleFollower, RoleCandidate, RoleLeader, RoleDead} {
		if c.String() == string(b) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", b)
}

// MessageType identifies the kind of simulated message.
type MessageType int

const (
	MsgRequestVote MessageType = iota
	MsgVoteGranted
	MsgHeartbeat
)

func (m MessageType) String() string {
	switch m {
	case MsgRequestVote:
		return "request_vote"
	case MsgVoteGranted:
		return "vote_granted"
	case MsgHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

func (m MessageType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MessageType) UnmarshalText(b []byte) error {
	for _, c := range []MessageType{MsgRequestVote, MsgVoteGranted, MsgHeartbeat} {
		if c.String() == string(b) {
			*m = c
			return nil
		}
	}
	return fmt.Errorf("unknown message type %q", b)
}

// Message is a simulated message travelling between two nodes.
type Message struct {
	ID       uint64
	From     NodeID
	To       NodeID
	Type     MessageType
	Term     uint64
	Progress float64
}

// LeaderHint tells clients which node currently leads.
type LeaderHint struct {
	LeaderID NodeID `json:"leader_id"`
	Term     uint64 `json:"term"`
}

// NodeStatus is a read-only view of a node for rendering.
type NodeStatus struct {
	ID              NodeID   `json:"id"`
	Role            Role     `json:"role"`
	Term            uint64   `json:"term"`
	VotedFor        NodeID   `json:"voted_for"`
	ElectionTimer   float64  `json:"election_timer"`
	ElectionTimeout float64  `json:"election_timeout"`
	HeartbeatTimer  float64  `json:"heartbeat_timer"`
	Votes           int      `json:"votes"`
	VotesFrom       []NodeID `json:"votes_from,omitempty"`
	LeaderID        NodeID   `json:"leader_id"`
}

// MessageStatus is a read-only view of an in-flight message.
type MessageStatus struct {
	ID       uint64      `json:"id"`
	From     NodeID      `json:"from"`
	To       NodeID      `json:"to"`
	Type     MessageType `json:"type"`
	Term     uint64      `json:"term"`
	Progress float64     `json:"progress"`
}

// ClusterSnapshot holds everything a renderer needs for one frame.
type ClusterSnapshot struct {
	Tick     uint64          `json:"tick"`
	Paused   bool            `json:"paused"`
	Speed    float64         `json:"speed"`
	Majority int             `json:"majority"`
	Leader   *LeaderHint     `json:"leader,omitempty"`
	Nodes    []NodeStatus    `json:"nodes"`
	Messages []MessageStatus `json:"messages"`
}

// EventKind identifies what happened in a history event.
type EventKind int

const (
	EventElectionStarted EventKind = iota
	EventLeaderElected
	EventSteppedDown
	EventNodeKilled
	EventNodeRevived
	EventClientRequest
	EventSpeedChanged
	EventPaused
	EventResumed
	EventReset
)

func (e EventKind) String() string {
	switch e {
	case EventElectionStarted:
		return "election_started"
	case EventLeaderElected:
		return "leader_elected"
	case EventSteppedDown:
		return "stepped_down"
	case EventNodeKilled:
		return "node_killed"
	case EventNodeRevived:
		return "node_revived"
	case EventClientRequest:
		return "client_request"
	case EventSpeedChanged:
		return "speed_changed"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

func (e EventKind) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *EventKind) UnmarshalText(b []byte) error {
	for c := EventElectionStarted; c <= EventReset; c++ {
		if c.String() == string(b) {
			*e = c
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", b)
}

// Event is one entry in the cluster history.
type Event struct {
	Index  uint64    `json:"index"`
	Tick   uint64    `json:"tick"`
	Kind   EventKind `json:"kind"`
	Node   NodeID    `json:"node"`
	Term   uint64    `json:"term"`
	Detail string    `json:"detail,omitempty"`
}

// CommandResult is the HTTP reply to a control command.
type CommandResult struct {
	Ok bool `json:"ok"`
	// Applied is false when the command referenced an unknown node.
	Applied bool `json:"applied"`
}

// ClientRequestResult reports where a client request was routed.
type ClientRequestResult struct {
	Ok       bool   `json:"ok"`
	LeaderID NodeID `json:"leader_id"`
}

// ErrorResult is the HTTP error body.
type ErrorResult struct {
	Ok      bool   `json:"ok"`
	ErrCode string `json:"err_code,omitempty"`
	ErrMsg  string `json:"err_msg,omitempty"`
}

// Error codes carried in ErrorResult.ErrCode.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNoLeader     = "no_leader_elected"
	ErrCodeInvalidSpeed = "invalid_speed"
	ErrCodeInternal     = "internal"
)
