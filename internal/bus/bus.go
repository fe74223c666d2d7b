// Package bus simulates the delayed network between cluster nodes. Messages
// travel from progress 0 to 100 and are handed back to the scheduler once
// they arrive.
package bus

import (
	"sort"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/types"
)

const (
	// Arrived is the progress value at which a message is delivered.
	Arrived = 100.0

	// DefaultRate is the progress added per tick at speed 1.
	DefaultRate = 4.0
)

// Bus holds in-flight messages in creation order.
type Bus struct {
	rate     float64
	nextID   uint64
	inFlight []types.Message
}

// New creates an empty bus. A non-positive rate selects DefaultRate.
func New(rate float64) *Bus {
	if !(rate > 0) {
		rate = DefaultRate
	}
	return &Bus{rate: rate, nextID: 1}
}

// Rate returns the progress added per tick at speed 1.
func (b *Bus) Rate() float64 {
	return b.rate
}

// Send enqueues a new message at progress 0 and returns its id.
func (b *Bus) Send(from, to types.NodeID, typ types.MessageType, term uint64) uint64 {
	id := b.nextID
	b.nextID++
	b.inFlight = append(b.inFlight, types.Message{
		ID:   id,
		From: from,
		To:   to,
		Type: typ,
		Term: term,
	})
	return id
}

// Advance moves every in-flight message forward by deltaTicks at the given
// speed.
func (b *Bus) Advance(deltaTicks int, speed float64) {
	step := float64(deltaTicks) * b.rate * speed
	for i := range b.inFlight {
		p := b.inFlight[i].Progress + step
		if p > Arrived {
			p = Arrived
		}
		b.inFlight[i].Progress = p
	}
}

// DrainDelivered removes and returns every message that has arrived, in
// ascending id order.
func (b *Bus) DrainDelivered() []types.Message {
	var delivered []types.Message
	kept := b.inFlight[:0]
	for _, m := range b.inFlight {
		if m.Progress >= Arrived {
			delivered = append(delivered, m)
		} else {
			kept = append(kept, m)
		}
	}
	// Zero the tail so drained messages are not retained by the backing array.
	for i := len(kept); i < len(b.inFlight); i++ {
		b.inFlight[i] = types.Message{}
	}
	b.inFlight = kept

	sort.Slice(delivered, func(i, j int) bool { return delivered[i].ID < delivered[j].ID })
	return delivered
}

// InFlight returns a copy of the in-flight messages.
func (b *Bus) InFlight() []types.Message {
	out := make([]types.Message, len(b.inFlight))
	copy(out, b.inFlight)
	return out
}

// Len returns the number of in-flight messages.
func (b *Bus) Len() int {
	return len(b.inFlight)
}

// Clone returns an independent copy of the bus.
func (b *Bus) Clone() *Bus {
	return &Bus{
		rate:     b.rate,
		nextID:   b.nextID,
		inFlight: b.InFlight(),
	}
}

// Reset drops every in-flight message. Ids keep increasing.
func (b *Bus) Reset() {
	b.inFlight = nil
}
