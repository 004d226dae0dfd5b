package election

import "sync/atomic"

// StateCounter is the external, process-visible election-state counter: a
// single atomic integer updated with an ordered store on every state
// change, so a concurrent reader observes at most one transition per tick
// and never a torn value.
type StateCounter struct {
	v atomic.Int32
}

// Store publishes a new state with a release-ordered store.
func (c *StateCounter) Store(s State) {
	c.v.Store(int32(s))
}

// Load reads the current published state with an acquire-ordered load.
func (c *StateCounter) Load() State {
	return State(c.v.Load())
}

// TypeID is the external type id the host registers this counter under.
const TypeID = 207
