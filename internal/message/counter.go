package message

import (
	"fmt"
	"sync/atomic"
)

// Counter issues message IDs for one node. Sequence numbers are strictly
// increasing for the lifetime of the process; a restart resets the sequence.
// That reset is an accepted limitation of the design — the dedupe window on
// the receiving side is the only defence against the resulting reuse.
type Counter struct {
	node string
	seq  atomic.Uint64
}

// NewCounter returns a Counter owned by the node with the given identity.
func NewCounter(node string) *Counter {
	return &Counter{node: node}
}

// Next returns a fresh ID of the form "<node>_<seq>".
func (c *Counter) Next() ID {
	return ID(fmt.Sprintf("%s_%d", c.node, c.seq.Add(1)))
}

// Node returns the identity the counter stamps into every ID.
func (c *Counter) Node() string { return c.node }
