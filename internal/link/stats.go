package link

import "sync/atomic"

// Stats is a point-in-time snapshot of the session counters. Snapshots are
// safe to take from diagnostics goroutines while the control loop drives
// the session.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Received   uint64 `json:"received"`
	Acked      uint64 `json:"acked"`
	Retries    uint64 `json:"retries"`
	Failures   uint64 `json:"failures"`
	Duplicates uint64 `json:"duplicates"`
	Pending    int    `json:"pending"`
}

// counters mirror the Prometheus metrics with atomics so the REST status
// endpoint can read them without touching session state.
type counters struct {
	sent       atomic.Uint64
	received   atomic.Uint64
	acked      atomic.Uint64
	retries    atomic.Uint64
	failures   atomic.Uint64
	duplicates atomic.Uint64
	pending    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sent:       c.sent.Load(),
		Received:   c.received.Load(),
		Acked:      c.acked.Load(),
		Retries:    c.retries.Load(),
		Failures:   c.failures.Load(),
		Duplicates: c.duplicates.Load(),
		Pending:    int(c.pending.Load()),
	}
}
