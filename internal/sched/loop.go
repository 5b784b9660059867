// Package sched drives the node's periodic behaviours from one control
// loop: the send interval, the retry sweep, and the statistics tick, each
// with its own next-fire deadline. Nothing in the loop runs in parallel;
// every task completes before the next begins, which is what lets the link
// session go lock-free.
package sched

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// idlePause bounds how fast the loop spins when no poll function is set.
const idlePause = 10 * time.Millisecond

// Task is a periodic behaviour. The loop passes the current time so the
// task never reads the wall clock itself.
type Task func(now time.Time)

// trigger tracks one periodic deadline.
type trigger struct {
	name     string
	interval time.Duration
	next     time.Time
	fn       Task
}

func (tr *trigger) due(now time.Time) bool {
	return tr.interval > 0 && !tr.next.After(now)
}

// Loop is the single-threaded scheduler.
type Loop struct {
	clock    Clock
	log      *zap.Logger
	triggers []*trigger

	// poll yields to the radio between trigger sweeps, typically blocking
	// in a bounded-timeout receive. It paces the loop.
	poll Task
}

// NewLoop builds a loop on the given clock.
func NewLoop(clock Clock, log *zap.Logger) *Loop {
	return &Loop{clock: clock, log: log}
}

// Add registers a periodic task. An interval of zero or less disables the
// task (it is kept but never fires). The first firing happens one full
// interval after Run starts.
func (l *Loop) Add(name string, interval time.Duration, fn Task) {
	l.triggers = append(l.triggers, &trigger{name: name, interval: interval, fn: fn})
}

// SetPoll registers the per-iteration radio poll.
func (l *Loop) SetPoll(fn Task) { l.poll = fn }

// Run executes the control loop until ctx is done. Every iteration fires
// the triggers whose deadlines have passed, advances them, then yields to
// the poll function.
func (l *Loop) Run(ctx context.Context) error {
	start := l.clock.Now()
	for _, tr := range l.triggers {
		tr.next = start.Add(tr.interval)
	}
	l.log.Info("control loop started", zap.Int("tasks", len(l.triggers)))

	for {
		select {
		case <-ctx.Done():
			l.log.Info("control loop stopped")
			return ctx.Err()
		default:
		}
		l.Tick()
	}
}

// Tick performs one loop iteration: fire due triggers, then poll. Exposed
// so tests can step the loop without a goroutine.
func (l *Loop) Tick() {
	now := l.clock.Now()
	for _, tr := range l.triggers {
		if !tr.due(now) {
			continue
		}
		tr.next = now.Add(tr.interval)
		tr.fn(now)
	}

	if l.poll != nil {
		l.poll(l.clock.Now())
		return
	}
	time.Sleep(idlePause)
}
