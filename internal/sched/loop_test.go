package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTriggerFiresOnSchedule(t *testing.T) {
	clock := NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	loop := NewLoop(clock, zap.NewNop())

	fired := 0
	loop.Add("send", 10*time.Second, func(time.Time) { fired++ })
	loop.SetPoll(func(time.Time) {})

	// Initialise deadlines the way Run does, then step manually.
	start := clock.Now()
	for _, tr := range loop.triggers {
		tr.next = start.Add(tr.interval)
	}

	loop.Tick()
	assert.Equal(t, 0, fired, "must not fire before the interval elapses")

	clock.Advance(10 * time.Second)
	loop.Tick()
	assert.Equal(t, 1, fired)

	// Same instant again: the deadline advanced, so no double fire.
	loop.Tick()
	assert.Equal(t, 1, fired)

	clock.Advance(25 * time.Second)
	loop.Tick()
	assert.Equal(t, 2, fired, "one firing per tick even after a long gap")
}

func TestIndependentTriggerDeadlines(t *testing.T) {
	clock := NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	loop := NewLoop(clock, zap.NewNop())

	var order []string
	loop.Add("send", 10*time.Second, func(time.Time) { order = append(order, "send") })
	loop.Add("retry", 3*time.Second, func(time.Time) { order = append(order, "retry") })
	loop.Add("stats", 0, func(time.Time) { order = append(order, "stats") }) // disabled
	loop.SetPoll(func(time.Time) {})

	start := clock.Now()
	for _, tr := range loop.triggers {
		tr.next = start.Add(tr.interval)
	}

	for i := 0; i < 4; i++ {
		clock.Advance(3 * time.Second)
		loop.Tick()
	}

	// retry fires at 3,6,9,12s; send at 10s, observed at the 12s tick where
	// it runs first in registration order. The disabled stats trigger never
	// fires.
	assert.Equal(t, []string{"retry", "retry", "retry", "send", "retry"}, order)
}

func TestPollRunsEveryIteration(t *testing.T) {
	clock := NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	loop := NewLoop(clock, zap.NewNop())

	polls := 0
	loop.SetPoll(func(time.Time) { polls++ })

	for i := 0; i < 5; i++ {
		loop.Tick()
	}
	assert.Equal(t, 5, polls)
}
