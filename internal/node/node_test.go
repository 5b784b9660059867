package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meshcommons/loralink/internal/config"
	"github.com/meshcommons/loralink/internal/gateway"
	"github.com/meshcommons/loralink/internal/message"
	"github.com/meshcommons/loralink/internal/radio"
	"github.com/meshcommons/loralink/internal/sched"
	"github.com/meshcommons/loralink/internal/store"
)

// testConfig uses short intervals so the control loops converge quickly.
func testConfig(id, peer string) *config.Config {
	cfg := config.Default()
	cfg.Node.ID = id
	cfg.Node.Peer = peer
	cfg.Protocol.SendInterval = config.Duration(50 * time.Millisecond)
	cfg.Protocol.RetryTimeout = config.Duration(40 * time.Millisecond)
	cfg.Protocol.SweepInterval = config.Duration(10 * time.Millisecond)
	cfg.Protocol.StatsInterval = config.Duration(time.Hour)
	cfg.Protocol.ReceiveTimeout = config.Duration(5 * time.Millisecond)
	return cfg
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNodesExchangeDataOverLink(t *testing.T) {
	radioA, radioB := radio.NewPair("NODE1", "NODE2")
	a := New(testConfig("NODE1", "NODE2"), radioA, zap.NewNop())
	b := New(testConfig("NODE2", "NODE1"), radioB, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx) //nolint:errcheck
	go b.Run(ctx) //nolint:errcheck

	// Both nodes send periodic DATA and ack each other's traffic.
	waitFor(t, func() bool { return a.Status().Acked > 0 }, "node A never got an ack")
	waitFor(t, func() bool { return b.Status().Acked > 0 }, "node B never got an ack")
	waitFor(t, func() bool { return a.Status().Received > 0 }, "node A never received")

	st := a.Status()
	assert.Equal(t, "NODE1", st.Node)
	assert.Equal(t, "NODE2", st.Peer)
	assert.Equal(t, "active", st.Power)
}

func TestEnqueueDataReachesPeer(t *testing.T) {
	radioA, radioB := radio.NewPair("NODE1", "NODE2")

	cfgA := testConfig("NODE1", "NODE2")
	cfgA.Protocol.SendInterval = config.Duration(time.Hour) // API traffic only
	a := New(cfgA, radioA, zap.NewNop())

	cfgB := testConfig("NODE2", "NODE1")
	cfgB.Protocol.SendInterval = config.Duration(time.Hour)
	b := New(cfgB, radioB, zap.NewNop())

	var delivered []*message.Envelope
	done := make(chan struct{})
	ch, unsub := b.Bus().Subscribe()
	defer unsub()
	go func() {
		for evt := range ch {
			if evt.Type == gateway.EventMessage {
				if env, ok := evt.Data.(*message.Envelope); ok {
					delivered = append(delivered, env)
					close(done)
					return
				}
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx) //nolint:errcheck
	go b.Run(ctx) //nolint:errcheck

	require.NoError(t, a.EnqueueData(map[string]any{"text": "hello"}))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("peer never delivered the queued message")
	}
	require.Len(t, delivered, 1)
	assert.Equal(t, "NODE1", delivered[0].Src)
	assert.Equal(t, "hello", delivered[0].Content["text"])
}

func TestEnqueueDataQueueFull(t *testing.T) {
	a := New(testConfig("NODE1", "NODE2"), radio.NewLoopback("NODE1"), zap.NewNop())

	// The node is not running, so nothing drains the queue.
	for i := 0; i < sendQueueDepth; i++ {
		require.NoError(t, a.EnqueueData(map[string]any{"n": i}))
	}
	assert.ErrorIs(t, a.EnqueueData(map[string]any{"n": -1}), ErrQueueFull)
}

func TestSleepDropsPendingSends(t *testing.T) {
	// Loopback: the peer never answers, so the initial PING stays pending.
	cfg := testConfig("NODE1", "NODE2")
	cfg.Protocol.RetryTimeout = config.Duration(time.Hour) // keep it pending
	a := New(cfg, radio.NewLoopback("NODE1"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx) //nolint:errcheck
	waitFor(t, func() bool { return a.Status().Pending > 0 }, "initial ping never registered")
	cancel()
	time.Sleep(20 * time.Millisecond) // let the loop exit

	require.NoError(t, a.Sleep(time.Millisecond))
	assert.Equal(t, 0, a.Status().Pending, "deep sleep must not preserve pending sends")
	assert.Equal(t, "active", a.Status().Power)
}

func TestRetriesFollowInjectedClock(t *testing.T) {
	// Loopback: the initial PING is never answered, so it must walk the
	// retry path purely on fake time.
	cfg := testConfig("NODE1", "NODE2")
	cfg.Protocol.SendInterval = 0 // periodic sends off, only the PING is in flight
	cfg.Protocol.StatsInterval = 0
	cfg.Protocol.SweepInterval = config.Duration(time.Second)
	cfg.Protocol.RetryTimeout = config.Duration(5 * time.Second)
	cfg.Protocol.MaxRetries = 2

	clock := sched.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	a := New(cfg, radio.NewLoopback("NODE1"), zap.NewNop(), WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx) //nolint:errcheck

	waitFor(t, func() bool { return a.Status().Pending == 1 }, "initial ping never registered")

	// Past the retry deadline: the sweep must retransmit on fake time.
	clock.Advance(10 * time.Second)
	waitFor(t, func() bool { return a.Status().Retries == 1 }, "no retry after advancing the clock")

	// Past the exhaustion point: attempts hit the budget, the send fails.
	clock.Advance(30 * time.Second)
	waitFor(t, func() bool {
		st := a.Status()
		return st.Failures == 1 && st.Pending == 0
	}, "send never failed after exhausting retries on fake time")
}

func TestSetRadioParameterReachesDriver(t *testing.T) {
	adapter := radio.NewLoopback("NODE1")
	a := New(testConfig("NODE1", "NODE2"), adapter, zap.NewNop())

	require.NoError(t, a.SetRadioParameter("spreading_factor", 11))
	v, ok := adapter.Parameter("spreading_factor")
	require.True(t, ok)
	assert.Equal(t, 11.0, v)
	assert.Equal(t, 11, a.Config().Radio.SpreadingFactor)

	// Out-of-range values never reach the driver.
	err := a.SetRadioParameter("tx_power", 25)
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	_, ok = adapter.Parameter("tx_power")
	assert.False(t, ok)
}

func TestReceivedDataIsPersisted(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, store.Migrate(db))

	radioA, radioB := radio.NewPair("NODE1", "NODE2")
	a := New(testConfig("NODE1", "NODE2"), radioA, zap.NewNop(), WithStore(db))

	cfgB := testConfig("NODE2", "NODE1")
	cfgB.Node.BatteryVolts = 3.9
	b := New(cfgB, radioB, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx) //nolint:errcheck
	go b.Run(ctx) //nolint:errcheck

	waitFor(t, func() bool {
		msgs, err := db.ListMessages(10)
		return err == nil && len(msgs) > 0
	}, "no message persisted")

	msgs, err := db.ListMessages(10)
	require.NoError(t, err)
	assert.Equal(t, "NODE2", msgs[0].Src)
	assert.Equal(t, "DATA", msgs[0].Kind)
	assert.Equal(t, -90, msgs[0].RSSI, "signal readings come from the driver")

	peers, err := db.ListPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "NODE2", peers[0].NodeID)
	assert.Equal(t, 3.9, peers[0].BatteryVolts)
}
