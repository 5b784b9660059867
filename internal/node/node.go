// Package node assembles one running node: radio, power controller, link
// session, scheduler, persistence, and the diagnostics surface. The link
// session is only ever touched from the control loop; the HTTP side talks
// to it through a send queue and atomic snapshots.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshcommons/loralink/internal/config"
	"github.com/meshcommons/loralink/internal/gateway"
	"github.com/meshcommons/loralink/internal/link"
	"github.com/meshcommons/loralink/internal/message"
	"github.com/meshcommons/loralink/internal/power"
	"github.com/meshcommons/loralink/internal/radio"
	"github.com/meshcommons/loralink/internal/sched"
	"github.com/meshcommons/loralink/internal/store"
	"github.com/meshcommons/loralink/internal/telemetry"
)

// sendQueueDepth bounds how many API-submitted messages can wait for the
// next loop iteration.
const sendQueueDepth = 16

// ErrQueueFull is returned when the send queue cannot take another message.
var ErrQueueFull = errors.New("node: send queue full")

// Sampler produces the payload for the periodic DATA message.
type Sampler func() message.Payload

// Node is one running protocol endpoint.
type Node struct {
	id   string
	peer string

	// cfgMu guards cfg: the gateway mutates radio parameters from HTTP
	// goroutines while the loop reads timing values at startup.
	cfgMu sync.Mutex
	cfg   *config.Config

	log     *zap.Logger
	clock   sched.Clock
	adapter radio.Adapter
	power   *power.Controller
	counter *message.Counter
	session *link.Session
	loop    *sched.Loop
	db      *store.DB
	bus     *gateway.EventBus

	sampler     Sampler
	battery     func() float64
	sendq       chan message.Payload
	started     time.Time
	recvTimeout time.Duration
}

// Option adjusts a Node during construction.
type Option func(*Node)

// WithClock replaces the loop clock (tests drive a fake one).
func WithClock(c sched.Clock) Option { return func(nd *Node) { nd.clock = c } }

// WithSampler replaces the periodic payload sampler.
func WithSampler(s Sampler) Option { return func(nd *Node) { nd.sampler = s } }

// WithStore attaches message/peer persistence.
func WithStore(db *store.DB) Option { return func(nd *Node) { nd.db = db } }

// WithBattery replaces the battery voltage source.
func WithBattery(fn func() float64) Option { return func(nd *Node) { nd.battery = fn } }

// New wires a node around the given radio. The node starts with the radio
// active and nothing scheduled; Run programs the modem and starts the loop.
func New(cfg *config.Config, adapter radio.Adapter, log *zap.Logger, opts ...Option) *Node {
	nd := &Node{
		id:      cfg.Node.ID,
		peer:    cfg.Node.Peer,
		cfg:     cfg,
		log:     log.With(zap.String("node", cfg.Node.ID)),
		clock:   sched.RealClock{},
		adapter: adapter,
		counter: message.NewCounter(cfg.Node.ID),
		bus:     gateway.NewEventBus(),
		sendq:   make(chan message.Payload, sendQueueDepth),
		started: time.Now(),
	}
	volts := cfg.Node.BatteryVolts
	nd.battery = func() float64 { return volts }
	for _, o := range opts {
		o(nd)
	}
	if nd.sampler == nil {
		nd.sampler = nd.defaultSample
	}

	nd.power = power.NewController(adapter, nd.log)
	nd.session = link.NewSession(link.Config{
		RetryTimeout:   cfg.Protocol.RetryTimeout.Std(),
		MaxRetries:     cfg.Protocol.MaxRetries,
		BackoffCeiling: cfg.Protocol.BackoffCeiling.Std(),
		DedupeCapacity: cfg.Protocol.DedupeCapacity,
	}, nd.counter, nd.power, nd.log)
	// Session and loop must share the clock, or retry deadlines would be
	// stamped on a different timeline than the sweep that checks them.
	nd.session.SetNowFunc(nd.clock.Now)
	nd.loop = sched.NewLoop(nd.clock, nd.log)

	nd.session.OnData(nd.handleData)
	nd.session.OnAcked(func(env *message.Envelope) {
		nd.bus.Publish(gateway.Event{
			Type: gateway.EventAck,
			Node: nd.id,
			Data: map[string]any{"id": string(env.ID), "dst": env.Dst},
		})
	})
	nd.session.OnFailure(func(env *message.Envelope) {
		nd.bus.Publish(gateway.Event{
			Type: gateway.EventFailure,
			Node: nd.id,
			Data: map[string]any{"id": string(env.ID), "dst": env.Dst},
		})
	})

	// Deep sleep powers the MCU down; whatever the session was tracking is
	// gone when it comes back.
	nd.power.OnWake(nd.session.Reset)
	nd.power.OnTransition(func(from, to power.State) {
		telemetry.PowerTransitions.WithLabelValues(nd.id, to.String()).Inc()
		nd.bus.Publish(gateway.Event{
			Type: gateway.EventPower,
			Node: nd.id,
			Data: map[string]any{"from": from.String(), "to": to.String()},
		})
	})

	return nd
}

// Bus exposes the event bus for the gateway server.
func (nd *Node) Bus() *gateway.EventBus { return nd.bus }

// Power exposes the power controller for operational tooling.
func (nd *Node) Power() *power.Controller { return nd.power }

// Store returns the attached database, or nil.
func (nd *Node) Store() *store.DB { return nd.db }

// Run programs the radio, announces the node with a PING, and drives the
// control loop until ctx is cancelled.
func (nd *Node) Run(ctx context.Context) error {
	nd.cfgMu.Lock()
	cfg := *nd.cfg
	nd.cfgMu.Unlock()
	nd.recvTimeout = cfg.Protocol.ReceiveTimeout.Std()

	for _, p := range cfg.RadioParameters() {
		if err := nd.power.SetParameter(p.Name, p.Value); err != nil {
			return err
		}
	}
	nd.log.Info("radio configured",
		zap.Float64("frequency_mhz", cfg.Radio.FrequencyMHz),
		zap.Int("spreading_factor", cfg.Radio.SpreadingFactor),
		zap.Int("tx_power_dbm", cfg.Radio.TxPowerDBm),
	)

	if _, err := nd.session.Send(nd.peer, message.KindPing, nil); err != nil {
		return err
	}

	nd.loop.Add("send", cfg.Protocol.SendInterval.Std(), nd.sendSample)
	nd.loop.Add("retry", cfg.Protocol.SweepInterval.Std(), nd.session.Sweep)
	nd.loop.Add("stats", cfg.Protocol.StatsInterval.Std(), nd.publishStats)
	nd.loop.SetPoll(nd.poll)

	return nd.loop.Run(ctx)
}

// Sleep enters a timed deep sleep. Call it from the control loop thread
// (or before Run); it blocks until the wake timer fires.
func (nd *Node) Sleep(d time.Duration) error {
	return nd.power.Sleep(d)
}

// ── loop tasks ────────────────────────────────────────────────────────────

func (nd *Node) sendSample(time.Time) {
	payload := nd.sampler()
	if _, err := nd.session.Send(nd.peer, message.KindData, payload); err != nil {
		nd.log.Warn("periodic send", zap.Error(err))
	}
}

func (nd *Node) publishStats(time.Time) {
	stats := nd.session.Stats()
	volts := nd.battery()
	telemetry.BatteryVolts.WithLabelValues(nd.id).Set(volts)

	nd.log.Info("link statistics",
		zap.Uint64("sent", stats.Sent),
		zap.Uint64("received", stats.Received),
		zap.Uint64("acked", stats.Acked),
		zap.Uint64("retries", stats.Retries),
		zap.Uint64("failures", stats.Failures),
		zap.Int("pending", stats.Pending),
		zap.Float64("battery_volts", volts),
	)
	nd.bus.Publish(gateway.Event{
		Type: gateway.EventStats,
		Node: nd.id,
		Data: stats,
	})
}

// poll runs every loop iteration: drain API-submitted sends, then block
// briefly on the radio. The receive timeout paces the loop.
func (nd *Node) poll(time.Time) {
	for {
		select {
		case payload := <-nd.sendq:
			if _, err := nd.session.Send(nd.peer, message.KindData, payload); err != nil {
				nd.log.Warn("queued send", zap.Error(err))
			}
			continue
		default:
		}
		break
	}

	raw, err := nd.power.Receive(nd.recvTimeout)
	if err != nil {
		if !errors.Is(err, radio.ErrTimeout) && !errors.Is(err, radio.ErrNotActive) {
			nd.log.Warn("receive", zap.Error(err))
		}
		return
	}
	nd.session.HandleInbound(raw) //nolint:errcheck // frame already disposed
}

// handleData runs once per delivered DATA message.
func (nd *Node) handleData(env *message.Envelope) {
	nd.log.Info("data received",
		zap.String("id", string(env.ID)),
		zap.String("src", env.Src),
	)

	if nd.db != nil {
		rec := &store.Message{
			LinkID:     string(env.ID),
			Kind:       env.Kind.String(),
			Src:        env.Src,
			Dst:        env.Dst,
			Content:    env.Content,
			ReceivedAt: time.Now().UTC(),
		}
		if meter, ok := nd.adapter.(radio.SignalMeter); ok {
			rec.RSSI = meter.RSSI()
			rec.SNR = meter.SNR()
		}
		if _, err := nd.db.InsertMessage(rec); err != nil {
			nd.log.Warn("store message", zap.Error(err))
		}

		peer := &store.Peer{NodeID: env.Src, LastSeen: time.Now().UTC()}
		if v, ok := env.Content["battery"].(float64); ok {
			peer.BatteryVolts = v
		}
		if err := nd.db.UpsertPeer(peer); err != nil {
			nd.log.Warn("store peer", zap.Error(err))
		}
	}

	nd.bus.Publish(gateway.Event{
		Type: gateway.EventMessage,
		Node: nd.id,
		Data: env,
	})
}

// defaultSample reports battery and uptime, standing in for real sensors.
func (nd *Node) defaultSample() message.Payload {
	return message.Payload{
		"battery": nd.battery(),
		"uptime":  int64(time.Since(nd.started).Seconds()),
	}
}
