package node

import (
	"time"

	"github.com/meshcommons/loralink/internal/config"
	"github.com/meshcommons/loralink/internal/gateway"
	"github.com/meshcommons/loralink/internal/message"
)

// The methods below implement gateway.Controller. They run on HTTP
// goroutines, so they only touch atomic snapshots, the guarded config, and
// the send queue — never the session directly.

// Status reports the node health snapshot.
func (nd *Node) Status() gateway.Status {
	stats := nd.session.Stats()
	return gateway.Status{
		Node:         nd.id,
		Peer:         nd.peer,
		Power:        nd.power.State().String(),
		Pending:      stats.Pending,
		Sent:         stats.Sent,
		Received:     stats.Received,
		Acked:        stats.Acked,
		Retries:      stats.Retries,
		Failures:     stats.Failures,
		Duplicates:   stats.Duplicates,
		BatteryVolts: nd.battery(),
		UptimeSec:    int64(time.Since(nd.started).Seconds()),
	}
}

// EnqueueData queues a DATA payload for the next control loop iteration.
func (nd *Node) EnqueueData(content map[string]any) error {
	select {
	case nd.sendq <- message.Payload(content):
		return nil
	default:
		return ErrQueueFull
	}
}

// Config returns a copy of the current configuration.
func (nd *Node) Config() config.Config {
	nd.cfgMu.Lock()
	defer nd.cfgMu.Unlock()
	return *nd.cfg
}

// SetRadioParameter validates and applies one modem parameter at runtime.
// The change reaches the driver only after the config accepts it.
func (nd *Node) SetRadioParameter(name string, value float64) error {
	nd.cfgMu.Lock()
	defer nd.cfgMu.Unlock()
	if err := nd.cfg.SetRadioParameter(name, value); err != nil {
		return err
	}
	return nd.power.SetParameter(name, value)
}
