// Package power owns the radio power state machine. The controller is the
// single gatekeeper: every transmit, receive and power transition goes
// through it, and it refuses operations that are illegal in the current
// state instead of silently ignoring them.
package power

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/meshcommons/loralink/internal/radio"
)

// State is the process-wide radio power state.
type State int32

const (
	Active State = iota
	Standby
	Sleeping
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Standby:
		return "standby"
	case Sleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned for power-transition misuse, e.g. Wake
// while already active. Callers detect protocol-usage bugs through it.
var ErrInvalidTransition = fmt.Errorf("power: invalid state transition")

// Controller mediates power transitions and gates radio access. Transitions
// are strictly sequential: Active ↔ Standby ↔ Sleeping. Transmit and
// Receive are only valid while Active.
//
// Transitions are driven from the single control loop; the state field is
// atomic only so diagnostics handlers on other goroutines can read it.
type Controller struct {
	adapter radio.Adapter
	log     *zap.Logger
	state   atomic.Int32

	// onWake runs after a deep sleep ends. The node layer uses it to reset
	// the session: no PendingSend or dedupe entry survives deep sleep.
	onWake func()

	// onTransition observes every completed state change.
	onTransition func(from, to State)
}

// NewController returns a Controller in the Active state.
func NewController(adapter radio.Adapter, log *zap.Logger) *Controller {
	c := &Controller{adapter: adapter, log: log}
	c.state.Store(int32(Active))
	return c
}

// OnWake registers the hook invoked after a timed deep sleep ends.
func (c *Controller) OnWake(fn func()) { c.onWake = fn }

// OnTransition registers an observer for completed transitions.
func (c *Controller) OnTransition(fn func(from, to State)) { c.onTransition = fn }

// State returns the current power state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Transmit sends a frame if the radio is active.
func (c *Controller) Transmit(frame []byte) error {
	if c.State() != Active {
		return radio.ErrNotActive
	}
	return c.adapter.Transmit(frame)
}

// Receive waits up to timeout for an inbound frame if the radio is active.
func (c *Controller) Receive(timeout time.Duration) ([]byte, error) {
	if c.State() != Active {
		return nil, radio.ErrNotActive
	}
	return c.adapter.Receive(timeout)
}

// SetParameter forwards a configuration change to the driver.
func (c *Controller) SetParameter(name string, value float64) error {
	return c.adapter.SetParameter(name, value)
}

// StandbyMode moves Active → Standby. The transceiver keeps its modem
// configuration; a later Wake restores Active without re-programming.
func (c *Controller) StandbyMode() error {
	if c.State() != Active {
		return fmt.Errorf("%w: standby from %s", ErrInvalidTransition, c.State())
	}
	if err := c.adapter.Standby(); err != nil {
		return err
	}
	c.transition(Active, Standby)
	return nil
}

// Wake moves Standby → Active. Radio parameters set before standby remain
// in effect; no re-initialisation happens here.
func (c *Controller) Wake() error {
	if c.State() != Standby {
		return fmt.Errorf("%w: wake from %s", ErrInvalidTransition, c.State())
	}
	if err := c.adapter.Wake(); err != nil {
		return err
	}
	c.transition(Standby, Active)
	return nil
}

// Sleep enters a timed deep sleep from Active or Standby. The call blocks
// the control loop until the hardware timer fires, then wakes the radio and
// runs the OnWake hook. All in-memory session state is considered lost
// across this boundary; the hook is where the session layer restarts.
func (c *Controller) Sleep(d time.Duration) error {
	from := c.State()
	if from != Active && from != Standby {
		return fmt.Errorf("%w: sleep from %s", ErrInvalidTransition, from)
	}
	c.transition(from, Sleeping)

	if err := c.adapter.Sleep(d); err != nil {
		// The radio refused to sleep; restore the previous state.
		c.transition(Sleeping, from)
		return err
	}

	if err := c.adapter.Wake(); err != nil {
		return err
	}
	c.transition(Sleeping, Active)
	if c.onWake != nil {
		c.onWake()
	}
	return nil
}

func (c *Controller) transition(from, to State) {
	c.state.Store(int32(to))
	c.log.Info("power transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if c.onTransition != nil {
		c.onTransition(from, to)
	}
}
