// Package radio defines the boundary to the physical LoRa transceiver.
// The real driver (SPI register programming, IRQ handling, CRC) lives
// outside this module; everything here speaks to it through Adapter.
package radio

import (
	"errors"
	"time"
)

// Adapter is the fixed interface to the transceiver driver.
//
// Receive blocks for at most timeout and returns ErrTimeout when no frame
// arrived. Standby, Wake and Sleep change the hardware power mode only; the
// power package owns the state machine that decides when each call is legal.
// Sleep blocks until the hardware timer fires (or returns immediately for
// drivers without a timed-wake facility).
type Adapter interface {
	Transmit(frame []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	SetParameter(name string, value float64) error
	Standby() error
	Wake() error
	Sleep(d time.Duration) error
}

// SignalMeter is implemented by drivers that report link quality for the
// last received frame. The protocol does not depend on it; the node layer
// attaches the readings to stored messages when available.
type SignalMeter interface {
	RSSI() int
	SNR() float64
}

var (
	// ErrNotActive is returned when transmit or receive is attempted while
	// the radio is in standby or sleep.
	ErrNotActive = errors.New("radio: not active")

	// ErrTransmitFailed is returned when the driver could not get the frame
	// on the air.
	ErrTransmitFailed = errors.New("radio: transmit failed")

	// ErrTimeout is returned by Receive when no frame arrived in time.
	ErrTimeout = errors.New("radio: receive timeout")

	// ErrUnknownParameter is returned by SetParameter for names the driver
	// does not support.
	ErrUnknownParameter = errors.New("radio: unknown parameter")
)
