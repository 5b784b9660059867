package radio

import (
	"fmt"
	"sync"
	"time"
)

// knownParams is the modem parameter surface the memory driver accepts,
// matching the SX127x register map.
var knownParams = map[string]struct{}{
	"frequency":        {},
	"bandwidth":        {},
	"spreading_factor": {},
	"coding_rate":      {},
	"tx_power":         {},
	"preamble_length":  {},
}

// memFrameBuffer bounds how many undelivered frames a memory link holds.
// A real radio has no buffer at all; anything beyond a small queue is lost.
const memFrameBuffer = 64

// Memory is an in-process Adapter used by tests and the simulator. Two
// instances created by NewPair share a bidirectional link: frames
// transmitted on one side become receivable on the other.
//
// The parameter map survives Standby/Wake, mirroring the SX127x behaviour
// of retaining modem configuration across low-power idle.
type Memory struct {
	name string
	out  chan<- []byte
	in   <-chan []byte

	mu       sync.Mutex
	params   map[string]float64
	dropNext int
	failNext int
}

// NewPair returns two linked memory adapters. Frames written to a are
// readable from b and vice versa.
func NewPair(nameA, nameB string) (*Memory, *Memory) {
	ab := make(chan []byte, memFrameBuffer)
	ba := make(chan []byte, memFrameBuffer)
	a := &Memory{name: nameA, out: ab, in: ba, params: make(map[string]float64)}
	b := &Memory{name: nameB, out: ba, in: ab, params: make(map[string]float64)}
	return a, b
}

// NewLoopback returns an adapter whose transmissions go nowhere and that
// never receives. Useful for running a node without a peer.
func NewLoopback(name string) *Memory {
	return &Memory{name: name, out: make(chan []byte, memFrameBuffer), in: make(chan []byte), params: make(map[string]float64)}
}

func (m *Memory) Transmit(frame []byte) error {
	m.mu.Lock()
	if m.failNext > 0 {
		m.failNext--
		m.mu.Unlock()
		return ErrTransmitFailed
	}
	if m.dropNext > 0 {
		m.dropNext--
		m.mu.Unlock()
		return nil // on the air, but the peer never hears it
	}
	m.mu.Unlock()

	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case m.out <- cp:
		return nil
	default:
		return ErrTransmitFailed
	}
}

func (m *Memory) Receive(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		select {
		case frame := <-m.in:
			return frame, nil
		default:
			return nil, ErrTimeout
		}
	}
	select {
	case frame := <-m.in:
		return frame, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

func (m *Memory) SetParameter(name string, value float64) error {
	if _, ok := knownParams[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[name] = value
	return nil
}

// Parameter returns the last value set for name.
func (m *Memory) Parameter(name string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.params[name]
	return v, ok
}

// Standby, Wake and Sleep are power-mode no-ops for the memory link; the
// parameter map is intentionally left untouched so standby/wake cycles
// preserve configuration the way real hardware does.
func (m *Memory) Standby() error { return nil }

func (m *Memory) Wake() error { return nil }

func (m *Memory) Sleep(_ time.Duration) error { return nil }

// RSSI and SNR report plausible fixed readings so the node layer can
// exercise the SignalMeter path.
func (m *Memory) RSSI() int    { return -90 }
func (m *Memory) SNR() float64 { return 7.25 }

// DropNext makes the next n transmitted frames vanish in flight, simulating
// a lossy link (e.g. a lost ACK).
func (m *Memory) DropNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropNext = n
}

// FailNext makes the next n Transmit calls fail with ErrTransmitFailed.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}
