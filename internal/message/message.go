// Package message defines the wire envelope exchanged between link peers
// and the codec that moves it on and off the radio. The envelope is a
// structured JSON text record; content is opaque to this layer.
package message

import "errors"

// Kind classifies a message on the wire. The set is closed: unknown kinds
// received from a peer are rejected at decode time, never added dynamically.
type Kind string

const (
	KindData Kind = "DATA"
	KindPing Kind = "PING"
	KindPong Kind = "PONG"
	KindAck  Kind = "ACK"
)

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindData, KindPing, KindPong, KindAck:
		return true
	}
	return false
}

// WantsAck reports whether a message of this kind expects an acknowledgment.
// DATA is confirmed by ACK, PING by PONG. ACK and PONG are replies and are
// never themselves acknowledged or retried.
func (k Kind) WantsAck() bool {
	return k == KindData || k == KindPing
}

func (k Kind) String() string { return string(k) }

// ID identifies a message. It is built as "<src>_<seq>" and is unique per
// source node for the lifetime of that node's counter.
type ID string

// Payload is free-form key/value content carried by DATA messages.
// The protocol layer never validates its shape beyond successful decode.
type Payload map[string]any

// Envelope is the structured wrapper carrying one message across the link.
type Envelope struct {
	Kind    Kind    `json:"type"`
	Src     string  `json:"src"`
	Dst     string  `json:"dst"`
	ID      ID      `json:"id"`
	Content Payload `json:"content,omitempty"`
}

var (
	// ErrMalformed marks structurally invalid inbound frames: not JSON,
	// not an object, or missing one of type/src/dst/id.
	ErrMalformed = errors.New("message: malformed envelope")

	// ErrUnknownKind marks a frame whose type lies outside the closed set.
	ErrUnknownKind = errors.New("message: unknown message kind")

	// ErrEncoding marks content whose values cannot be represented on the
	// wire (channels, funcs, cyclic structures and the like).
	ErrEncoding = errors.New("message: content not encodable")
)
