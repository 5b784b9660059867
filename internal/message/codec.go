package message

import (
	"encoding/json"
	"fmt"
)

// Codec encodes and decodes envelopes to and from the JSON wire record:
//
//	{ "type": "DATA"|"PING"|"PONG"|"ACK",
//	  "src": string, "dst": string, "id": string,
//	  "content": object }
//
// Decoding is all-or-nothing; a frame either yields a complete envelope or
// an error, never a partial result. The codec has no state and no side
// effects; the zero value is ready to use.
type Codec struct{}

// Encode serialises env. It fails with ErrUnknownKind for kinds outside the
// closed set and ErrEncoding when content holds values JSON cannot carry.
func (Codec) Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrEncoding)
	}
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(env.Kind))
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// Decode parses a raw frame into an envelope. Structural problems (bad JSON,
// missing required fields) return ErrMalformed; a type outside the closed
// set returns ErrUnknownKind.
func (Codec) Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Kind == "" || env.Src == "" || env.Dst == "" || env.ID == "" {
		return nil, fmt.Errorf("%w: missing type/src/dst/id", ErrMalformed)
	}
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(env.Kind))
	}
	return &env, nil
}
