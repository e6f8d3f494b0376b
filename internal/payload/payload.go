// Package payload is the codec boundary between typed values and the
// transport-ready bytes the retention layer stores and forwards.
//
// The retention subsystem never inspects payload bytes; everything it
// persists or replays goes through the Codec interface, which keeps the
// wire encoding replaceable and testable on its own.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Codec turns a typed value into transport-ready bytes and back.
type Codec interface {
	// Encode serialises a value with an optional explicit timestamp.
	Encode(value any, timestamp *time.Time) ([]byte, error)

	// Decode deserialises bytes produced by Encode.
	Decode(data []byte) (Envelope, error)
}

// Envelope is the decoded form of a payload.
type Envelope struct {
	// Value is the decoded value. Scalars decode to their natural JSON
	// Go types (float64, bool, string).
	Value any `json:"v"`

	// Timestamp is the explicit value timestamp, if one was encoded.
	Timestamp *time.Time `json:"t,omitempty"`
}

// Sentinel errors for codec failures.
var (
	// ErrEncode is returned when a value cannot be serialised.
	ErrEncode = errors.New("payload: encode failed")

	// ErrDecode is returned when bytes cannot be deserialised.
	ErrDecode = errors.New("payload: decode failed")
)

// jsonCodec encodes payloads as a compact JSON envelope: the value
// under "v" and the optional explicit timestamp under "t".
type jsonCodec struct{}

// NewJSONCodec returns the default JSON payload codec.
func NewJSONCodec() Codec {
	return jsonCodec{}
}

// Encode serialises a value with an optional explicit timestamp.
func (jsonCodec) Encode(value any, timestamp *time.Time) ([]byte, error) {
	env := Envelope{Value: value, Timestamp: timestamp}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

// Decode deserialises bytes produced by Encode.
func (jsonCodec) Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return env, nil
}
