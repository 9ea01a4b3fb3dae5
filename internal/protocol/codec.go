package protocol

import (
	"encoding/json"
	"fmt"
)

// Codec encodes and decodes the JSON control envelope. The wire contract
// (spec §6) is strict JSON for every text frame — there is no msgpack
// fallback here; msgpack stays in the dependency set for the master-link
// channel (internal/masterlink), which has no such constraint.
type Codec struct{}

// NewCodec creates a new codec.
func NewCodec() *Codec {
	return &Codec{}
}

// DecodeText parses a text frame into an Envelope. Any malformed JSON or
// a top level that isn't an object is reported as an error; callers
// translate that into an InvalidRequest text frame rather than closing
// the connection.
func (c *Codec) DecodeText(raw []byte) (*Envelope, error) {
	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if _, ok := probe.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("top-level JSON value must be an object")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("missing required field: type")
	}
	if env.Data == nil {
		env.Data = map[string]interface{}{}
	}
	return &env, nil
}

// EncodeText serializes an Envelope to its wire form.
func (c *Codec) EncodeText(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// EncodeError builds a text error frame reporting err back to the robot
// on the same WebSocket (§4.1 "Error reporting back to robot").
func (c *Codec) EncodeError(err error) ([]byte, error) {
	env := NewEnvelope(TypeError, "", "", map[string]interface{}{
		"message": err.Error(),
	})
	return c.EncodeText(env)
}
