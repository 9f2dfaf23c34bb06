package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the on-wire form of every JSON-fallback message: a type tag
// followed by the type-specific payload. Binary messages (frame,
// player-input) never go through this path — see binary_frame.go.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeJSON wraps payload in an Envelope tagged t.
func EncodeJSON(t Type, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// DecodeJSON reads the envelope's type tag and unmarshals its payload into
// out, which must point to the struct matching that tag.
func DecodeJSON(data []byte, out interface{}) (Type, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("protocol: malformed envelope: %w", err)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return env.Type, fmt.Errorf("protocol: malformed payload for type %d: %w", env.Type, err)
	}
	return env.Type, nil
}

// IsBinary reports whether t is carried as a raw binary frame rather than a
// JSON envelope.
func IsBinary(t Type) bool {
	return t == TypeFrame || t == TypePlayerInput
}

// PeekType reads the leading type tag without fully decoding the message,
// used by internal/gateway to dispatch before choosing a decoder.
func PeekType(data []byte) (Type, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("protocol: empty message")
	}
	if data[0] == '{' {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return 0, err
		}
		return env.Type, nil
	}
	return Type(data[0]), nil
}
