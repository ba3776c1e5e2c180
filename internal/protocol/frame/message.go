package frame

import (
	"encoding/json"
	"fmt"
)

// Message is the JSON envelope carried by FRAME payloads. Replies echo the
// request nonce; event notifications carry evt and a null nonce.
type Message struct {
	Cmd   string          `json:"cmd,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
	Evt   string          `json:"evt,omitempty"`
	Nonce string          `json:"nonce,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handshake is the HANDSHAKE opcode payload.
type Handshake struct {
	Version  int    `json:"v"`
	ClientID string `json:"client_id"`
}

// Message decodes the envelope of f.
func (f Frame) Message() (Message, error) {
	var m Message
	if len(f.Payload) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %s envelope: %v", ErrMalformedFrame, f.Opcode, err)
	}
	return m, nil
}

// HasData reports whether m carries a non-null data object.
func (m Message) HasData() bool {
	return len(m.Data) > 0 && string(m.Data) != "null"
}

// DecodeData unmarshals m.Data into out.
func (m Message) DecodeData(out any) error {
	if !m.HasData() {
		return fmt.Errorf("frame: %s reply has no data", m.Cmd)
	}
	return json.Unmarshal(m.Data, out)
}
