package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersionV1 is the only wire version this client speaks. Frames
// carrying any other version are dropped on receipt.
const ProtocolVersionV1 = 1

const (
	TypeHealth   = "health"
	TypeSendText = "send_text"
	TypePresence = "presence_update"
	TypeResponse = "response"
	TypeMessage  = "message"
	TypeStatus   = "status"
	TypeQR       = "qr"
	TypeError    = "error"
)

// Envelope is the framed JSON unit exchanged with the bridge. Commands
// from the client carry Token and RequestID; the bridge echoes RequestID
// on the matching response. Payload stays raw until the type is known.
type Envelope struct {
	Version   int             `json:"version"`
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	AccountID string          `json:"accountId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func decodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(env.Type) == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
