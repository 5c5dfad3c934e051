package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the payload carried by an envelope, for example
// "decision.request".
type MessageType string

// Envelope is the unit of transport. Payload is JSON whose shape depends on
// Type.
type Envelope struct {
	ID            string          `json:"id"`
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into a fresh envelope. A nil payload leaves
// Payload empty.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("broker: marshal %s payload: %w", t, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Reply builds a response to e, correlated by e's id.
func (e Envelope) Reply(t MessageType, payload any) (Envelope, error) {
	reply, err := NewEnvelope(t, payload)
	if err != nil {
		return Envelope{}, err
	}
	reply.CorrelationID = e.ID
	return reply, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("broker: %s envelope %s has no payload", e.Type, e.ID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("broker: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Validate checks the fields every envelope must carry.
func (e Envelope) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("broker: envelope id is required")
	case e.Type == "":
		return fmt.Errorf("broker: envelope %s has no type", e.ID)
	}
	return nil
}

func encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("broker: marshal envelope: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("broker: unmarshal envelope: %w", err)
	}
	return e, e.Validate()
}
