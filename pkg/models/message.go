package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageContext carries the pipeline coordinates every message travels with.
// SessionID is always set; DocumentID and ExecutionID are set once the
// pipeline has minted them.
type MessageContext struct {
	SessionID   string    `json:"session_id"`
	DocumentID  string    `json:"document_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Sender      AgentType `json:"sender,omitempty"`
}

// WithSender returns a copy of the context with the sender replaced. Agents
// stamp themselves before forwarding so downstream logs show provenance.
func (mc MessageContext) WithSender(sender AgentType) MessageContext {
	mc.Sender = sender
	return mc
}

// Message is the bus envelope: a typed payload plus routing metadata.
type Message struct {
	ID        string
	Topic     TopicType
	Context   MessageContext
	Payload   Payload
	CreatedAt time.Time
}

// NewMessage builds a message for the given topic.
func NewMessage(topic TopicType, mc MessageContext, payload Payload) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Context:   mc,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// messageEnvelope is the wire form of a Message. The payload travels as raw
// JSON next to its type tag so the sealed variant can be reconstructed.
type messageEnvelope struct {
	ID        string          `json:"id"`
	Topic     TopicType       `json:"topic"`
	Context   MessageContext  `json:"context"`
	Type      PayloadType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// MarshalJSON encodes the message with an explicit payload type tag.
func (m *Message) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload %s: %w", m.Payload.payloadType(), err)
	}
	return json.Marshal(messageEnvelope{
		ID:        m.ID,
		Topic:     m.Topic,
		Context:   m.Context,
		Type:      m.Payload.payloadType(),
		Payload:   raw,
		CreatedAt: m.CreatedAt,
	})
}

// UnmarshalJSON decodes the envelope and rebuilds the typed payload from the
// type tag. Unknown payload types are an error: the variant set is closed.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	payload, err := newPayload(env.Type)
	if err != nil {
		return err
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return fmt.Errorf("unmarshal payload %s: %w", env.Type, err)
		}
	}
	m.ID = env.ID
	m.Topic = env.Topic
	m.Context = env.Context
	m.Payload = payload
	m.CreatedAt = env.CreatedAt
	return nil
}
