package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

// Inbound, client to server.
const (
	EventSend              EventType = "send"
	EventTypingStart       EventType = "typing-start"
	EventTypingStop        EventType = "typing-stop"
	EventRead              EventType = "read"
	EventSubscribePresence EventType = "subscribe-presence"
)

// Outbound, server to client.
const (
	EventSent             EventType = "sent"
	EventReceive          EventType = "receive"
	EventMessagesRead     EventType = "messages-read"
	EventTyping           EventType = "typing"
	EventStopTyping       EventType = "stop-typing"
	EventUserOnline       EventType = "user:online"
	EventUserOffline      EventType = "user:offline"
	EventPresenceSnapshot EventType = "presence:snapshot"
	EventError            EventType = "error"
)

// Inbound reports whether clients may emit the event.
func (t EventType) Inbound() bool {
	switch t {
	case EventSend, EventTypingStart, EventTypingStop, EventRead, EventSubscribePresence:
		return true
	}
	return false
}

// Frame is one JSON text frame on the live connection.
type Frame struct {
	Type      EventType       `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame of the given type.
func NewFrame(t EventType, payload any) (Frame, error) {
	f := Frame{Type: t}
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	f.Payload = raw
	return f, nil
}

// Decode unmarshals the payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "missing"}
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}

type SendPayload struct {
	ReceiverID      UserID `json:"receiver_id" validate:"required,max=128"`
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id,omitempty" validate:"max=128"`
}

type TypingPayload struct {
	ReceiverID UserID `json:"receiver_id" validate:"required,max=128"`
}

type ReadPayload struct {
	SenderID UserID `json:"sender_id" validate:"required,max=128"`
}

type SubscribePresencePayload struct {
	UserIDs []UserID `json:"user_ids,omitempty" validate:"max=500,dive,required"`
}

type SentPayload struct {
	Message         Message `json:"message"`
	ClientMessageID string  `json:"client_message_id,omitempty"`
}

type ReceivePayload struct {
	Message Message `json:"message"`
}

type MessagesReadPayload struct {
	ReaderID UserID    `json:"reader_id"`
	Count    int       `json:"count"`
	ReadAt   time.Time `json:"read_at"`
}

type TypingEventPayload struct {
	UserID UserID `json:"user_id"`
	Name   string `json:"name"`
	TTLMs  int64  `json:"ttl_ms"`
}

type UserPayload struct {
	UserID UserID `json:"user_id"`
}

type PresenceSnapshotPayload struct {
	Online []UserID `json:"online"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
