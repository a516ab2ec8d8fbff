package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried in Envelope.Type. The set is closed: the router logs
// and ignores anything else.
const (
	// Client -> server
	EventChatMessage         = "chat_message"
	EventBookingStatusUpdate = "booking_status_update"
	EventPing                = "ping"
	EventPong                = "pong"

	// Server -> client
	EventConnect         = "connect"
	EventMessageReceived = "message_received"
	EventMessageSent     = "message_sent"
	EventMessageFailed   = "message_failed"
	EventBookingUpdated  = "booking_updated"
	EventError           = "error"
)

// Envelope is the wire unit exchanged over /ws. Data stays raw so the router
// can dispatch on Type before committing to a payload shape. Timestamp is the
// sender's clock in milliseconds and is never trusted for ordering.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// NewEnvelope builds an envelope with the payload marshalled in place and the
// timestamp set to the current server time.
func NewEnvelope(eventType string, data any) (Envelope, error) {
	env := Envelope{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		env.Data = raw
	}
	return env, nil
}

// MustEnvelope is NewEnvelope for payloads built from plain structs, which
// cannot fail to marshal.
func MustEnvelope(eventType string, data any) Envelope {
	env, err := NewEnvelope(eventType, data)
	if err != nil {
		panic(err)
	}
	return env
}

// ChatMessagePayload is the client payload of a chat_message envelope.
type ChatMessagePayload struct {
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
}

// BookingStatusPayload is the client payload of a booking_status_update envelope.
type BookingStatusPayload struct {
	BookingID string `json:"bookingId"`
	Status    string `json:"status"`
}

// ConnectPayload is sent once right after a successful upgrade.
type ConnectPayload struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// MessageReceivedPayload is pushed to the recipient of a chat message.
type MessageReceivedPayload struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// MessageSentPayload acknowledges a persisted chat message to its sender.
// Delivered reports whether the recipient had a live connection.
type MessageSentPayload struct {
	MessageID string `json:"messageId"`
	Delivered bool   `json:"delivered"`
}

// BookingUpdatedPayload notifies the counterparty of a status transition.
type BookingUpdatedPayload struct {
	BookingID string    `json:"bookingId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ErrorPayload carries error text for error and message_failed envelopes.
type ErrorPayload struct {
	Message string `json:"message"`
}
