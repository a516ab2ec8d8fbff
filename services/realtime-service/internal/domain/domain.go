package domain

import (
	"context"
	"time"

	"github.com/lexora/legal-marketplace-api/shared/contracts"
)

type UserID = string
type MessageID = string
type BookingID = string

// ChatMessage is the persisted chat record. It is created before any delivery
// attempt, so the message exists even when the recipient is offline. Read
// stays false until the receiver opens the conversation.
type ChatMessage struct {
	ID         MessageID
	SenderID   UserID
	ReceiverID UserID
	Content    string
	Read       bool
	CreatedAt  time.Time
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingDeclined  BookingStatus = "declined"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Valid reports whether the status is part of the closed set.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingAccepted, BookingDeclined, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

// Booking is a service booking between a client and a provider. The record is
// owned by the marketplace schema; this service only authorizes and persists
// status transitions.
type Booking struct {
	ID         BookingID
	ClientID   UserID
	ProviderID UserID
	Status     BookingStatus
	UpdatedAt  time.Time
}

// IsParticipant reports whether userID is the booking's client or provider.
func (b *Booking) IsParticipant(userID UserID) bool {
	return userID == b.ClientID || userID == b.ProviderID
}

// Counterparty returns the other party of the booking relative to userID.
func (b *Booking) Counterparty(userID UserID) UserID {
	if userID == b.ProviderID {
		return b.ClientID
	}
	return b.ProviderID
}

// MessageStore persists chat messages and the conversation read state.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, receiverID UserID, content string) (*ChatMessage, error)
	ListConversation(ctx context.Context, userA, userB UserID, limit int) ([]*ChatMessage, error)
	MarkConversationRead(ctx context.Context, readerID, otherID UserID) (int64, error)
	UnreadCount(ctx context.Context, userID UserID) (int64, error)
}

// BookingStore reads bookings and persists status transitions.
type BookingStore interface {
	GetBookingByID(ctx context.Context, id BookingID) (*Booking, error)
	UpdateBookingStatus(ctx context.Context, id BookingID, status BookingStatus) (*Booking, error)
}

// PresenceStore tracks which users are currently reachable so the REST layer
// can answer presence queries without touching the connection registry.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID UserID, ttl time.Duration) error
	SetOffline(ctx context.Context, userID UserID) error
	IsOnline(ctx context.Context, userID UserID) (bool, error)
}

// Pusher delivers envelopes to live connections. SendToUser reports whether a
// live connection accepted the envelope; delivery is best-effort either way.
type Pusher interface {
	SendToUser(userID UserID, env contracts.Envelope) bool
	Broadcast(env contracts.Envelope)
}

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	PublishMessageCreated(ctx context.Context, msg *ChatMessage) error
	PublishBookingStatusChanged(ctx context.Context, booking *Booking, actorID UserID) error
}

// ChatService persists a chat message and pushes it to the recipient when
// online. The returned bool reports whether a live push was accepted.
type ChatService interface {
	Handle(ctx context.Context, senderID, recipientID UserID, text string) (*ChatMessage, bool, error)
}

// BookingService authorizes and persists a status transition, then notifies
// the counterparty when online.
type BookingService interface {
	Handle(ctx context.Context, actorID UserID, bookingID BookingID, status BookingStatus) (*Booking, bool, error)
}
