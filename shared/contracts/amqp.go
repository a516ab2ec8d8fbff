package contracts

import (
	"context"
)

// AMQPMessage represents a message to be published to AMQP
type AMQPMessage struct {
	Exchange   string                 `json:"exchange"`
	RoutingKey string                 `json:"routing_key"`
	Body       []byte                 `json:"body"`
	Headers    map[string]interface{} `json:"headers,omitempty"`
}

// AMQPClient defines the interface for AMQP operations
type AMQPClient interface {
	// Publish publishes a message to the specified exchange
	Publish(ctx context.Context, message AMQPMessage) error

	// Close closes the AMQP connection
	Close() error
}

// Exchange names - configurable constants
const (
	ChatExchange     = "chat.events"
	BookingsExchange = "bookings.events"
)

// Queue names - configurable constants
const (
	// Chat queues
	ChatMessageCreatedQueue = "notifications.chat.message_created"

	// Booking queues
	BookingStatusChangedQueue = "notifications.bookings.status_changed"
)

// Routing keys - configurable constants
const (
	// Chat routing keys
	MessageCreatedKey = "message.created"

	// Booking routing keys
	BookingStatusChangedKey = "booking.status_changed"
)
