package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/domain"
	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
	"github.com/lexora/legal-marketplace-api/shared/messaging"
	"github.com/lexora/legal-marketplace-api/shared/metrics"
	"github.com/lexora/legal-marketplace-api/shared/resilience"
)

const serviceName = "realtime-service"

// MessageCreatedEvent is published when a chat message is persisted.
type MessageCreatedEvent struct {
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// BookingStatusChangedEvent is published when a booking transitions state.
type BookingStatusChangedEvent struct {
	BookingID  string    `json:"booking_id"`
	ClientID   string    `json:"client_id"`
	ProviderID string    `json:"provider_id"`
	Status     string    `json:"status"`
	ChangedBy  string    `json:"changed_by"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Publisher emits domain events to AMQP. A nil client disables publishing so
// the realtime plane keeps working when the broker is down.
type Publisher struct {
	client contracts.AMQPClient
	retry  *resilience.RetryConfig

	log     *logging.Logger
	metrics *metrics.Metrics
}

func NewPublisher(client contracts.AMQPClient, log *logging.Logger, m *metrics.Metrics) domain.EventPublisher {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.MaxDelay = time.Second

	return &Publisher{
		client:  client,
		retry:   retry,
		log:     log,
		metrics: m,
	}
}

func (p *Publisher) PublishMessageCreated(ctx context.Context, msg *domain.ChatMessage) error {
	event := MessageCreatedEvent{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}
	return p.publish(ctx, contracts.ChatExchange, contracts.MessageCreatedKey, event)
}

func (p *Publisher) PublishBookingStatusChanged(ctx context.Context, booking *domain.Booking, actorID domain.UserID) error {
	event := BookingStatusChangedEvent{
		BookingID:  booking.ID,
		ClientID:   booking.ClientID,
		ProviderID: booking.ProviderID,
		Status:     string(booking.Status),
		ChangedBy:  actorID,
		UpdatedAt:  booking.UpdatedAt,
	}
	return p.publish(ctx, contracts.BookingsExchange, contracts.BookingStatusChangedKey, event)
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, event interface{}) error {
	if p.client == nil {
		p.log.WithField("routing_key", routingKey).Debug("amqp disabled, skipping event publish")
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", routingKey, err)
	}

	amqpMsg := contracts.AMQPMessage{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Body:       body,
		Headers: map[string]interface{}{
			"event_type":   routingKey,
			"schema":       "v1",
			"published_at": time.Now().UTC().Format(time.RFC3339),
			"service":      serviceName,
		},
	}

	err = resilience.RetryWithConfig(ctx, p.retry, func(ctx context.Context) error {
		return p.client.Publish(ctx, amqpMsg)
	})

	if p.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		p.metrics.EventsPublished.WithLabelValues(routingKey, result).Inc()
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", routingKey, err)
	}
	return nil
}

// Topology describes the exchanges, queues and bindings this service
// declares on startup.
func Topology() ([]messaging.ExchangeConfig, []messaging.QueueConfig, []messaging.BindingConfig) {
	exchanges := []messaging.ExchangeConfig{
		{Name: contracts.ChatExchange, Type: "topic", Durable: true},
		{Name: contracts.BookingsExchange, Type: "topic", Durable: true},
	}
	queues := []messaging.QueueConfig{
		{Name: contracts.ChatMessageCreatedQueue, Durable: true},
		{Name: contracts.BookingStatusChangedQueue, Durable: true},
	}
	bindings := []messaging.BindingConfig{
		{
			QueueName:    contracts.ChatMessageCreatedQueue,
			ExchangeName: contracts.ChatExchange,
			RoutingKey:   contracts.MessageCreatedKey,
		},
		{
			QueueName:    contracts.BookingStatusChangedQueue,
			ExchangeName: contracts.BookingsExchange,
			RoutingKey:   contracts.BookingStatusChangedKey,
		},
	}
	return exchanges, queues, bindings
}
