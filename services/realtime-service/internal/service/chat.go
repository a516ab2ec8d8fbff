package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/domain"
	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
	"github.com/lexora/legal-marketplace-api/shared/metrics"
)

type chatService struct {
	messages  domain.MessageStore
	pusher    domain.Pusher
	publisher domain.EventPublisher

	log     *logging.Logger
	metrics *metrics.Metrics
}

func NewChatService(
	messages domain.MessageStore,
	pusher domain.Pusher,
	publisher domain.EventPublisher,
	log *logging.Logger,
	m *metrics.Metrics,
) domain.ChatService {
	return &chatService{
		messages:  messages,
		pusher:    pusher,
		publisher: publisher,
		log:       log,
		metrics:   m,
	}
}

// Handle persists the message, then attempts a best-effort push to the
// recipient's live connection. Persistence failures are returned to the
// caller; push failures are not — once the record is durable the contract
// holds, and an offline recipient discovers the message via history fetch.
func (s *chatService) Handle(ctx context.Context, senderID, recipientID domain.UserID, text string) (*domain.ChatMessage, bool, error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, domain.ErrEmptyContent
	}

	msg, err := s.messages.CreateMessage(ctx, senderID, recipientID, text)
	if err != nil {
		return nil, false, fmt.Errorf("failed to persist chat message: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishMessageCreated(ctx, msg); err != nil {
			s.log.WithError(err).WithField("message_id", msg.ID).Warn("failed to publish message_created event")
		}
	}

	push := contracts.MustEnvelope(contracts.EventMessageReceived, contracts.MessageReceivedPayload{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt.UnixMilli(),
	})
	delivered := s.pusher.SendToUser(recipientID, push)

	if s.metrics != nil {
		result := "offline"
		if delivered {
			result = "delivered"
		}
		s.metrics.DeliveriesTotal.WithLabelValues(contracts.EventMessageReceived, result).Inc()
	}

	return msg, delivered, nil
}
