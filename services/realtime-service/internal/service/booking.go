package service

import (
	"context"
	"fmt"

	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/domain"
	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
	"github.com/lexora/legal-marketplace-api/shared/metrics"
)

type bookingService struct {
	bookings  domain.BookingStore
	pusher    domain.Pusher
	publisher domain.EventPublisher

	log     *logging.Logger
	metrics *metrics.Metrics
}

func NewBookingService(
	bookings domain.BookingStore,
	pusher domain.Pusher,
	publisher domain.EventPublisher,
	log *logging.Logger,
	m *metrics.Metrics,
) domain.BookingService {
	return &bookingService{
		bookings:  bookings,
		pusher:    pusher,
		publisher: publisher,
		log:       log,
		metrics:   m,
	}
}

// Handle authorizes the transition before touching storage: only the
// booking's client or provider may change its status. The counterparty is
// notified best-effort when online.
func (s *bookingService) Handle(ctx context.Context, actorID domain.UserID, bookingID domain.BookingID, status domain.BookingStatus) (*domain.Booking, bool, error) {
	if !status.Valid() {
		return nil, false, domain.ErrInvalidStatus
	}

	booking, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, false, err
	}
	if !booking.IsParticipant(actorID) {
		return nil, false, domain.ErrNotParticipant
	}

	updated, err := s.bookings.UpdateBookingStatus(ctx, bookingID, status)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update booking status: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBookingStatusChanged(ctx, updated, actorID); err != nil {
			s.log.WithError(err).WithField("booking_id", updated.ID).Warn("failed to publish booking_status_changed event")
		}
	}

	push := contracts.MustEnvelope(contracts.EventBookingUpdated, contracts.BookingUpdatedPayload{
		BookingID: updated.ID,
		Status:    string(updated.Status),
		UpdatedAt: updated.UpdatedAt,
	})
	delivered := s.pusher.SendToUser(updated.Counterparty(actorID), push)

	if s.metrics != nil {
		result := "offline"
		if delivered {
			result = "delivered"
		}
		s.metrics.DeliveriesTotal.WithLabelValues(contracts.EventBookingUpdated, result).Inc()
	}

	return updated, delivered, nil
}
