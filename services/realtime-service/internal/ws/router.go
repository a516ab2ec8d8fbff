package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/domain"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/hub"
	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
	"github.com/lexora/legal-marketplace-api/shared/metrics"
	"github.com/lexora/legal-marketplace-api/shared/recovery"
)

// Router dispatches inbound frames by envelope type. One bad frame is never
// fatal: decode failures are answered with an error envelope and the
// connection stays open and registered.
type Router struct {
	chat        domain.ChatService
	bookings    domain.BookingService
	presence    domain.PresenceStore
	presenceTTL time.Duration

	panics  *recovery.PanicHandler
	log     *logging.Logger
	metrics *metrics.Metrics
}

func NewRouter(
	chat domain.ChatService,
	bookings domain.BookingService,
	presence domain.PresenceStore,
	presenceTTL time.Duration,
	panics *recovery.PanicHandler,
	log *logging.Logger,
	m *metrics.Metrics,
) *Router {
	return &Router{
		chat:        chat,
		bookings:    bookings,
		presence:    presence,
		presenceTTL: presenceTTL,
		panics:      panics,
		log:         log,
		metrics:     m,
	}
}

// HandleFrame processes one inbound frame. Nothing a sub-handler does —
// including panicking — propagates to the transport layer.
func (rt *Router) HandleFrame(ctx context.Context, c hub.Conn, raw []byte) {
	if rt.panics.Guard("router", func() { rt.dispatch(ctx, c, raw) }) {
		if rt.metrics != nil {
			rt.metrics.PanicsRecovered.Inc()
		}
		rt.sendError(c, "", "internal error")
	}
}

func (rt *Router) dispatch(ctx context.Context, c hub.Conn, raw []byte) {
	var env contracts.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		rt.countRejected("decode")
		rt.sendError(c, "", "Invalid message format")
		return
	}

	if rt.metrics != nil {
		rt.metrics.FramesTotal.WithLabelValues(env.Type).Inc()
	}

	switch env.Type {
	case contracts.EventChatMessage:
		rt.handleChatMessage(ctx, c, env)
	case contracts.EventBookingStatusUpdate:
		rt.handleBookingStatus(ctx, c, env)
	case contracts.EventPing:
		pong := contracts.MustEnvelope(contracts.EventPong, nil)
		pong.RequestID = env.RequestID
		_ = c.Send(pong)
	case contracts.EventPong:
		c.SetAlive(true)
		rt.refreshPresence(ctx, c.UserID())
	default:
		rt.log.WithFields(map[string]interface{}{
			"type":    env.Type,
			"user_id": c.UserID(),
		}).Debug("ignoring unknown envelope type")
	}
}

func (rt *Router) handleChatMessage(ctx context.Context, c hub.Conn, env contracts.Envelope) {
	var payload contracts.ChatMessagePayload
	if env.Data == nil || json.Unmarshal(env.Data, &payload) != nil ||
		payload.RecipientID == "" || payload.Text == "" {
		// Missing recipient or text is a logged no-op, not an error reply.
		rt.countRejected("chat_payload")
		rt.log.WithField("user_id", c.UserID()).Debug("dropping chat_message with incomplete payload")
		return
	}

	msg, delivered, err := rt.chat.Handle(ctx, c.UserID(), payload.RecipientID, payload.Text)
	if err != nil {
		rt.countError("chat")
		rt.log.WithError(err).WithField("user_id", c.UserID()).Error("failed to handle chat message")
		rt.sendError(c, env.RequestID, "failed to send message")
		failed := contracts.MustEnvelope(contracts.EventMessageFailed,
			contracts.ErrorPayload{Message: "failed to send message"})
		failed.RequestID = env.RequestID
		_ = c.Send(failed)
		return
	}

	ack := contracts.MustEnvelope(contracts.EventMessageSent, contracts.MessageSentPayload{
		MessageID: msg.ID,
		Delivered: delivered,
	})
	ack.RequestID = env.RequestID
	_ = c.Send(ack)
}

func (rt *Router) handleBookingStatus(ctx context.Context, c hub.Conn, env contracts.Envelope) {
	var payload contracts.BookingStatusPayload
	if env.Data == nil || json.Unmarshal(env.Data, &payload) != nil ||
		payload.BookingID == "" || payload.Status == "" {
		rt.countRejected("booking_payload")
		rt.log.WithField("user_id", c.UserID()).Debug("dropping booking_status_update with incomplete payload")
		return
	}

	_, _, err := rt.bookings.Handle(ctx, c.UserID(), payload.BookingID, domain.BookingStatus(payload.Status))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrBookingNotFound), errors.Is(err, domain.ErrNotParticipant):
		// Silent drop: an unauthorized sender must not learn whether the
		// booking exists.
		rt.log.WithFields(map[string]interface{}{
			"user_id":    c.UserID(),
			"booking_id": payload.BookingID,
		}).Debug("dropping unauthorized booking update")
	case errors.Is(err, domain.ErrInvalidStatus):
		rt.sendError(c, env.RequestID, "invalid booking status")
	default:
		rt.countError("booking")
		rt.log.WithError(err).WithField("user_id", c.UserID()).Error("failed to handle booking update")
		rt.sendError(c, env.RequestID, "failed to update booking")
	}
}

func (rt *Router) refreshPresence(ctx context.Context, userID string) {
	if rt.presence == nil {
		return
	}
	if err := rt.presence.SetOnline(ctx, userID, rt.presenceTTL); err != nil {
		rt.log.WithError(err).WithField("user_id", userID).Debug("failed to refresh presence")
	}
}

func (rt *Router) sendError(c hub.Conn, requestID, message string) {
	env := contracts.MustEnvelope(contracts.EventError, contracts.ErrorPayload{Message: message})
	env.RequestID = requestID
	_ = c.Send(env)
}

func (rt *Router) countRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.FramesRejected.WithLabelValues(reason).Inc()
	}
}

func (rt *Router) countError(component string) {
	if rt.metrics != nil {
		rt.metrics.ErrorsTotal.WithLabelValues(component).Inc()
	}
}
