package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/auth"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/domain"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/hub"
	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
	"github.com/lexora/legal-marketplace-api/shared/metrics"
)

// ServerConfig tunes the websocket endpoint.
type ServerConfig struct {
	ReadLimit   int64         // max inbound frame size in bytes
	FrameRate   float64       // sustained inbound frames per second per connection
	FrameBurst  int           // burst allowance on top of FrameRate
	PresenceTTL time.Duration // presence key lifetime, normally two heartbeat intervals
}

// DefaultServerConfig returns the defaults used when a field is zero.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadLimit:   32 * 1024,
		FrameRate:   20,
		FrameBurst:  40,
		PresenceTTL: 2 * hub.DefaultHeartbeatInterval,
	}
}

// Server owns the /ws upgrade endpoint. Every client presents a session
// token on the upgrade request; a bare user id is not accepted.
type Server struct {
	registry *hub.Registry
	router   *Router
	verifier *auth.Verifier
	presence domain.PresenceStore
	upgrader websocket.Upgrader
	cfg      ServerConfig

	log     *logging.Logger
	metrics *metrics.Metrics
}

func NewServer(
	registry *hub.Registry,
	router *Router,
	verifier *auth.Verifier,
	presence domain.PresenceStore,
	cfg ServerConfig,
	log *logging.Logger,
	m *metrics.Metrics,
) *Server {
	def := DefaultServerConfig()
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = def.FrameBurst
	}
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = def.PresenceTTL
	}

	return &Server{
		registry: registry,
		router:   router,
		verifier: verifier,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser and mobile clients connect from app origins; the token
			// check is the actual gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cfg:     cfg,
		log:     log,
		metrics: m,
	}
}

// HandleWS authenticates and upgrades the request, registers the connection
// and starts its read loop.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := s.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		s.log.WithError(err).Debug("rejected websocket upgrade")
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.log.WithError(err).WithField("user_id", userID).Warn("websocket upgrade failed")
		return
	}

	c := hub.NewConn(userID, sock, s.log)
	s.registry.Register(c)
	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
	}
	s.setOnline(r.Context(), userID)

	welcome := contracts.MustEnvelope(contracts.EventConnect, contracts.ConnectPayload{
		UserID:  userID,
		Message: "connected",
	})
	_ = c.Send(welcome)

	s.log.WithField("user_id", userID).Info("websocket connected")
	go s.readLoop(c, sock)
}

func (s *Server) readLoop(c hub.Conn, sock *websocket.Conn) {
	defer func() {
		c.Close()
		// Release only removes c if it is still the registered connection;
		// the teardown of a superseded connection must not mark the
		// reconnected user offline.
		if s.registry.Release(c) {
			s.setOffline(c.UserID())
			s.log.WithField("user_id", c.UserID()).Info("websocket disconnected")
		}
	}()

	sock.SetReadLimit(s.cfg.ReadLimit)
	limiter := rate.NewLimiter(rate.Limit(s.cfg.FrameRate), s.cfg.FrameBurst)

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).WithField("user_id", c.UserID()).Debug("read loop terminated")
			}
			return
		}

		if !limiter.Allow() {
			if s.metrics != nil {
				s.metrics.FramesRejected.WithLabelValues("rate_limited").Inc()
			}
			errEnv := contracts.MustEnvelope(contracts.EventError,
				contracts.ErrorPayload{Message: "rate limit exceeded"})
			_ = c.Send(errEnv)
			continue
		}

		s.router.HandleFrame(context.Background(), c, raw)
	}
}

func (s *Server) setOnline(ctx context.Context, userID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetOnline(ctx, userID, s.cfg.PresenceTTL); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Debug("failed to set presence")
	}
}

func (s *Server) setOffline(userID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetOffline(context.Background(), userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Debug("failed to clear presence")
	}
}
